package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/httputil"
)

// Client talks to a running autopilot's API.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the autopilot at base, e.g.
// "http://phone.local:8080". A nil hc uses http.DefaultClient.
func NewClient(base string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimSuffix(base, "/"), http: hc}
}

// Move sends a move batch.
func (c *Client) Move(ctx context.Context, moves ...Move) (MoveResponse, error) {
	var resp MoveResponse
	err := c.do(ctx, http.MethodPost, "/api/move", MoveRequest{Moves: moves}, &resp)
	return resp, err
}

// SetAttitude sends an attitude setpoint.
func (c *Client) SetAttitude(ctx context.Context, cmd aggregator.AttitudeCommand) error {
	return c.do(ctx, http.MethodPost, "/api/attitude", cmd, nil)
}

// Arm requests flight mode on or off.
func (c *Client) Arm(ctx context.Context, armed bool) error {
	return c.do(ctx, http.MethodPost, "/api/arm", ArmRequest{Armed: armed}, nil)
}

// Calibrate starts or stops sensor calibration.
func (c *Client) Calibrate(ctx context.Context, start bool) error {
	return c.do(ctx, http.MethodPost, "/api/calibrate", CalibrateRequest{Start: start}, nil)
}

// AltitudeHold toggles the board's altitude hold.
func (c *Client) AltitudeHold(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPost, "/api/altitude-hold", AltitudeHoldRequest{Enabled: enabled}, nil)
}

// WatchStates calls fn with every system state event until the stream ends,
// ctx is done or fn returns an error. The first event is the current state.
func (c *Client) WatchStates(ctx context.Context, fn func(flight.Transition) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/states", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /api/states: %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var tr flight.Transition
		if err := json.Unmarshal([]byte(data), &tr); err != nil {
			return fmt.Errorf("decode state event: %w", err)
		}
		if err := fn(tr); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// Status fetches the autopilot status.
func (c *Client) Status(ctx context.Context) (flight.Status, error) {
	var st flight.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
