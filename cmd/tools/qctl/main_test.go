package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/qphone/internal/api"
	"github.com/banshee-data/qphone/internal/httputil"
)

// recordingAPI answers every request with an empty JSON object and keeps the
// method, path and body of each.
type recordingAPI struct {
	calls []string
}

func (r *recordingAPI) client() *api.Client {
	return api.NewClient("http://pilot", httputil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
		}
		r.calls = append(r.calls, req.Method+" "+req.URL.Path+" "+string(body))
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{}`)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}))
}

func TestRun(t *testing.T) {
	tests := []struct {
		args     []string
		wantPath string
		wantBody map[string]any
	}{
		{[]string{"arm"}, "POST /api/arm", map[string]any{"armed": true}},
		{[]string{"disarm"}, "POST /api/arm", map[string]any{"armed": false}},
		{[]string{"calibrate"}, "POST /api/calibrate", map[string]any{"start": true}},
		{[]string{"calibrate", "stop"}, "POST /api/calibrate", map[string]any{"start": false}},
		{[]string{"move", "0", "0", "1", "0.5", "2"}, "POST /api/move", map[string]any{
			"moves": []any{map[string]any{"x": 0.0, "y": 0.0, "z": 1.0, "speed": 0.5, "duration": 2.0}},
		}},
		{[]string{"attitude", "40", "1.5", "0", "0.1", "0"}, "POST /api/attitude", map[string]any{
			"throttle": 40.0, "height": 1.5, "roll": 0.0, "pitch": 0.1, "yaw": 0.0,
		}},
		{[]string{"status"}, "GET /api/status", nil},
		{[]string{"hold", "on"}, "POST /api/altitude-hold", map[string]any{"enabled": true}},
		{[]string{"hold", "off"}, "POST /api/altitude-hold", map[string]any{"enabled": false}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			rec := &recordingAPI{}
			var out bytes.Buffer
			require.NoError(t, run(context.Background(), rec.client(), tt.args, &out))
			require.Len(t, rec.calls, 1)

			parts := strings.SplitN(rec.calls[0], " ", 3)
			assert.Equal(t, tt.wantPath, parts[0]+" "+parts[1])
			if tt.wantBody == nil {
				assert.Empty(t, parts[2])
				return
			}
			var got map[string]any
			require.NoError(t, json.Unmarshal([]byte(parts[2]), &got))
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestRun_BadArgs(t *testing.T) {
	rec := &recordingAPI{}
	for _, args := range [][]string{
		nil,
		{"hover"},
		{"move", "1", "2"},
		{"move", "a", "0", "0", "1", "1"},
		{"attitude", "300", "0", "0", "0", "0"},
		{"hold"},
		{"hold", "maybe"},
	} {
		assert.Error(t, run(context.Background(), rec.client(), args, io.Discard), args)
	}
	assert.Empty(t, rec.calls)
}

func TestRun_Watch(t *testing.T) {
	stream := ": ping\n\n" +
		`data: {"time":"2026-06-01T00:00:00Z","from":"","state":"disarmed"}` + "\n\n" +
		`data: {"time":"2026-06-01T00:00:01Z","from":"disarmed","state":"armed"}` + "\n\n"
	c := api.NewClient("http://pilot", httputil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/api/states", req.URL.Path)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(stream)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, []string{"watch"}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"state":"disarmed"`)
	assert.Contains(t, lines[1], `"from":"disarmed"`)
	assert.Contains(t, lines[1], `"state":"armed"`)
}
