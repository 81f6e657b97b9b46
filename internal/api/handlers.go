package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/httputil"
)

// Move is one move command on the wire. Duration is in seconds.
type Move struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Speed    float64 `json:"speed"`
	Duration float64 `json:"duration"`
}

// MoveRequest is the body of POST /api/move.
type MoveRequest struct {
	Moves []Move `json:"moves"`
}

// MoveResponse reports how much of a move batch was applied.
type MoveResponse struct {
	Applied  int               `json:"applied"`
	Ignored  int               `json:"ignored"`
	Setpoint aggregator.Sample `json:"setpoint"`
}

// ArmRequest is the body of POST /api/arm.
type ArmRequest struct {
	Armed bool `json:"armed"`
}

// AltitudeHoldRequest is the body of POST /api/altitude-hold.
type AltitudeHoldRequest struct {
	Enabled bool `json:"enabled"`
}

// CalibrateRequest is the body of POST /api/calibrate.
type CalibrateRequest struct {
	Start bool `json:"start"`
}

func (m Move) command() (aggregator.MoveCommand, bool) {
	secs := m.Duration * float64(time.Second)
	if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > math.MaxInt64 {
		return aggregator.MoveCommand{}, false
	}
	return aggregator.MoveCommand{
		X:        m.X,
		Y:        m.Y,
		Z:        m.Z,
		Speed:    m.Speed,
		Duration: time.Duration(secs),
	}, true
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req MoveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(req.Moves) == 0 {
		httputil.BadRequest(w, "no moves given")
		return
	}

	cmds := make([]aggregator.MoveCommand, 0, len(req.Moves))
	for _, m := range req.Moves {
		cmd, ok := m.command()
		if !ok {
			httputil.BadRequest(w, "invalid move duration")
			return
		}
		cmds = append(cmds, cmd)
	}

	ignored, err := s.pilot.Move(cmds)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if ignored > 0 {
		logf("applied first of %d moves", len(cmds))
	}
	httputil.WriteJSONOK(w, MoveResponse{
		Applied:  len(cmds) - ignored,
		Ignored:  ignored,
		Setpoint: s.pilot.Status().Desired,
	})
}

func (s *Server) handleAttitude(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var cmd aggregator.AttitudeCommand
	if err := httputil.DecodeJSON(r, &cmd); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for _, v := range []float64{cmd.Height, cmd.Roll, cmd.Pitch, cmd.Yaw} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			httputil.BadRequest(w, "attitude values must be finite")
			return
		}
	}
	if err := s.pilot.SetAttitude(cmd); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.pilot.Status().Desired)
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req ArmRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.pilot.Arm(req.Armed); err != nil {
		writeCommandError(w, err)
		return
	}
	// the state changes once the board confirms
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"requested": req.Armed, "state": s.pilot.Status().State})
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req CalibrateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.pilot.Calibrate(req.Start); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"requested": req.Start, "state": s.pilot.Status().State})
}

func (s *Server) handleAltitudeHold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req AltitudeHoldRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.pilot.AltitudeHold(req.Enabled); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"requested": req.Enabled})
}

// handleStates streams system state transitions as Server-Sent Events. The
// first event carries the current state with an empty "from".
func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}
	states, cancel := s.pilot.SubscribeStates()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(tr flight.Transition) bool {
		b, err := json.Marshal(tr)
		if err != nil {
			logf("encode transition: %v", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(flight.Transition{Time: time.Now(), State: s.pilot.Status().State}) {
		return
	}
	for {
		select {
		case tr, ok := <-states:
			if !ok || !send(tr) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.pilot.Status())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.rec == nil {
		httputil.NotFound(w, "recording disabled")
		return
	}
	sessions, err := s.rec.Sessions()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) handleSessionSamples(w http.ResponseWriter, r *http.Request) {
	if s.rec == nil {
		httputil.NotFound(w, "recording disabled")
		return
	}
	samples, err := s.rec.Samples(r.PathValue("id"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, samples)
}

func (s *Server) handleSessionMotors(w http.ResponseWriter, r *http.Request) {
	if s.rec == nil {
		httputil.NotFound(w, "recording disabled")
		return
	}
	cmds, err := s.rec.MotorCommands(r.PathValue("id"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, cmds)
}
