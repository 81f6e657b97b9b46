// Package api serves the upstream setpoint API: move and attitude
// commands, arming, calibration, status and a stream of system state
// transitions.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/db"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/httputil"
	"github.com/banshee-data/qphone/internal/monitoring"
	"github.com/banshee-data/qphone/internal/serialmux"
)

var logf = monitoring.Prefixed("api")

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Autopilot is the flight core as seen by the API.
type Autopilot interface {
	Arm(armed bool) error
	Calibrate(start bool) error
	Move(cmds []aggregator.MoveCommand) (ignored int, err error)
	SetAttitude(cmd aggregator.AttitudeCommand) error
	AltitudeHold(enabled bool) error
	Status() flight.Status
	SubscribeStates() (<-chan flight.Transition, func())
}

// Recordings gives read access to recorded sessions.
type Recordings interface {
	Sessions() ([]db.Session, error)
	Samples(sessionID string) ([]aggregator.Sample, error)
	MotorCommands(sessionID string) ([]db.MotorCommand, error)
}

type Server struct {
	pilot Autopilot
	rec   Recordings
}

// NewServer returns a server driving pilot. rec may be nil, in which case the
// session routes report 404.
func NewServer(pilot Autopilot, rec Recordings) *Server {
	return &Server{pilot: pilot, rec: rec}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/move", s.handleMove)
	mux.HandleFunc("/api/attitude", s.handleAttitude)
	mux.HandleFunc("/api/arm", s.handleArm)
	mux.HandleFunc("/api/calibrate", s.handleCalibrate)
	mux.HandleFunc("/api/altitude-hold", s.handleAltitudeHold)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("GET /api/states", s.handleStates)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/samples", s.handleSessionSamples)
	mux.HandleFunc("GET /api/sessions/{id}/motors", s.handleSessionMotors)
	return mux
}

// writeCommandError maps a failed board command to a response.
func writeCommandError(w http.ResponseWriter, err error) {
	if errors.Is(err, serialmux.ErrQueueFull) {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}
