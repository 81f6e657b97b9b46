package serialmux

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/qphone/internal/qcfp"
	"github.com/banshee-data/qphone/internal/timeutil"
)

// Ticks the simulated board spends in transitional states.
const (
	simFlightModeDelay  = 5
	simCalibrationTicks = 10
)

// SimulatedBoard is an in-process stand-in for the flight control board used in
// dev mode and tests. It answers flight mode, calibration and debug packets,
// applies raw motor speeds (or the throttle setpoint until the first raw motor
// packet) to a crude vertical and tilt model, holds altitude on request, and
// emits async sensor frames on every tick of Run.
type SimulatedBoard struct {
	clock  timeutil.Clock
	period time.Duration
	start  time.Time
	parser *qcfp.Parser

	mu     sync.Mutex
	cond   *sync.Cond
	rx     bytes.Buffer
	closed bool

	flightMode       byte
	flightModeTicks  int
	calibration      byte
	calibrationTicks int
	motors           [4]byte
	throttle         byte
	altitudeHold     bool

	state     qcfp.SensorSample
	climbRate float64
}

// NewSimulatedBoard returns a disarmed, idle board on the ground.
func NewSimulatedBoard(clock timeutil.Clock, period time.Duration) *SimulatedBoard {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	b := &SimulatedBoard{
		clock:  clock,
		period: period,
		start:  clock.Now(),
	}
	b.cond = sync.NewCond(&b.mu)

	h := qcfp.NewHandlers()
	h.Register(qcfp.CmdFlightMode, b.handleFlightMode)
	h.Register(qcfp.CmdCalibrate, b.handleCalibrate)
	h.Register(qcfp.CmdRawMotorControl, b.handleMotors)
	h.Register(qcfp.CmdThrottle, b.handleThrottle)
	h.Register(qcfp.CmdAltitudeHold, b.handleAltitudeHold)
	h.Register(qcfp.CmdDebug, b.reply)
	// DefaultMaxPacketSize is always valid
	b.parser, _ = qcfp.NewParser(qcfp.DefaultMaxPacketSize, h)
	return b
}

// Read blocks until the board has bytes to send or is closed.
func (b *SimulatedBoard) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.closed && b.rx.Len() == 0 {
		b.cond.Wait()
	}
	if b.rx.Len() > 0 {
		return b.rx.Read(p)
	}
	return 0, errors.New("simulated board closed")
}

// Write feeds bytes to the board's decoder. Handlers run under b.mu.
func (b *SimulatedBoard) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("simulated board closed")
	}
	b.parser.AddData(p)
	return len(p), nil
}

// Close wakes blocked readers; subsequent reads and writes fail.
func (b *SimulatedBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// Run advances the simulation every period until ctx is done.
func (b *SimulatedBoard) Run(ctx context.Context) error {
	ticker := b.clock.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			b.Tick()
		}
	}
}

// Tick advances the simulation by one period and emits a sensor frame.
func (b *SimulatedBoard) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if b.flightMode == qcfp.FlightModePending {
		b.flightModeTicks--
		if b.flightModeTicks <= 0 {
			b.flightMode = qcfp.FlightModeEnable
			b.reply([]byte{qcfp.CmdFlightMode, b.flightMode})
		}
	}
	if b.calibration == qcfp.CalibrationRunning {
		b.calibrationTicks--
		if b.calibrationTicks <= 0 {
			b.calibration = qcfp.CalibrationIdle
			b.reply([]byte{qcfp.CmdCalibrate, b.calibration})
		}
	}

	b.step(b.period.Seconds())
	b.state.Uptime = b.clock.Since(b.start).Truncate(time.Millisecond)
	b.reply(qcfp.AsyncData(b.state))
}

// step integrates a very rough model: mean motor speed above half scale
// climbs, the pitch pair (0, 2) and roll pair (1, 3) tilt.
func (b *SimulatedBoard) step(dt float64) {
	var motors [4]float64
	switch {
	case b.flightMode != qcfp.FlightModeEnable:
	case b.motors == [4]byte{}:
		// no raw motor packet yet: all four follow the throttle setpoint
		t := float64(b.throttle) / 255
		motors = [4]float64{t, t, t, t}
	default:
		for i, m := range b.motors {
			motors[i] = float64(m) / float64(qcfp.MaxMotorSpeed)
		}
	}
	thrust := (motors[0] + motors[1] + motors[2] + motors[3]) / 4

	if b.altitudeHold {
		b.climbRate = 0
	} else {
		b.climbRate += ((thrust-0.5)*20 - 0.5*b.climbRate) * dt
	}
	b.state.Height += b.climbRate * dt
	if b.state.Height <= 0 {
		b.state.Height = 0
		b.climbRate = math.Max(b.climbRate, 0)
	}
	b.state.Pitch += (motors[2] - motors[0]) * dt
	b.state.Roll += (motors[3] - motors[1]) * dt
	b.state.Yaw += (motors[1] + motors[3] - motors[0] - motors[2]) * 0.1 * dt
}

func (b *SimulatedBoard) reply(payload []byte) {
	frame, err := qcfp.Encode(payload, qcfp.DefaultMaxPacketSize)
	if err != nil {
		return
	}
	b.rx.Write(frame)
	b.cond.Broadcast()
}

func (b *SimulatedBoard) handleFlightMode(packet []byte) {
	if len(packet) > 1 {
		switch packet[1] {
		case qcfp.FlightModeEnable:
			if b.flightMode == qcfp.FlightModeDisable {
				b.flightMode = qcfp.FlightModePending
				b.flightModeTicks = simFlightModeDelay
			}
		case qcfp.FlightModeDisable:
			b.flightMode = qcfp.FlightModeDisable
			b.motors = [4]byte{}
		}
	}
	b.reply([]byte{qcfp.CmdFlightMode, b.flightMode})
}

func (b *SimulatedBoard) handleCalibrate(packet []byte) {
	if len(packet) > 1 {
		switch {
		case packet[1] == qcfp.CalibrateStart && b.flightMode != qcfp.FlightModeDisable:
			// the board refuses to calibrate with motors live
			b.calibration = qcfp.CalibrationFailed
		case packet[1] == qcfp.CalibrateStart:
			b.calibration = qcfp.CalibrationRunning
			b.calibrationTicks = simCalibrationTicks
		default:
			b.calibration = qcfp.CalibrationIdle
		}
	}
	b.reply([]byte{qcfp.CmdCalibrate, b.calibration})
}

func (b *SimulatedBoard) handleMotors(packet []byte) {
	if len(packet) < 5 || b.flightMode != qcfp.FlightModeEnable {
		return
	}
	for i := range b.motors {
		b.motors[i] = min(packet[i+1], qcfp.MaxMotorSpeed)
	}
}

func (b *SimulatedBoard) handleThrottle(packet []byte) {
	if len(packet) > 1 {
		b.throttle = packet[1]
	}
}

func (b *SimulatedBoard) handleAltitudeHold(packet []byte) {
	if len(packet) > 1 {
		b.altitudeHold = packet[1] != 0
	}
}

// Motors returns the raw motor speeds the board is applying.
func (b *SimulatedBoard) Motors() [4]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.motors
}

// FlightMode returns the board's flight mode state.
func (b *SimulatedBoard) FlightMode() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flightMode
}
