package aggregator

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Config holds the gains that turn move commands into setpoints.
type Config struct {
	// TiltGain is radians of roll or pitch per m/s of horizontal speed.
	TiltGain float64
	// MaxTilt caps the commanded roll and pitch, in radians.
	MaxTilt float64
	// HeightGain scales the vertical displacement of a move.
	HeightGain float64
}

// DefaultConfig returns gentle indoor gains.
func DefaultConfig() Config {
	return Config{
		TiltGain:   0.1,
		MaxTilt:    20 * math.Pi / 180,
		HeightGain: 1,
	}
}

// MoveCommand asks the vehicle to travel along (X, Y, Z) at Speed for
// Duration. Only the direction of the vector is used.
type MoveCommand struct {
	X        float64
	Y        float64
	Z        float64
	Speed    float64
	Duration time.Duration
}

// Validate rejects commands that cannot produce a finite setpoint.
func (m MoveCommand) Validate() error {
	for _, v := range []float64{m.X, m.Y, m.Z, m.Speed} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("move command has non-finite component %g", v)
		}
	}
	if m.Speed < 0 {
		return fmt.Errorf("move speed must not be negative, got %g", m.Speed)
	}
	if m.Duration < 0 {
		return fmt.Errorf("move duration must not be negative, got %s", m.Duration)
	}
	return nil
}

// AttitudeCommand is a direct setpoint from upstream.
type AttitudeCommand struct {
	Throttle uint8   `json:"throttle"`
	Height   float64 `json:"height"`
	Roll     float64 `json:"roll"`
	Pitch    float64 `json:"pitch"`
	Yaw      float64 `json:"yaw"`
}

// ApplyMoveCommand converts m into a setpoint. The x and y components of the
// unit direction tilt the vehicle (pitch and roll respectively, capped at
// MaxTilt); the z component raises or lowers the desired height. Yaw is kept.
// A zero direction levels the vehicle and keeps the height.
func (a *Aggregator) ApplyMoveCommand(m MoveCommand) error {
	if err := m.Validate(); err != nil {
		return err
	}

	dir := []float64{m.X, m.Y, m.Z}
	if n := floats.Norm(dir, 2); n > 0 {
		floats.Scale(1/n, dir)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.desired[0]
	pitch := clamp(dir[0]*m.Speed*a.cfg.TiltGain, a.cfg.MaxTilt)
	roll := clamp(dir[1]*m.Speed*a.cfg.TiltGain, a.cfg.MaxTilt)
	height := prev.Height + dir[2]*m.Speed*m.Duration.Seconds()*a.cfg.HeightGain
	a.recordSetpoint(height, roll, pitch, prev.Yaw)
	return nil
}

// ApplyMoveCommands applies the first command of a batch and ignores the rest;
// the controller tracks a single setpoint. It reports how many commands were
// ignored.
func (a *Aggregator) ApplyMoveCommands(cmds []MoveCommand) (ignored int, err error) {
	if len(cmds) == 0 {
		return 0, nil
	}
	if err := a.ApplyMoveCommand(cmds[0]); err != nil {
		return 0, err
	}
	return len(cmds) - 1, nil
}

// ApplyAttitudeCommand records c as the new setpoint. The throttle is not part
// of the controller state and is forwarded to the board by the caller.
func (a *Aggregator) ApplyAttitudeCommand(c AttitudeCommand) {
	a.RecordSetpoint(c.Height, c.Roll, c.Pitch, c.Yaw)
}
