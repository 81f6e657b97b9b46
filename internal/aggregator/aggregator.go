// Package aggregator keeps the short history of measured and desired attitude
// and height that the controller needs, and turns each new measurement into
// the controller's 13-component input vector.
package aggregator

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/qphone/internal/cmac"
	"github.com/banshee-data/qphone/internal/timeutil"
)

// Sample is an attitude/height reading or target. Height is metres, angles are
// radians.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Height    float64   `json:"height"`
	Roll      float64   `json:"roll"`
	Pitch     float64   `json:"pitch"`
	Yaw       float64   `json:"yaw"`
}

func (s Sample) values() [4]float64 {
	return [4]float64{s.Height, s.Roll, s.Pitch, s.Yaw}
}

// historyLen is the number of desired setpoints kept: enough for a second
// difference.
const historyLen = 3

// Aggregator is safe for concurrent use. Measurements arrive from the link
// while setpoints arrive from the upstream API.
type Aggregator struct {
	mu    sync.Mutex
	cfg   Config
	clock timeutil.Clock

	measured    Sample
	hasMeasured bool

	// desired[0] is the newest setpoint
	desired    [historyLen]Sample
	numDesired int

	netActuation float64
}

// New returns an aggregator with a zero setpoint and no measurement.
func New(cfg Config, clock timeutil.Clock) *Aggregator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Aggregator{cfg: cfg, clock: clock}
}

// RecordMeasurement replaces the last measured sample.
func (a *Aggregator) RecordMeasurement(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordMeasurement(s)
}

func (a *Aggregator) recordMeasurement(s Sample) {
	a.measured = s
	a.hasMeasured = true
}

// RecordSetpoint pushes a new desired state stamped with the current time,
// dropping the oldest of the three kept.
func (a *Aggregator) RecordSetpoint(height, roll, pitch, yaw float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordSetpoint(height, roll, pitch, yaw)
}

func (a *Aggregator) recordSetpoint(height, roll, pitch, yaw float64) {
	copy(a.desired[1:], a.desired[:historyLen-1])
	a.desired[0] = Sample{
		Timestamp: a.clock.Now(),
		Height:    height,
		Roll:      roll,
		Pitch:     pitch,
		Yaw:       yaw,
	}
	if a.numDesired < historyLen {
		a.numDesired++
	}
}

// SetNetPreviousActuation stores -s0+s1-s2+s3 of the last motor command.
func (a *Aggregator) SetNetPreviousActuation(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.netActuation = v
}

// Desired returns the current setpoint. Before any setpoint is recorded it is
// the zero sample.
func (a *Aggregator) Desired() Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.desired[0]
}

// Measured returns the last measurement, if any.
func (a *Aggregator) Measured() (Sample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.measured, a.hasMeasured
}

// ComputeErrorVector returns the controller input for measurement s. It
// reports false until a previous measurement exists, since the error rates
// are differences against it. s is not recorded.
func (a *Aggregator) ComputeErrorVector(s Sample) ([]float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.computeErrorVector(s)
}

// Ingest computes the error vector for s and then records s as the last
// measurement, atomically.
func (a *Aggregator) Ingest(s Sample) ([]float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.computeErrorVector(s)
	a.recordMeasurement(s)
	return v, ok
}

func (a *Aggregator) computeErrorVector(s Sample) ([]float64, bool) {
	if !a.hasMeasured {
		return nil, false
	}

	cur := s.values()
	last := a.measured.values()
	want := a.desired[0].values()
	wantRate := a.desiredRates()
	dt := s.Timestamp.Sub(a.measured.Timestamp).Seconds()

	in := make([]float64, cmac.NumInputs)
	for i := 0; i < 4; i++ {
		in[cmac.HeightError+i] = cur[i] - want[i]
		var rate float64
		if dt > 0 {
			rate = (cur[i] - last[i]) / dt
		}
		in[cmac.HeightErrorDerivative+i] = rate - wantRate[i]
	}
	in[cmac.DesiredRollDerivative] = wantRate[1]
	in[cmac.DesiredPitchDerivative] = wantRate[2]
	accel := a.desiredSecondDifference()
	in[cmac.DesiredRollSecondDerivative] = accel[1]
	in[cmac.DesiredPitchSecondDerivative] = accel[2]
	in[cmac.NetPreviousActuation] = a.netActuation
	return in, true
}

// desiredRates is the backward difference of the two newest setpoints.
func (a *Aggregator) desiredRates() [4]float64 {
	var r [4]float64
	if a.numDesired < 2 {
		return r
	}
	dt := a.desired[0].Timestamp.Sub(a.desired[1].Timestamp).Seconds()
	if dt <= 0 {
		return r
	}
	y0, y1 := a.desired[0].values(), a.desired[1].values()
	floats.SubTo(r[:], y0[:], y1[:])
	floats.Scale(1/dt, r[:])
	return r
}

// desiredSecondDifference is (y0 - 2y1 + y2) / (dt1*dt2). It assumes roughly
// even setpoint spacing.
func (a *Aggregator) desiredSecondDifference() [4]float64 {
	var r [4]float64
	if a.numDesired < historyLen {
		return r
	}
	dt1 := a.desired[0].Timestamp.Sub(a.desired[1].Timestamp).Seconds()
	dt2 := a.desired[1].Timestamp.Sub(a.desired[2].Timestamp).Seconds()
	if dt1 == 0 || dt2 == 0 {
		return r
	}
	y0, y1, y2 := a.desired[0].values(), a.desired[1].values(), a.desired[2].values()
	for i := range r {
		r[i] = (y0[i] - 2*y1[i] + y2[i]) / (dt1 * dt2)
	}
	return r
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
