package aggregator

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/qphone/internal/cmac"
	"github.com/banshee-data/qphone/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator() (*Aggregator, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(epoch)
	return New(DefaultConfig(), clock), clock
}

func sampleAt(offset time.Duration, h, r, p, y float64) Sample {
	return Sample{Timestamp: epoch.Add(offset), Height: h, Roll: r, Pitch: p, Yaw: y}
}

func TestComputeErrorVector_NeedsPriorMeasurement(t *testing.T) {
	a, _ := newTestAggregator()

	v, ok := a.ComputeErrorVector(sampleAt(0, 1, 0, 0, 0))
	assert.False(t, ok)
	assert.Nil(t, v)

	// computing does not record
	_, ok = a.ComputeErrorVector(sampleAt(20*time.Millisecond, 1, 0, 0, 0))
	assert.False(t, ok)

	_, ok = a.Ingest(sampleAt(40*time.Millisecond, 1, 0, 0, 0))
	assert.False(t, ok)
	_, ok = a.Ingest(sampleAt(60*time.Millisecond, 1, 0, 0, 0))
	assert.True(t, ok)
}

func TestComputeErrorVector(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordSetpoint(1.0, 0, 0.1, 0)
	a.SetNetPreviousActuation(12.5)
	a.RecordMeasurement(sampleAt(0, 1.2, 0.05, 0.0, 0.3))

	v, ok := a.ComputeErrorVector(sampleAt(100*time.Millisecond, 1.5, 0.05, 0.02, 0.3))
	require.True(t, ok)
	require.Len(t, v, cmac.NumInputs)

	want := make([]float64, cmac.NumInputs)
	want[cmac.HeightError] = 0.5
	want[cmac.RollError] = 0.05
	want[cmac.PitchError] = 0.02 - 0.1
	want[cmac.YawError] = 0.3
	want[cmac.HeightErrorDerivative] = 3.0
	want[cmac.PitchErrorDerivative] = 0.2
	want[cmac.NetPreviousActuation] = 12.5

	if diff := cmp.Diff(want, v, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("error vector mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeErrorVector_ZeroInterval(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordMeasurement(sampleAt(0, 1, 0, 0, 0))

	v, ok := a.ComputeErrorVector(sampleAt(0, 2, 0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, 2.0, v[cmac.HeightError])
	assert.Zero(t, v[cmac.HeightErrorDerivative])
}

func TestDesiredDerivatives(t *testing.T) {
	a, clock := newTestAggregator()

	a.RecordSetpoint(0, 0.0, 0.0, 0)
	clock.Advance(100 * time.Millisecond)
	a.RecordSetpoint(0, 0.1, 0.2, 0)

	a.RecordMeasurement(sampleAt(0, 0, 0, 0, 0))
	v, ok := a.ComputeErrorVector(sampleAt(50*time.Millisecond, 0, 0, 0, 0))
	require.True(t, ok)

	// two setpoints: first difference only
	assert.InDelta(t, 1.0, v[cmac.DesiredRollDerivative], 1e-9)
	assert.InDelta(t, 2.0, v[cmac.DesiredPitchDerivative], 1e-9)
	assert.Zero(t, v[cmac.DesiredRollSecondDerivative])
	// the measurement did not move, so the error rate is minus the desired rate
	assert.InDelta(t, -1.0, v[cmac.RollErrorDerivative], 1e-9)
	assert.InDelta(t, -2.0, v[cmac.PitchErrorDerivative], 1e-9)

	clock.Advance(100 * time.Millisecond)
	a.RecordSetpoint(0, 0.3, 0.2, 0)
	v, ok = a.ComputeErrorVector(sampleAt(50*time.Millisecond, 0, 0, 0, 0))
	require.True(t, ok)

	// (0.3 - 2*0.1 + 0) / (0.1*0.1) and (0.2 - 0.4 + 0) / 0.01
	assert.InDelta(t, 10.0, v[cmac.DesiredRollSecondDerivative], 1e-6)
	assert.InDelta(t, -20.0, v[cmac.DesiredPitchSecondDerivative], 1e-6)
	assert.InDelta(t, 2.0, v[cmac.DesiredRollDerivative], 1e-9)
	assert.InDelta(t, 0.0, v[cmac.DesiredPitchDerivative], 1e-9)
}

func TestDesiredDerivatives_SimultaneousSetpoints(t *testing.T) {
	a, _ := newTestAggregator()
	// the clock does not move, so every interval is zero
	a.RecordSetpoint(0, 0.1, 0, 0)
	a.RecordSetpoint(0, 0.2, 0, 0)
	a.RecordSetpoint(0, 0.3, 0, 0)
	a.RecordMeasurement(sampleAt(0, 0, 0, 0, 0))

	v, ok := a.ComputeErrorVector(sampleAt(20*time.Millisecond, 0, 0, 0, 0))
	require.True(t, ok)
	for i, x := range v {
		assert.Falsef(t, math.IsNaN(x) || math.IsInf(x, 0), "component %d is %g", i, x)
	}
	assert.Zero(t, v[cmac.DesiredRollDerivative])
	assert.Zero(t, v[cmac.DesiredRollSecondDerivative])
}

func TestSetpointHistoryKeepsThree(t *testing.T) {
	a, clock := newTestAggregator()
	for i := 0; i < 5; i++ {
		a.RecordSetpoint(float64(i), 0, 0, 0)
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, a.numDesired)
	assert.Equal(t, []float64{4, 3, 2}, []float64{a.desired[0].Height, a.desired[1].Height, a.desired[2].Height})
	assert.Equal(t, epoch.Add(4*time.Second), a.Desired().Timestamp)
}

func TestConcurrentAccess(t *testing.T) {
	a, _ := newTestAggregator()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.Ingest(sampleAt(time.Duration(i)*time.Millisecond, float64(g), 0, 0, 0))
			}
		}(g)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = a.ApplyMoveCommand(MoveCommand{X: 1, Speed: 1, Duration: time.Second})
				a.SetNetPreviousActuation(float64(i))
			}
		}()
	}
	wg.Wait()
	_, ok := a.Measured()
	assert.True(t, ok)
}
