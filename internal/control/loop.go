// Package control runs the adaptive flight controller: an ensemble of
// offset CMAC layers whose weights are trained online with a robust
// (alternate-weight) update law, the mixing of controller outputs into motor
// commands, and the actor that feeds the loop with the freshest error vector.
package control

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/qphone/internal/cmac"
	"github.com/banshee-data/qphone/internal/monitoring"
	"github.com/banshee-data/qphone/internal/timeutil"
)

var logf = monitoring.Prefixed("control")

// Gains are the constants of the weight update law.
type Gains struct {
	AlternateLearning  float64 `json:"alternate_learning"`  // kappa
	LearningError      float64 `json:"learning_error"`      // alpha
	AlternateDeviation float64 `json:"alternate_deviation"` // rho
	Leakage            float64 `json:"leakage"`             // nu
	ControlLearning    float64 `json:"control_learning"`    // beta
	Guide              float64 `json:"guide"`               // eta, outside the dead zone
	GuideDeadZone      float64 `json:"guide_dead_zone"`     // eta, inside the dead zone
	DeadZone           float64 `json:"dead_zone"`           // delta
	StateError         float64 `json:"state_error"`         // lambda
}

// DefaultGains returns the tuned flight gains.
func DefaultGains() Gains {
	return Gains{
		AlternateLearning:  1000,
		LearningError:      0.001,
		AlternateDeviation: 0.001,
		Leakage:            1e-6,
		ControlLearning:    1000,
		Guide:              1e-5,
		GuideDeadZone:      1e-6,
		DeadZone:           10,
		StateError:         4,
	}
}

// Config describes the layer ensemble.
type Config struct {
	Layers       int
	Quantization int
	Lower        []float64
	Upper        []float64
	Gains        Gains
	// NominalPeriod is used as the elapsed time of the first cycle.
	NominalPeriod time.Duration
}

// DefaultConfig returns five layers of 100 cells over the default bounds.
func DefaultConfig() Config {
	return Config{
		Layers:        5,
		Quantization:  cmac.DefaultQuantization,
		Lower:         cmac.DefaultLowerBounds(),
		Upper:         cmac.DefaultUpperBounds(),
		Gains:         DefaultGains(),
		NominalPeriod: 20 * time.Millisecond,
	}
}

// Output is the aggregated controller output of one cycle, in thrust, roll,
// pitch, yaw order.
type Output [cmac.NumWeights]float64

// Stats summarises the loop for status reporting.
type Stats struct {
	Cycles         uint64        `json:"cycles"`
	ZeroActivation uint64        `json:"zero_activation"`
	DeadZoneCycles uint64        `json:"dead_zone_cycles"`
	SkippedUpdates uint64        `json:"skipped_updates"`
	LastDiffNorm   float64       `json:"last_diff_norm"`
	LastElapsed    time.Duration `json:"last_elapsed_ns"`
	Cells          []int         `json:"cells"`
	Last           Output        `json:"last_output"`
}

// Loop owns the layer ensemble. Update and Stats may be called from different
// goroutines.
type Loop struct {
	mu     sync.Mutex
	cfg    Config
	clock  timeutil.Clock
	layers []*cmac.Layer

	lastUpdate time.Time
	degenerate bool
	stats      Stats
}

// NewLoop builds cfg.Layers layers whose offsets are evenly staggered across
// one cell width: layer i is shifted by i*width/Layers.
func NewLoop(cfg Config, clock timeutil.Clock) (*Loop, error) {
	if cfg.Layers <= 0 {
		return nil, fmt.Errorf("control: layer count must be positive, got %d", cfg.Layers)
	}
	if cfg.NominalPeriod <= 0 {
		return nil, fmt.Errorf("control: nominal period must be positive, got %s", cfg.NominalPeriod)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	width := cmac.CellWidths(cfg.Quantization, cfg.Lower, cfg.Upper)
	l := &Loop{cfg: cfg, clock: clock}
	for i := 0; i < cfg.Layers; i++ {
		offset := make([]float64, len(width))
		for d := range width {
			offset[d] = float64(i) * width[d] / float64(cfg.Layers)
		}
		layer, err := cmac.NewLayer(cfg.Quantization, cfg.Lower, cfg.Upper, offset)
		if err != nil {
			return nil, fmt.Errorf("control: layer %d: %w", i, err)
		}
		l.layers = append(l.layers, layer)
	}
	return l, nil
}

// Update runs one control cycle: it queries every layer at input, trains the
// layers and returns the blended control weights.
func (l *Loop) Update(input []float64) (Output, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.layers)
	g := l.cfg.Gains

	z, err := cmac.StateErrors(input, g.StateError)
	if err != nil {
		return Output{}, err
	}

	control := mat.NewDense(n, cmac.NumWeights, nil)
	alternate := mat.NewDense(n, cmac.NumWeights, nil)
	activation := mat.NewVecDense(n, nil)
	for i, layer := range l.layers {
		out, err := layer.Query(input)
		if err != nil {
			return Output{}, fmt.Errorf("control: layer %d: %w", i, err)
		}
		control.SetRow(i, out.Control[:])
		alternate.SetRow(i, out.Alternate[:])
		activation.SetVec(i, out.Activation)
	}

	// a zero or subnormal sum has no finite reciprocal
	sum := mat.Sum(activation)
	if scale := 1 / sum; !math.IsInf(scale, 0) && !math.IsNaN(scale) {
		activation.ScaleVec(scale, activation)
		l.degenerate = false
	} else {
		l.stats.ZeroActivation++
		if !l.degenerate {
			logf("activation sum %g cannot be normalised, using raw activations", sum)
		}
		l.degenerate = true
	}

	var aggControl, aggAlternate, diff mat.VecDense
	aggControl.MulVec(control.T(), activation)
	aggAlternate.MulVec(alternate.T(), activation)
	diff.SubVec(&aggControl, &aggAlternate)
	diffNorm := mat.Norm(&diff, 2)

	// pull alternate weights towards the layer mean and leak them to zero
	mean := mat.NewVecDense(cmac.NumWeights, nil)
	for i := 0; i < n; i++ {
		mean.AddVec(mean, alternate.RowView(i))
	}
	mean.ScaleVec(1/float64(n), mean)

	deltaAlternate := mat.NewDense(n, cmac.NumWeights, nil)
	for i := 0; i < n; i++ {
		deltaAlternate.SetRow(i, mean.RawVector().Data)
	}
	deltaAlternate.Sub(deltaAlternate, alternate)
	deltaAlternate.Scale(g.AlternateDeviation, deltaAlternate)
	var leak mat.Dense
	leak.Scale(g.Leakage, alternate)
	deltaAlternate.Sub(deltaAlternate, &leak)

	deltaControl := mat.NewDense(n, cmac.NumWeights, nil)
	deltaControl.Outer(-1, activation, mat.NewVecDense(cmac.NumWeights, z[:]))

	var guide mat.Dense
	guide.Sub(alternate, control)
	if diffNorm > g.DeadZone {
		lyapunov := mat.NewDense(n, cmac.NumWeights, nil)
		lyapunov.Outer(g.LearningError, activation, &diff)
		deltaAlternate.Add(deltaAlternate, lyapunov)
		deltaControl.Sub(deltaControl, lyapunov)
		guide.Scale(g.Guide, &guide)
	} else {
		l.stats.DeadZoneCycles++
		guide.Scale(g.GuideDeadZone, &guide)
	}
	deltaControl.Add(deltaControl, &guide)

	deltaAlternate.Scale(g.AlternateLearning, deltaAlternate)
	deltaControl.Scale(g.ControlLearning, deltaControl)

	now := l.clock.Now()
	elapsed := l.cfg.NominalPeriod
	if !l.lastUpdate.IsZero() {
		elapsed = now.Sub(l.lastUpdate)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	l.lastUpdate = now

	if allFinite(deltaControl) && allFinite(deltaAlternate) {
		for i, layer := range l.layers {
			if err := layer.ApplyDeltas(input, deltaControl.RawRowView(i), deltaAlternate.RawRowView(i), elapsed); err != nil {
				return Output{}, fmt.Errorf("control: layer %d: %w", i, err)
			}
		}
	} else {
		l.stats.SkippedUpdates++
		logf("non-finite weight update, skipping learning this cycle")
	}

	var out Output
	copy(out[:], aggControl.RawVector().Data)

	l.stats.Cycles++
	l.stats.LastDiffNorm = diffNorm
	l.stats.LastElapsed = elapsed
	l.stats.Last = out
	return out, nil
}

func allFinite(m *mat.Dense) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Stats returns a snapshot of the loop counters and per-layer cell counts.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Cells = make([]int, len(l.layers))
	for i, layer := range l.layers {
		s.Cells[i] = layer.Len()
	}
	return s
}

// Layers returns the number of layers in the ensemble.
func (l *Loop) Layers() int {
	return len(l.layers)
}
