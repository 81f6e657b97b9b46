// Package cmac implements a single layer of a cerebellar model articulation
// controller: a quantized lookup table over the 13-dimensional flight state
// holding a control and an alternate weight vector per cell, blended with a
// spline activation kernel.
//
// Weight tables grow lazily as new cells are visited and are never pruned.
// A layer covers at most quantization^13 cells, but in practice the visited
// set stays small because the state moves slowly between control cycles.
package cmac

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInputSize is returned when an input vector does not have NumInputs
	// components, or bounds/offsets do not match it.
	ErrInputSize = errors.New("cmac: wrong input vector size")
	// ErrDeltaSize is returned when a weight delta does not have NumWeights
	// components.
	ErrDeltaSize = errors.New("cmac: wrong delta vector size")
	// ErrOffsetTooLarge is returned by NewLayer when an offset is not smaller
	// than the cell width of its dimension.
	ErrOffsetTooLarge = errors.New("cmac: offset not smaller than cell width")
	// ErrInputNotFinite is returned for NaN or infinite inputs, which would
	// otherwise create unreachable cells.
	ErrInputNotFinite = errors.New("cmac: input not finite")
	// ErrDeltaNotFinite is returned by ApplyDeltas for NaN or infinite deltas,
	// which would poison the cell for good.
	ErrDeltaNotFinite = errors.New("cmac: delta not finite")
)

// CellKey identifies a cell by its representative (lower-corner) coordinate.
// Keys compare by value.
type CellKey [NumInputs]float64

// Cell holds the two weight sets of one state-space cell.
type Cell struct {
	Control   [NumWeights]float64
	Alternate [NumWeights]float64
}

// Output is the result of a layer query.
type Output struct {
	Control    [NumWeights]float64
	Alternate  [NumWeights]float64
	Activation float64
}

// Layer is one tiling of the input space. A Layer is not safe for concurrent
// use; the control loop owns it.
type Layer struct {
	quantization int
	lower        [NumInputs]float64
	upper        [NumInputs]float64
	offset       [NumInputs]float64
	width        [NumInputs]float64

	cells map[CellKey]*Cell
}

// NewLayer builds a layer with quantization cells per dimension between lower
// and upper, shifted by offset. Every offset must be smaller than its cell
// width.
func NewLayer(quantization int, lower, upper, offset []float64) (*Layer, error) {
	if quantization <= 0 {
		return nil, fmt.Errorf("cmac: quantization must be positive, got %d", quantization)
	}
	for name, v := range map[string][]float64{"lower": lower, "upper": upper, "offset": offset} {
		if len(v) != NumInputs {
			return nil, fmt.Errorf("%w: %s bound has %d components, want %d", ErrInputSize, name, len(v), NumInputs)
		}
	}

	l := &Layer{
		quantization: quantization,
		cells:        make(map[CellKey]*Cell),
	}
	copy(l.lower[:], lower)
	copy(l.upper[:], upper)
	copy(l.offset[:], offset)

	for i := 0; i < NumInputs; i++ {
		if !(upper[i] > lower[i]) {
			return nil, fmt.Errorf("cmac: dimension %d (%s): upper bound %g not above lower bound %g",
				i, Params[i].Name, upper[i], lower[i])
		}
		l.width[i] = (upper[i] - lower[i]) / float64(quantization)
		if !(offset[i] < l.width[i]) {
			return nil, fmt.Errorf("%w: dimension %d (%s): offset %g, width %g",
				ErrOffsetTooLarge, i, Params[i].Name, offset[i], l.width[i])
		}
	}
	return l, nil
}

// Key returns the cell that input falls in.
func (l *Layer) Key(input []float64) (CellKey, error) {
	var key CellKey
	if len(input) != NumInputs {
		return key, fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(input), NumInputs)
	}
	for i, v := range input {
		if !finite(v) {
			return key, fmt.Errorf("%w: dimension %d (%s) is %g", ErrInputNotFinite, i, Params[i].Name, v)
		}
		key[i] = math.Floor((v-l.offset[i]-l.lower[i])/l.width[i])*l.width[i] + l.lower[i]
	}
	return key, nil
}

// Query returns the weights of the cell containing input and the activation
// of input within that cell. Unvisited cells read as zero and are not created.
func (l *Layer) Query(input []float64) (Output, error) {
	key, err := l.Key(input)
	if err != nil {
		return Output{}, err
	}

	out := Output{Activation: l.activation(input, key)}
	if c, ok := l.cells[key]; ok {
		out.Control = c.Control
		out.Alternate = c.Alternate
	}
	return out, nil
}

// activation is the product over all dimensions of f(x) = x^2 - 2x^3 + x^4,
// where x is 1 at the middle of the cell and falls to 0 at its edges.
func (l *Layer) activation(input []float64, key CellKey) float64 {
	a := 1.0
	for i, v := range input {
		half := l.width[i] / 2
		pos := v - l.offset[i] - key[i]
		x := 1 - math.Abs(pos-half)/half
		a *= x*x - 2*x*x*x + x*x*x*x
	}
	return a
}

// ApplyDeltas adds deltaControl and deltaAlternate, scaled by the elapsed time
// in seconds, to the cell containing input. The cell is created if needed.
func (l *Layer) ApplyDeltas(input, deltaControl, deltaAlternate []float64, elapsed time.Duration) error {
	if len(deltaControl) != NumWeights || len(deltaAlternate) != NumWeights {
		return fmt.Errorf("%w: got %d and %d, want %d",
			ErrDeltaSize, len(deltaControl), len(deltaAlternate), NumWeights)
	}
	for i := 0; i < NumWeights; i++ {
		if !finite(deltaControl[i]) || !finite(deltaAlternate[i]) {
			return fmt.Errorf("%w: control %v, alternate %v", ErrDeltaNotFinite, deltaControl, deltaAlternate)
		}
	}
	key, err := l.Key(input)
	if err != nil {
		return err
	}

	c, ok := l.cells[key]
	if !ok {
		c = &Cell{}
		l.cells[key] = c
	}
	scale := elapsed.Seconds()
	floats.AddScaled(c.Control[:], scale, deltaControl)
	floats.AddScaled(c.Alternate[:], scale, deltaAlternate)
	return nil
}

// Len returns the number of cells that have been written.
func (l *Layer) Len() int {
	return len(l.cells)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
