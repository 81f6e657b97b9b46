package cmac

import (
	"fmt"
	"math"
)

// NumInputs is the dimension of the controller's state space.
const NumInputs = 13

// NumWeights is the number of outputs stored per cell: thrust, roll, pitch and
// yaw.
const NumWeights = 4

// DefaultQuantization is the number of cells per dimension.
const DefaultQuantization = 100

// Indexes into an input vector.
const (
	HeightError = iota
	RollError
	PitchError
	YawError
	HeightErrorDerivative
	RollErrorDerivative
	PitchErrorDerivative
	YawErrorDerivative
	DesiredRollDerivative
	DesiredPitchDerivative
	DesiredRollSecondDerivative
	DesiredPitchSecondDerivative
	NetPreviousActuation
)

// Indexes into a weight or output vector.
const (
	Thrust = iota
	Roll
	Pitch
	Yaw
)

// Param describes one dimension of the input space.
type Param struct {
	Name  string
	Unit  string
	Lower float64
	Upper float64
}

// Params lists the default bounds of every input dimension, in index order.
var Params = [NumInputs]Param{
	HeightError:                  {"height_error", "m", 0, 50},
	RollError:                    {"roll_error", "rad", -math.Pi, math.Pi},
	PitchError:                   {"pitch_error", "rad", -math.Pi, math.Pi},
	YawError:                     {"yaw_error", "rad", -math.Pi, math.Pi},
	HeightErrorDerivative:        {"height_error_rate", "m/s", -40, 12},
	RollErrorDerivative:          {"roll_error_rate", "rad/s", -math.Pi / 2, math.Pi / 2},
	PitchErrorDerivative:         {"pitch_error_rate", "rad/s", -math.Pi / 2, math.Pi / 2},
	YawErrorDerivative:           {"yaw_error_rate", "rad/s", -math.Pi / 2, math.Pi / 2},
	DesiredRollDerivative:        {"desired_roll_rate", "rad/s", -math.Pi / 2, math.Pi / 2},
	DesiredPitchDerivative:       {"desired_pitch_rate", "rad/s", -math.Pi / 2, math.Pi / 2},
	DesiredRollSecondDerivative:  {"desired_roll_accel", "rad/s^2", -math.Pi / 4, math.Pi / 4},
	DesiredPitchSecondDerivative: {"desired_pitch_accel", "rad/s^2", -math.Pi / 4, math.Pi / 4},
	// -s1 + s2 - s3 + s4 of the previous motor speeds
	NetPreviousActuation: {"net_previous_actuation", "rad/s", -2 * math.Pi * 12000, 2 * math.Pi * 12000},
}

// DefaultLowerBounds returns the lower bound of every dimension.
func DefaultLowerBounds() []float64 {
	out := make([]float64, NumInputs)
	for i, p := range Params {
		out[i] = p.Lower
	}
	return out
}

// DefaultUpperBounds returns the upper bound of every dimension.
func DefaultUpperBounds() []float64 {
	out := make([]float64, NumInputs)
	for i, p := range Params {
		out[i] = p.Upper
	}
	return out
}

// CellWidths returns (upper-lower)/quantization for every dimension.
func CellWidths(quantization int, lower, upper []float64) []float64 {
	out := make([]float64, len(lower))
	for i := range lower {
		out[i] = (upper[i] - lower[i]) / float64(quantization)
	}
	return out
}

// StateErrors combines the four attitude/height errors with their rates:
// z = e + lambda*de/dt.
func StateErrors(input []float64, lambda float64) ([NumWeights]float64, error) {
	var z [NumWeights]float64
	if len(input) != NumInputs {
		return z, fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(input), NumInputs)
	}
	for i := 0; i < NumWeights; i++ {
		z[i] = input[HeightError+i] + lambda*input[HeightErrorDerivative+i]
	}
	return z, nil
}
