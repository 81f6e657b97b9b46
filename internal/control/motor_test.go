package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/qphone/internal/monitoring"
	"github.com/banshee-data/qphone/internal/qcfp"
)

func TestMixOutputs(t *testing.T) {
	tests := []struct {
		name string
		out  Output
		want [NumMotors]float64
	}{
		{"thrust", Output{4, 0, 0, 0}, [NumMotors]float64{1, 1, 1, 1}},
		{"pitch", Output{0, 0, 2, 0}, [NumMotors]float64{-1, 0, 1, 0}},
		{"roll", Output{0, 2, 0, 0}, [NumMotors]float64{0, -1, 0, 1}},
		{"yaw", Output{0, 0, 0, 4}, [NumMotors]float64{-1, 1, -1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mixed := MixOutputs(tt.out)
			assert.InDeltaSlice(t, tt.want[:], mixed[:], 1e-12)
		})
	}
}

func TestOutputToMotorSpeeds(t *testing.T) {
	var logged int
	monitoring.SetLogger(func(string, ...interface{}) { logged++ })
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	speeds := OutputToMotorSpeeds(Output{16, 0, 0, 0})
	assert.Equal(t, MotorSpeeds{2, 2, 2, 2}, speeds)
	assert.Zero(t, logged)

	// pitch only: motor 0 would need a negative squared speed
	speeds = OutputToMotorSpeeds(Output{0, 0, 8, 0})
	assert.Equal(t, MotorSpeeds{0, 0, 2, 0}, speeds)
	assert.Equal(t, 1, logged)

	speeds = OutputToMotorSpeeds(Output{math.NaN(), 0, 0, 0})
	for _, s := range speeds {
		assert.Zero(t, s)
	}
}

func TestNetActuation(t *testing.T) {
	assert.Equal(t, 0.0, MotorSpeeds{5, 5, 5, 5}.NetActuation())
	assert.Equal(t, 4.0, MotorSpeeds{1, 2, 1, 4}.NetActuation())
}

func TestBoardSpeed(t *testing.T) {
	tests := []struct {
		duty float64
		want byte
	}{
		{5.75, 0},
		{6.0, 5},
		{5.0, 0},
		{9.75, 80},
		{11.0, qcfp.MaxMotorSpeed},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, BoardSpeed(tt.duty), "duty %g", tt.duty)
	}
}

func TestBoardSpeeds(t *testing.T) {
	// idle duty cycles of both curves sit just above the zero point
	assert.Equal(t, [NumMotors]byte{6, 6, 6, 6}, MotorSpeeds{}.BoardSpeeds())

	fast := 200 * radiansPerTurn
	assert.Equal(t, [NumMotors]byte{0x50, 0x50, 0x50, 0x50}, MotorSpeeds{fast, fast, fast, fast}.BoardSpeeds())

	assert.Equal(t, byte(0), MotorSpeeds{math.NaN(), 0, 0, 0}.BoardSpeeds()[0])

	packet := MotorSpeeds{}.Packet()
	assert.Equal(t, []byte{qcfp.CmdRawMotorControl, 6, 6, 6, 6}, packet)
}

func TestDutyCycle(t *testing.T) {
	assert.InDelta(t, dutyCurve012[0], DutyCycle(0, 0), 1e-12)
	assert.InDelta(t, dutyCurve3[0], DutyCycle(3, 0), 1e-12)
	assert.NotEqual(t, DutyCycle(2, 50), DutyCycle(3, 50))
}
