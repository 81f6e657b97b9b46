package qcfp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"raw motors", RawMotorSpeeds([4]byte{1, 2, 3, 4}), []byte{0xF0, 1, 2, 3, 4}},
		{"flight mode on", FlightMode(true), []byte{0x41, 0x01}},
		{"flight mode off", FlightMode(false), []byte{0x41, 0x00}},
		{"flight mode query", QueryFlightMode(), []byte{0x41}},
		{"calibrate start", Calibration(true), []byte{0x40, 0x01}},
		{"calibrate stop", Calibration(false), []byte{0x40, 0x00}},
		{"calibrate query", QueryCalibration(), []byte{0x40}},
		{"throttle", Throttle(0x30), []byte{0x42, 0x30}},
		{"altitude hold", AltitudeHold(true), []byte{0x45, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
			assert.LessOrEqual(t, len(tt.got), DefaultMaxPacketSize)
		})
	}
}

func TestAttitudeAndHeight(t *testing.T) {
	att := Attitude(0.1, -0.2, 1.5)
	require.Len(t, att, 13)
	assert.Equal(t, CmdAttitude, att[0])
	assert.Equal(t, float32(0.1), getFloat32(att[1:5]))
	assert.Equal(t, float32(-0.2), getFloat32(att[5:9]))
	assert.Equal(t, float32(1.5), getFloat32(att[9:13]))

	h := Height(2.25)
	require.Len(t, h, 5)
	assert.Equal(t, float32(2.25), getFloat32(h[1:]))
}

func TestStatusByte(t *testing.T) {
	b, err := StatusByte([]byte{CmdFlightMode, FlightModePending}, CmdFlightMode)
	require.NoError(t, err)
	assert.Equal(t, FlightModePending, b)

	_, err = StatusByte([]byte{CmdFlightMode}, CmdFlightMode)
	assert.Error(t, err)

	_, err = StatusByte([]byte{CmdCalibrate, 0x01}, CmdFlightMode)
	assert.Error(t, err)
}

func TestAsyncData(t *testing.T) {
	in := SensorSample{
		Uptime: 1234 * time.Millisecond,
		Height: 1.5,
		Roll:   0.25,
		Pitch:  -0.125,
		Yaw:    3.0,
	}
	packet := AsyncData(in)
	require.Len(t, packet, AsyncDataSize)

	out, err := ParseAsyncData(packet)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = ParseAsyncData(packet[:AsyncDataSize-1])
	assert.Error(t, err)

	packet[0] = CmdDebug
	_, err = ParseAsyncData(packet)
	assert.Error(t, err)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "raw_motor_control", CommandName(CmdRawMotorControl))
	assert.Equal(t, "unknown(0x7e)", CommandName(0x7E))
}
