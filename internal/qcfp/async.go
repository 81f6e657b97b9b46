package qcfp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// AsyncDataSize is the length of an async sensor data packet including its
// command byte.
const AsyncDataSize = 21

// SensorSample is one attitude/height reading pushed by the board.
// Angles are radians, height is metres.
type SensorSample struct {
	// Uptime is the board clock at the time of the reading.
	Uptime time.Duration
	Height float64
	Roll   float64
	Pitch  float64
	Yaw    float64
}

// ParseAsyncData decodes an async sensor data packet:
//
//	[0x10, uptime_ms u32, height f32, roll f32, pitch f32, yaw f32]
//
// All multi-byte fields are little-endian.
func ParseAsyncData(packet []byte) (SensorSample, error) {
	if len(packet) < AsyncDataSize {
		return SensorSample{}, fmt.Errorf("async data packet too short: %d bytes (want %d)", len(packet), AsyncDataSize)
	}
	if packet[0] != CmdAsyncData {
		return SensorSample{}, fmt.Errorf("not an async data packet: %s", CommandName(packet[0]))
	}
	uptime := binary.LittleEndian.Uint32(packet[1:5])
	return SensorSample{
		Uptime: time.Duration(uptime) * time.Millisecond,
		Height: float64(getFloat32(packet[5:9])),
		Roll:   float64(getFloat32(packet[9:13])),
		Pitch:  float64(getFloat32(packet[13:17])),
		Yaw:    float64(getFloat32(packet[17:21])),
	}, nil
}

// AsyncData builds an async sensor data packet. The simulated board in dev mode
// and the tests use it; the real board produces these itself.
func AsyncData(s SensorSample) []byte {
	buf := make([]byte, AsyncDataSize)
	buf[0] = CmdAsyncData
	binary.LittleEndian.PutUint32(buf[1:5], uint32(s.Uptime/time.Millisecond))
	putFloat32(buf[5:9], float32(s.Height))
	putFloat32(buf[9:13], float32(s.Roll))
	putFloat32(buf[13:17], float32(s.Pitch))
	putFloat32(buf[17:21], float32(s.Yaw))
	return buf
}
