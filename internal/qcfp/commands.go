package qcfp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command bytes understood by the control board. The first byte of every
// decoded frame is one of these.
const (
	CmdDebug           byte = 0x01
	CmdAsyncData       byte = 0x10
	CmdCalibrate       byte = 0x40
	CmdFlightMode      byte = 0x41
	CmdThrottle        byte = 0x42
	CmdAttitude        byte = 0x43
	CmdHeight          byte = 0x44
	CmdAltitudeHold    byte = 0x45
	CmdRawMotorControl byte = 0xF0
)

// Calibration arguments and board replies.
const (
	CalibrateStop  byte = 0x00
	CalibrateStart byte = 0x01

	CalibrationIdle    byte = 0x00
	CalibrationRunning byte = 0x01
	CalibrationFailed  byte = 0x02
)

// Flight mode arguments and board replies. Flight mode takes several seconds
// to engage; until then the board answers FlightModePending.
const (
	FlightModeDisable byte = 0x00
	FlightModeEnable  byte = 0x01
	FlightModePending byte = 0x02
)

// MaxMotorSpeed is the largest raw motor value the board accepts. Larger values
// are clamped by the firmware.
const MaxMotorSpeed byte = 0x50

// CommandName returns a short human-readable name for a command byte.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdDebug:
		return "debug"
	case CmdAsyncData:
		return "async_data"
	case CmdCalibrate:
		return "calibrate"
	case CmdFlightMode:
		return "flight_mode"
	case CmdThrottle:
		return "throttle"
	case CmdAttitude:
		return "attitude"
	case CmdHeight:
		return "height"
	case CmdAltitudeHold:
		return "altitude_hold"
	case CmdRawMotorControl:
		return "raw_motor_control"
	default:
		return fmt.Sprintf("unknown(0x%02x)", cmd)
	}
}

// RawMotorSpeeds builds a raw motor control packet. Motor values only take
// effect while the board is in flight mode.
func RawMotorSpeeds(speeds [4]byte) []byte {
	return []byte{CmdRawMotorControl, speeds[0], speeds[1], speeds[2], speeds[3]}
}

// FlightMode builds a packet enabling or disabling flight mode.
func FlightMode(enabled bool) []byte {
	if enabled {
		return []byte{CmdFlightMode, FlightModeEnable}
	}
	return []byte{CmdFlightMode, FlightModeDisable}
}

// QueryFlightMode builds a flight mode query.
func QueryFlightMode() []byte {
	return []byte{CmdFlightMode}
}

// Calibration builds a packet starting or stopping calibration.
func Calibration(start bool) []byte {
	if start {
		return []byte{CmdCalibrate, CalibrateStart}
	}
	return []byte{CmdCalibrate, CalibrateStop}
}

// QueryCalibration builds a calibration state query.
func QueryCalibration() []byte {
	return []byte{CmdCalibrate}
}

// Throttle builds a throttle setpoint packet.
func Throttle(throttle uint8) []byte {
	return []byte{CmdThrottle, throttle}
}

// Attitude builds an attitude setpoint packet; angles are radians.
func Attitude(roll, pitch, yaw float32) []byte {
	buf := make([]byte, 13)
	buf[0] = CmdAttitude
	putFloat32(buf[1:5], roll)
	putFloat32(buf[5:9], pitch)
	putFloat32(buf[9:13], yaw)
	return buf
}

// Height builds a height setpoint packet; height is metres.
func Height(height float32) []byte {
	buf := make([]byte, 5)
	buf[0] = CmdHeight
	putFloat32(buf[1:5], height)
	return buf
}

// AltitudeHold builds a packet toggling the board's altitude hold.
func AltitudeHold(enabled bool) []byte {
	if enabled {
		return []byte{CmdAltitudeHold, 0x01}
	}
	return []byte{CmdAltitudeHold, 0x00}
}

// StatusByte returns the single argument byte of a board reply such as
// [CmdFlightMode, FlightModeEnable].
func StatusByte(packet []byte, cmd byte) (byte, error) {
	if len(packet) < 2 {
		return 0, fmt.Errorf("%s reply too short: %d bytes", CommandName(cmd), len(packet))
	}
	if packet[0] != cmd {
		return 0, fmt.Errorf("expected %s reply, got %s", CommandName(cmd), CommandName(packet[0]))
	}
	return packet[1], nil
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
