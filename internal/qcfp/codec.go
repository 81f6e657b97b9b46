// Package qcfp implements the quadrotor control board framing protocol: a
// COBS-style byte-stuffed frame format delimited by zero bytes, the decoder
// state machine that recovers frames from a byte stream, and the command byte
// table used to route decoded frames.
//
// Every encoded frame begins and ends with TermByte. Inside the frame each run
// of non-zero payload bytes is preceded by a code byte holding the run length
// plus one; the end of every run except the last stands for a zero byte in the
// payload. A payload of [0x00] therefore encodes as 00 01 01 00.
package qcfp

import (
	"errors"
	"fmt"
)

// TermByte delimits frames on the wire and never appears inside one.
const TermByte byte = 0x00

// DefaultMaxPacketSize is the largest decoded payload the control board accepts.
const DefaultMaxPacketSize = 32

// MaxSupportedPacketSize is the largest payload whose run length still fits in a
// single code byte.
const MaxSupportedPacketSize = 253

// ErrPayloadTooLarge is returned by Encode when the payload exceeds the
// configured maximum packet size.
var ErrPayloadTooLarge = errors.New("payload too large to encode")

// MaxEncodedSize returns the worst-case encoded size of a payload of
// maxPacketSize bytes: leading and trailing terminators plus one code byte of
// overhead.
func MaxEncodedSize(maxPacketSize int) int {
	return maxPacketSize + 3
}

// Encode wraps payload in a self-delimited frame. It fails if payload is longer
// than maxPacketSize.
func Encode(payload []byte, maxPacketSize int) ([]byte, error) {
	if maxPacketSize > MaxSupportedPacketSize {
		return nil, fmt.Errorf("max packet size %d exceeds supported %d", maxPacketSize, MaxSupportedPacketSize)
	}
	if len(payload) > maxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxPacketSize)
	}

	out := make([]byte, 0, MaxEncodedSize(len(payload)))
	out = append(out, TermByte)

	codeIdx := len(out)
	out = append(out, 0) // placeholder for the first run's code
	code := byte(1)
	for _, b := range payload {
		if b == TermByte {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
	}
	out[codeIdx] = code

	return append(out, TermByte), nil
}
