package qcfp

import (
	"fmt"
	"sync/atomic"
)

type decodeState int

const (
	stateSync decodeState = iota
	stateDecode
	stateCopy
)

func (s decodeState) String() string {
	switch s {
	case stateSync:
		return "sync"
	case stateDecode:
		return "decode"
	case stateCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// FrameHandler receives every complete frame recovered by a Parser. The packet
// slice aliases the parser's buffer and is only valid for the duration of the
// call; handlers that keep it must copy it.
type FrameHandler interface {
	HandleFrame(packet []byte)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(packet []byte)

// HandleFrame calls f(packet).
func (f FrameHandlerFunc) HandleFrame(packet []byte) { f(packet) }

// ParserStats counts decoder outcomes since the parser was created.
type ParserStats struct {
	Frames    uint64 `json:"frames"`
	Resyncs   uint64 `json:"resyncs"`
	Oversized uint64 `json:"oversized"`
}

// Parser incrementally decodes a byte stream into frames. It is owned by a
// single goroutine; only Stats may be called concurrently.
type Parser struct {
	maxPacketSize int
	handler       FrameHandler

	state      decodeState
	packet     []byte // maxPacketSize + 2 for the trailing artifact zero and one overflow byte
	packetSize int
	byteCount  int

	frames    atomic.Uint64
	resyncs   atomic.Uint64
	oversized atomic.Uint64
}

// NewParser creates a parser that never delivers a frame larger than
// maxPacketSize. The parser starts in the sync state and discards everything
// before the first TermByte.
func NewParser(maxPacketSize int, handler FrameHandler) (*Parser, error) {
	if maxPacketSize <= 0 || maxPacketSize > MaxSupportedPacketSize {
		return nil, fmt.Errorf("invalid max packet size %d: must be between 1 and %d", maxPacketSize, MaxSupportedPacketSize)
	}
	return &Parser{
		maxPacketSize: maxPacketSize,
		handler:       handler,
		state:         stateSync,
		packet:        make([]byte, maxPacketSize+2),
	}, nil
}

// AddData feeds buf into the decoder, invoking the frame handler once for every
// frame completed by these bytes. Partial frames are carried over to the next
// call.
func (p *Parser) AddData(buf []byte) {
	for _, b := range buf {
		if p.packetSize > p.maxPacketSize {
			p.oversized.Add(1)
			p.state = stateSync
		}
		// step reports false when b must be consumed again in the new state.
		for !p.step(b) {
		}
	}
}

// Reset drops any partial frame and returns the parser to the sync state.
func (p *Parser) Reset() {
	p.state = stateSync
	p.packetSize = 0
	p.byteCount = 0
}

// Stats returns a snapshot of the decoder counters.
func (p *Parser) Stats() ParserStats {
	return ParserStats{
		Frames:    p.frames.Load(),
		Resyncs:   p.resyncs.Load(),
		Oversized: p.oversized.Load(),
	}
}

func (p *Parser) step(b byte) bool {
	switch p.state {
	case stateDecode:
		if b == TermByte {
			if p.byteCount == 0 && p.packetSize > 0 {
				p.endFrame()
			}
			p.packetSize = 0
			p.byteCount = 0
			return true
		}
		p.byteCount = int(b)
		p.state = stateCopy
		return true

	case stateCopy:
		if p.byteCount <= 1 {
			// run exhausted: store its implied zero, then read b as the next code
			p.packet[p.packetSize] = TermByte
			p.packetSize++
			p.byteCount = 0
			p.state = stateDecode
			return false
		}
		if b == TermByte {
			// terminator inside a run, start over on the next frame
			p.resyncs.Add(1)
			p.packetSize = 0
			p.byteCount = 0
			p.state = stateDecode
			return true
		}
		p.packet[p.packetSize] = b
		p.packetSize++
		p.byteCount--
		return true

	default:
		p.packetSize = 0
		p.byteCount = 0
		if b == TermByte {
			p.state = stateDecode
		}
		return true
	}
}

func (p *Parser) endFrame() {
	n := p.packetSize
	// the zero implied by the final run is an encoding artifact
	if n > 0 && p.packet[n-1] == TermByte {
		n--
	}
	p.frames.Add(1)
	if p.handler != nil {
		p.handler.HandleFrame(p.packet[:n])
	}
	p.state = stateDecode
}
