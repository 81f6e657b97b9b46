package qcfp

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameRecorder keeps a copy of every frame delivered by a Parser.
type frameRecorder struct {
	frames [][]byte
}

func (r *frameRecorder) HandleFrame(packet []byte) {
	r.frames = append(r.frames, append([]byte{}, packet...))
}

func (r *frameRecorder) last(t *testing.T) []byte {
	t.Helper()
	require.NotEmpty(t, r.frames, "no frame delivered")
	return r.frames[len(r.frames)-1]
}

func newTestParser(t *testing.T, max int) (*Parser, *frameRecorder) {
	t.Helper()
	rec := &frameRecorder{}
	p, err := NewParser(max, rec)
	require.NoError(t, err)
	return p, rec
}

func mustEncode(t *testing.T, payload []byte, max int) []byte {
	t.Helper()
	frame, err := Encode(payload, max)
	require.NoError(t, err)
	return frame
}

func TestNewParser_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1, MaxSupportedPacketSize + 1} {
		_, err := NewParser(size, nil)
		assert.Errorf(t, err, "size %d", size)
	}
}

func TestParser_DispatchExample(t *testing.T) {
	h := NewHandlers()
	calls := 0
	var got []byte
	h.Register(0x02, func(packet []byte) {
		calls++
		got = append([]byte{}, packet...)
	})

	p, err := NewParser(DefaultMaxPacketSize, h)
	require.NoError(t, err)
	p.AddData([]byte{0x00, 0x03, 0x02, 0x03, 0x00})

	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte{0x02, 0x03}, got)
	assert.Len(t, got, 2)
}

func TestParser_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for size := 0; size <= DefaultMaxPacketSize; size++ {
		payloads := map[string][]byte{
			"zeros": make([]byte, size),
			"ones":  bytes.Repeat([]byte{0x01}, size),
			"ff":    bytes.Repeat([]byte{0xFF}, size),
		}
		random := make([]byte, size)
		for i := range random {
			// bias towards zeros so runs of every length show up
			if rng.Intn(4) == 0 {
				random[i] = 0
			} else {
				random[i] = byte(rng.Intn(256))
			}
		}
		payloads["random"] = random

		for name, payload := range payloads {
			p, rec := newTestParser(t, DefaultMaxPacketSize)
			p.AddData(mustEncode(t, payload, DefaultMaxPacketSize))

			require.Lenf(t, rec.frames, 1, "size %d %s", size, name)
			assert.Equalf(t, payload, rec.frames[0], "size %d %s", size, name)
		}
	}
}

func TestParser_LiteralZero(t *testing.T) {
	p, rec := newTestParser(t, DefaultMaxPacketSize)
	p.AddData(mustEncode(t, []byte{0x00}, DefaultMaxPacketSize))

	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte{0x00}, rec.frames[0])
}

func TestParser_ByteAtATime(t *testing.T) {
	payloads := [][]byte{
		{0x10, 0x01, 0x02},
		{0x41, 0x00},
		{0x00, 0x00, 0x07},
		{0xF0, 0x50, 0x50, 0x50, 0x50},
	}
	var stream []byte
	for _, pl := range payloads {
		stream = append(stream, mustEncode(t, pl, DefaultMaxPacketSize)...)
	}

	p, rec := newTestParser(t, DefaultMaxPacketSize)
	for _, b := range stream {
		p.AddData([]byte{b})
	}

	require.Len(t, rec.frames, len(payloads))
	for i := range payloads {
		assert.Equal(t, payloads[i], rec.frames[i])
	}
	assert.Equal(t, uint64(len(payloads)), p.Stats().Frames)
}

func TestParser_DiscardsUntilSync(t *testing.T) {
	p, rec := newTestParser(t, DefaultMaxPacketSize)
	// no terminator yet: parser stays in sync and ignores the run
	p.AddData([]byte{0x03, 0x02, 0x03})
	assert.Empty(t, rec.frames)

	p.AddData([]byte{0x00, 0x03, 0x02, 0x03, 0x00})
	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte{0x02, 0x03}, rec.frames[0])
}

func TestParser_TerminatorMidRunResyncs(t *testing.T) {
	p, rec := newTestParser(t, DefaultMaxPacketSize)
	p.AddData([]byte{0x00, 0x05, 0x01, 0x02, 0x00, 0x03, 0x07, 0x08, 0x00})

	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte{0x07, 0x08}, rec.frames[0])
	assert.Equal(t, uint64(1), p.Stats().Resyncs)
}

func TestParser_MaxSizeFrames(t *testing.T) {
	for name, payload := range map[string][]byte{
		"no zeros":  bytes.Repeat([]byte{0xAA}, DefaultMaxPacketSize),
		"all zeros": make([]byte, DefaultMaxPacketSize),
	} {
		t.Run(name, func(t *testing.T) {
			p, rec := newTestParser(t, DefaultMaxPacketSize)
			p.AddData(mustEncode(t, payload, DefaultMaxPacketSize))
			require.Len(t, rec.frames, 1)
			assert.Equal(t, payload, rec.frames[0])
		})
	}
}

func TestParser_OversizedFrameDropped(t *testing.T) {
	for name, payload := range map[string][]byte{
		"no zeros":  bytes.Repeat([]byte{0xAA}, DefaultMaxPacketSize+1),
		"all zeros": make([]byte, DefaultMaxPacketSize+1),
		"much larger": bytes.Repeat([]byte{0x01, 0x02, 0x00}, 30),
	} {
		t.Run(name, func(t *testing.T) {
			p, rec := newTestParser(t, DefaultMaxPacketSize)
			p.AddData(mustEncode(t, payload, MaxSupportedPacketSize))
			assert.Empty(t, rec.frames)
			assert.NotZero(t, p.Stats().Oversized)

			// the next well-formed frame still decodes
			p.AddData(mustEncode(t, []byte{0x41, 0x01}, DefaultMaxPacketSize))
			require.Len(t, rec.frames, 1)
			assert.Equal(t, []byte{0x41, 0x01}, rec.frames[0])
		})
	}
}

func TestParser_GarbageNeverPanicsAndRelocks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	want := []byte{0x10, 0x00, 0x22, 0x00, 0x33}

	for trial := 0; trial < 200; trial++ {
		garbage := make([]byte, rng.Intn(200))
		rng.Read(garbage)

		p, rec := newTestParser(t, DefaultMaxPacketSize)
		assert.NotPanics(t, func() {
			p.AddData(garbage)
			p.AddData(mustEncode(t, want, DefaultMaxPacketSize))
		})
		require.NotEmptyf(t, rec.frames, "trial %d", trial)
		assert.Equalf(t, want, rec.last(t), "trial %d", trial)
		for _, f := range rec.frames {
			assert.LessOrEqual(t, len(f), DefaultMaxPacketSize)
		}
	}
}

func TestParser_Reset(t *testing.T) {
	p, rec := newTestParser(t, DefaultMaxPacketSize)
	p.AddData([]byte{0x00, 0x04, 0x01, 0x02})
	p.Reset()
	// the tail of the abandoned frame is ignored while resynchronising
	p.AddData([]byte{0x03, 0x00})
	assert.Empty(t, rec.frames)

	p.AddData(mustEncode(t, []byte{0x01}, DefaultMaxPacketSize))
	require.Len(t, rec.frames, 1)
	assert.Equal(t, []byte{0x01}, rec.frames[0])
}
