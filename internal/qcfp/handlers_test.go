package qcfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlers_Dispatch(t *testing.T) {
	h := NewHandlers()

	var first, second int
	h.Register(CmdFlightMode, func(packet []byte) { first++ })
	h.Dispatch([]byte{CmdFlightMode, FlightModeEnable})
	assert.Equal(t, 1, first)

	// re-registering replaces the old handler
	h.Register(CmdFlightMode, func(packet []byte) { second++ })
	h.Dispatch([]byte{CmdFlightMode, FlightModeEnable})
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	// unknown and empty frames are dropped silently
	h.Dispatch([]byte{0x7E, 0x01})
	h.Dispatch(nil)
	assert.Equal(t, uint64(2), h.Dropped())

	// nil unregisters
	h.Register(CmdFlightMode, nil)
	h.Dispatch([]byte{CmdFlightMode})
	assert.Equal(t, 1, second)
	assert.Equal(t, uint64(3), h.Dropped())
}

func TestHandlers_ReceivesWholeFrame(t *testing.T) {
	h := NewHandlers()
	var got []byte
	h.Register(CmdDebug, func(packet []byte) { got = append([]byte{}, packet...) })

	h.HandleFrame([]byte{CmdDebug, 'p', 'i', 'n', 'g'})
	assert.Equal(t, []byte{CmdDebug, 'p', 'i', 'n', 'g'}, got)
}
