package qcfp

import (
	"sync"
	"sync/atomic"
)

// HandlerFunc handles one decoded frame. packet[0] is the command byte and
// len(packet) is the frame length. The slice is only valid during the call.
type HandlerFunc func(packet []byte)

// Handlers routes decoded frames to the handler registered for their command
// byte. It implements FrameHandler so it can be given directly to a Parser.
//
// Handlers run synchronously on the decoding goroutine and must not block; slow
// work belongs on another goroutine.
type Handlers struct {
	mu        sync.RWMutex
	callbacks map[byte]HandlerFunc
	dropped   atomic.Uint64
}

// NewHandlers returns an empty dispatch table.
func NewHandlers() *Handlers {
	return &Handlers{callbacks: make(map[byte]HandlerFunc)}
}

// Register installs fn for command, replacing any previous handler. A nil fn
// removes the registration.
func (h *Handlers) Register(command byte, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.callbacks, command)
		return
	}
	h.callbacks[command] = fn
}

// Dispatch invokes the handler registered for packet[0]. Empty packets and
// unregistered commands are dropped without error.
func (h *Handlers) Dispatch(packet []byte) {
	if len(packet) == 0 {
		h.dropped.Add(1)
		return
	}
	h.mu.RLock()
	fn, ok := h.callbacks[packet[0]]
	h.mu.RUnlock()
	if !ok {
		h.dropped.Add(1)
		return
	}
	fn(packet)
}

// HandleFrame implements FrameHandler.
func (h *Handlers) HandleFrame(packet []byte) {
	h.Dispatch(packet)
}

// Dropped reports how many frames had no handler.
func (h *Handlers) Dropped() uint64 {
	return h.dropped.Load()
}
