package serialmux

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrQueueFull is returned by Writer.Post when the outbound queue is full.
var ErrQueueFull = errors.New("link writer queue full")

// PacketSender writes one framed packet to the link.
type PacketSender interface {
	SendPacket(payload []byte) error
}

// Writer serialises outbound packets onto the link from its own goroutine, so
// producers such as the control loop never block on link I/O.
type Writer struct {
	link  PacketSender
	queue chan []byte

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// WriterStats counts writer outcomes.
type WriterStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// NewWriter returns a writer holding up to depth queued packets.
func NewWriter(link PacketSender, depth int) *Writer {
	if depth <= 0 {
		depth = 16
	}
	return &Writer{link: link, queue: make(chan []byte, depth)}
}

// Post queues payload for sending. It never blocks; when the queue is full the
// packet is dropped and ErrQueueFull returned.
func (w *Writer) Post(payload []byte) error {
	select {
	case w.queue <- payload:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run writes queued packets in order until ctx is cancelled. Packets still
// queued at that point are not sent.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-w.queue:
			if err := w.link.SendPacket(payload); err != nil {
				w.failed.Add(1)
				logf("send %x: %v", payload, err)
				continue
			}
			w.sent.Add(1)
		}
	}
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Sent:    w.sent.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}
