package control

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the outcome of one control cycle.
type Result struct {
	// Timestamp is the time of the measurement the input was computed from.
	Timestamp time.Time
	Output    Output
	Speeds    MotorSpeeds
}

// WorkerStats counts worker activity.
type WorkerStats struct {
	Submitted  uint64 `json:"submitted"`
	Superseded uint64 `json:"superseded"`
	Processed  uint64 `json:"processed"`
	Failed     uint64 `json:"failed"`
}

type job struct {
	timestamp time.Time
	input     []float64
}

// Worker runs the control loop on its own goroutine. It holds at most one
// pending input: a Submit that arrives before the previous input was picked up
// replaces it, so the loop always works on the freshest error vector.
type Worker struct {
	loop *Loop
	sink func(Result)

	mu      sync.Mutex
	pending *job
	notify  chan struct{}

	submitted  atomic.Uint64
	superseded atomic.Uint64
	processed  atomic.Uint64
	failed     atomic.Uint64
}

// NewWorker returns a worker feeding loop. sink is called on the worker
// goroutine with every result and must not block for long.
func NewWorker(loop *Loop, sink func(Result)) *Worker {
	return &Worker{
		loop:   loop,
		sink:   sink,
		notify: make(chan struct{}, 1),
	}
}

// Submit queues input for the next cycle, dropping any input still waiting.
// It never blocks. input is copied.
func (w *Worker) Submit(timestamp time.Time, input []float64) {
	j := &job{timestamp: timestamp, input: append([]float64(nil), input...)}

	w.mu.Lock()
	if w.pending != nil {
		w.superseded.Add(1)
	}
	w.pending = j
	w.mu.Unlock()
	w.submitted.Add(1)

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run processes inputs until ctx is cancelled. Input still pending at that
// point is discarded.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
		}

		w.mu.Lock()
		j := w.pending
		w.pending = nil
		w.mu.Unlock()
		if j == nil {
			continue
		}

		out, err := w.loop.Update(j.input)
		if err != nil {
			w.failed.Add(1)
			logf("update failed: %v", err)
			continue
		}
		w.processed.Add(1)
		if w.sink != nil {
			w.sink(Result{Timestamp: j.timestamp, Output: out, Speeds: OutputToMotorSpeeds(out)})
		}
	}
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Submitted:  w.submitted.Load(),
		Superseded: w.superseded.Load(),
		Processed:  w.processed.Load(),
		Failed:     w.failed.Load(),
	}
}
