// Serialmux owns the byte link to the flight control board. A single reader
// goroutine performs blocking reads and fans each chunk out to subscribers
// (the frame decoder, the admin tail); outbound packets are framed with QCFP
// and written under a lock. Link failures are reported as LinkStatus events.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/qphone/internal/monitoring"
	"github.com/banshee-data/qphone/internal/qcfp"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

var logf = monitoring.Prefixed("link")

// subscriberBuffer is the number of chunks a slow subscriber may lag behind
// before chunks are dropped for it.
const subscriberBuffer = 64

// LinkStatus reports a change in link connectivity.
type LinkStatus struct {
	Time   time.Time `json:"time"`
	Up     bool      `json:"up"`
	Reason string    `json:"reason,omitempty"`
}

// Stats counts link traffic.
type Stats struct {
	BytesRead     uint64 `json:"bytes_read"`
	BytesWritten  uint64 `json:"bytes_written"`
	PacketsSent   uint64 `json:"packets_sent"`
	ChunksDropped uint64 `json:"chunks_dropped"`
	WriteErrors   uint64 `json:"write_errors"`
}

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to the raw byte stream of a single serial port.
type SerialMux[T SerialPorter] struct {
	port          T
	maxPacketSize int

	subscribers  map[string]chan []byte
	lagging      map[string]bool
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      atomic.Bool

	status chan LinkStatus

	bytesRead     atomic.Uint64
	bytesWritten  atomic.Uint64
	packetsSent   atomic.Uint64
	chunksDropped atomic.Uint64
	writeErrors   atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel receiving every chunk read from the
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing. Chunks are shared between subscribers and must not be
	// modified. A nil chunk marks a gap: chunks were dropped because the
	// subscriber fell behind.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendPacket frames payload and writes it to the port.
	SendPacket(payload []byte) error
	// Monitor reads from the port until ctx is done or the link fails.
	Monitor(context.Context) error
	// Status delivers link up/down events.
	Status() <-chan LinkStatus
	// Stats returns traffic counters.
	Stats() Stats
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux over port. Outbound payloads larger than
// maxPacketSize are refused.
func NewSerialMux[T SerialPorter](port T, maxPacketSize int) *SerialMux[T] {
	if maxPacketSize <= 0 {
		maxPacketSize = qcfp.DefaultMaxPacketSize
	}
	return &SerialMux[T]{
		port:          port,
		maxPacketSize: maxPacketSize,
		subscribers:   make(map[string]chan []byte),
		lagging:       make(map[string]bool),
		status:        make(chan LinkStatus, 16),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
		delete(s.lagging, id)
	}
}

// Status returns the channel of link events. Events are dropped when nobody
// drains it.
func (s *SerialMux[T]) Status() <-chan LinkStatus {
	return s.status
}

func (s *SerialMux[T]) publishStatus(up bool, reason string) {
	ev := LinkStatus{Time: time.Now(), Up: up, Reason: reason}
	select {
	case s.status <- ev:
	default:
		logf("status channel full, dropping %+v", ev)
	}
}

// SendPacket frames payload and writes it to the port.
func (s *SerialMux[T]) SendPacket(payload []byte) error {
	frame, err := qcfp.Encode(payload, s.maxPacketSize)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write(frame)
	if n > 0 {
		s.bytesWritten.Add(uint64(n))
	}
	if err != nil {
		s.writeErrors.Add(1)
		s.publishStatus(false, err.Error())
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(frame) {
		s.writeErrors.Add(1)
		return ErrWriteFailed
	}
	s.packetsSent.Add(1)
	return nil
}

// Monitor reads chunks from the port and sends them to subscribers. It returns
// nil when the port reaches EOF or is closed, ctx.Err() on cancellation and
// the read error otherwise.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	// the blocking Read must not hold up cancellation, so it runs on its own
	// goroutine and hands each chunk over
	go func() {
		defer close(chunks)
		buf := make([]byte, 2*qcfp.MaxEncodedSize(s.maxPacketSize))
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	s.publishStatus(true, "")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return s.readFailed(err)

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					return s.readFailed(err)
				default:
					return ctx.Err()
				}
			}
			if s.closing.Load() {
				return nil
			}
			s.bytesRead.Add(uint64(len(chunk)))

			s.subscriberMu.Lock()
			for id, ch := range s.subscribers {
				s.deliver(id, ch, chunk)
			}
			s.subscriberMu.Unlock()
		}
	}
}

// deliver hands chunk to one subscriber without blocking. A subscriber that
// lost chunks gets a nil gap marker before its next chunk. Called with
// subscriberMu held.
func (s *SerialMux[T]) deliver(id string, ch chan []byte, chunk []byte) {
	if s.lagging[id] {
		select {
		case ch <- nil:
			delete(s.lagging, id)
		default:
			s.chunksDropped.Add(1)
			return
		}
	}
	select {
	case ch <- chunk:
	default:
		s.chunksDropped.Add(1)
		s.lagging[id] = true
	}
}

func (s *SerialMux[T]) readFailed(err error) error {
	if s.closing.Load() {
		return nil
	}
	s.publishStatus(false, err.Error())
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Stats returns a snapshot of the traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		BytesRead:     s.bytesRead.Load(),
		BytesWritten:  s.bytesWritten.Load(),
		PacketsSent:   s.packetsSent.Load(),
		ChunksDropped: s.chunksDropped.Load(),
		WriteErrors:   s.writeErrors.Load(),
	}
}

func (s *SerialMux[T]) Close() error {
	s.closing.Store(true)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
		delete(s.lagging, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
