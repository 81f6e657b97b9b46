package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/control"
	"github.com/banshee-data/qphone/internal/flight"
	"github.com/banshee-data/qphone/internal/monitoring"
)

var logf = monitoring.Prefixed("recorder")

const (
	defaultRecorderDepth = 1024
	maxBatch             = 256
)

// record is one row waiting to be written.
type record interface {
	insert(tx *sql.Tx, session string) error
}

type sampleRecord aggregator.Sample

func (r sampleRecord) insert(tx *sql.Tx, session string) error {
	_, err := tx.Exec(
		`INSERT INTO samples (session_id, ts_ns, height, roll, pitch, yaw) VALUES (?, ?, ?, ?, ?, ?)`,
		session, r.Timestamp.UnixNano(), r.Height, r.Roll, r.Pitch, r.Yaw,
	)
	return err
}

type motorRecord MotorCommand

func (r motorRecord) insert(tx *sql.Tx, session string) error {
	_, err := tx.Exec(
		`INSERT INTO motor_commands (session_id, ts_ns, out_thrust, out_roll, out_pitch, out_yaw, m0, m1, m2, m3)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, r.Timestamp.UnixNano(),
		r.Output[0], r.Output[1], r.Output[2], r.Output[3],
		r.Speeds[0], r.Speeds[1], r.Speeds[2], r.Speeds[3],
	)
	return err
}

type stateRecord flight.Transition

func (r stateRecord) insert(tx *sql.Tx, session string) error {
	_, err := tx.Exec(
		`INSERT INTO state_transitions (session_id, ts_ns, from_state, to_state) VALUES (?, ?, ?, ?)`,
		session, r.Time.UnixNano(), string(r.From), string(r.State),
	)
	return err
}

type snapshotRecord struct {
	t     time.Time
	stats control.Stats
}

func (r snapshotRecord) insert(tx *sql.Tx, session string) error {
	cells, err := json.Marshal(r.stats.Cells)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO controller_snapshots (session_id, ts_ns, cycles, zero_activation, cells_json) VALUES (?, ?, ?, ?, ?)`,
		session, r.t.UnixNano(), r.stats.Cycles, r.stats.ZeroActivation, string(cells),
	)
	return err
}

// RecorderStats counts recorder outcomes.
type RecorderStats struct {
	Queued  uint64 `json:"queued"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Recorder writes flight data for one session from its own goroutine. The
// Record methods never block: when the queue is full the row is dropped.
type Recorder struct {
	db      *DB
	session string
	queue   chan record

	queued  atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ flight.Recorder = (*Recorder)(nil)

// NewRecorder creates a session and returns a recorder writing into it.
// depth bounds the number of rows waiting to be written.
func NewRecorder(db *DB, started time.Time, label string, config any, depth int) (*Recorder, error) {
	if depth <= 0 {
		depth = defaultRecorderDepth
	}
	id, err := db.CreateSession(started, label, config)
	if err != nil {
		return nil, err
	}
	logf("recording session %s", id)
	return &Recorder{db: db, session: id, queue: make(chan record, depth)}, nil
}

// Session returns the ID of the session being recorded.
func (r *Recorder) Session() string { return r.session }

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
		r.queued.Add(1)
	default:
		r.dropped.Add(1)
	}
}

// RecordSample queues a sensor sample.
func (r *Recorder) RecordSample(s aggregator.Sample) {
	r.enqueue(sampleRecord(s))
}

// RecordMotors queues the outcome of a control cycle.
func (r *Recorder) RecordMotors(t time.Time, out control.Output, speeds control.MotorSpeeds) {
	r.enqueue(motorRecord{Timestamp: t, Output: out, Speeds: speeds})
}

// RecordState queues a system state transition.
func (r *Recorder) RecordState(tr flight.Transition) {
	r.enqueue(stateRecord(tr))
}

// RecordSnapshot queues the controller counters and per-layer cell counts.
func (r *Recorder) RecordSnapshot(t time.Time, stats control.Stats) {
	r.enqueue(snapshotRecord{t: t, stats: stats})
}

// Run writes queued rows in batches until ctx is cancelled, then writes
// whatever is still queued.
func (r *Recorder) Run(ctx context.Context) error {
	batch := make([]record, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			r.drain(batch[:0])
			return ctx.Err()
		case rec := <-r.queue:
			batch = append(batch[:0], rec)
			batch = r.fill(batch)
			r.write(batch)
		}
	}
}

// fill adds queued rows to batch without blocking.
func (r *Recorder) fill(batch []record) []record {
	for len(batch) < maxBatch {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) drain(batch []record) {
	for {
		batch = r.fill(batch[:0])
		if len(batch) == 0 {
			return
		}
		r.write(batch)
	}
}

func (r *Recorder) write(batch []record) {
	if err := r.writeBatch(batch); err != nil {
		r.failed.Add(uint64(len(batch)))
		logf("dropping %d rows: %v", len(batch), err)
		return
	}
	r.written.Add(uint64(len(batch)))
}

func (r *Recorder) writeBatch(batch []record) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	for _, rec := range batch {
		if err := rec.insert(tx, r.session); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Queued:  r.queued.Load(),
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
