// Package db stores flight recordings in SQLite: the sensor samples, motor
// commands and state transitions of each autopilot session.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/control"
)

type DB struct {
	*sql.DB
}

// connPragmas apply to every pooled connection.
const connPragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// OpenDB opens the database at path without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+connPragmas)
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database at path and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Session is one recorded autopilot run.
type Session struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	Label     string          `json:"label"`
	Config    json.RawMessage `json:"config"`
}

// CreateSession inserts a new session and returns its ID. config is stored
// as JSON for later analysis and may be nil.
func (db *DB) CreateSession(started time.Time, label string, config any) (string, error) {
	cfg := []byte("{}")
	if config != nil {
		var err error
		if cfg, err = json.Marshal(config); err != nil {
			return "", fmt.Errorf("encode session config: %w", err)
		}
	}
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_ns, label, config_json) VALUES (?, ?, ?, ?)`,
		id, started.UnixNano(), label, string(cfg),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, started_ns, label, config_json FROM sessions ORDER BY started_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			cfg     string
		)
		if err := rows.Scan(&s.ID, &started, &s.Label, &cfg); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started).UTC()
		s.Config = json.RawMessage(cfg)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LatestSession returns the most recent session.
func (db *DB) LatestSession() (Session, error) {
	sessions, err := db.Sessions()
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, sql.ErrNoRows
	}
	return sessions[0], nil
}

// Samples returns the sensor samples of a session in time order.
func (db *DB) Samples(sessionID string) ([]aggregator.Sample, error) {
	rows, err := db.Query(
		`SELECT ts_ns, height, roll, pitch, yaw FROM samples WHERE session_id = ? ORDER BY ts_ns`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []aggregator.Sample
	for rows.Next() {
		var (
			s  aggregator.Sample
			ts int64
		)
		if err := rows.Scan(&ts, &s.Height, &s.Roll, &s.Pitch, &s.Yaw); err != nil {
			return nil, err
		}
		s.Timestamp = time.Unix(0, ts).UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// MotorCommand is one recorded control cycle.
type MotorCommand struct {
	Timestamp time.Time           `json:"timestamp"`
	Output    control.Output      `json:"output"`
	Speeds    control.MotorSpeeds `json:"speeds"`
}

// MotorCommands returns the control cycles of a session in time order.
func (db *DB) MotorCommands(sessionID string) ([]MotorCommand, error) {
	rows, err := db.Query(
		`SELECT ts_ns, out_thrust, out_roll, out_pitch, out_yaw, m0, m1, m2, m3
		FROM motor_commands WHERE session_id = ? ORDER BY ts_ns`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []MotorCommand
	for rows.Next() {
		var (
			m  MotorCommand
			ts int64
		)
		if err := rows.Scan(&ts,
			&m.Output[0], &m.Output[1], &m.Output[2], &m.Output[3],
			&m.Speeds[0], &m.Speeds[1], &m.Speeds[2], &m.Speeds[3],
		); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		cmds = append(cmds, m)
	}
	return cmds, rows.Err()
}

// StateChange is one recorded system state transition.
type StateChange struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}

// StateChanges returns the state transitions of a session in time order.
func (db *DB) StateChanges(sessionID string) ([]StateChange, error) {
	rows, err := db.Query(
		`SELECT ts_ns, from_state, to_state FROM state_transitions WHERE session_id = ? ORDER BY ts_ns`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []StateChange
	for rows.Next() {
		var (
			c  StateChange
			ts int64
		)
		if err := rows.Scan(&ts, &c.From, &c.To); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(0, ts).UTC()
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Snapshot is a recorded view of the controller's growth.
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Cycles         uint64    `json:"cycles"`
	ZeroActivation uint64    `json:"zero_activation"`
	Cells          []int     `json:"cells"`
}

// Snapshots returns the controller snapshots of a session in time order.
func (db *DB) Snapshots(sessionID string) ([]Snapshot, error) {
	rows, err := db.Query(
		`SELECT ts_ns, cycles, zero_activation, cells_json FROM controller_snapshots WHERE session_id = ? ORDER BY ts_ns`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var (
			s     Snapshot
			ts    int64
			cells string
		)
		if err := rows.Scan(&ts, &s.Cycles, &s.ZeroActivation, &cells); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cells), &s.Cells); err != nil {
			return nil, fmt.Errorf("decode cell counts: %w", err)
		}
		s.Timestamp = time.Unix(0, ts).UTC()
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
