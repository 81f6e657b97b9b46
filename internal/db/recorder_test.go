package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/qphone/internal/aggregator"
	"github.com/banshee-data/qphone/internal/control"
	"github.com/banshee-data/qphone/internal/flight"
)

var recT0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRecorder_WritesRowsOnShutdown(t *testing.T) {
	db := setupTestDB(t)
	rec, err := NewRecorder(db, recT0, "test", nil, 16)
	require.NoError(t, err)

	// queued before Run starts; cancellation must still flush them
	rec.RecordSample(aggregator.Sample{Timestamp: recT0.Add(20 * time.Millisecond), Height: 0.4, Roll: 0.01})
	rec.RecordSample(aggregator.Sample{Timestamp: recT0.Add(10 * time.Millisecond), Height: 0.3})
	rec.RecordMotors(recT0.Add(20*time.Millisecond), control.Output{1, 0, 0, 0}, control.MotorSpeeds{10, 11, 12, 13})
	rec.RecordState(flight.Transition{Time: recT0, From: flight.StateDisarmed, State: flight.StateArmed})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rec.Run(ctx), context.Canceled)

	stats := rec.Stats()
	assert.EqualValues(t, 4, stats.Queued)
	assert.EqualValues(t, 4, stats.Written)
	assert.Zero(t, stats.Dropped)

	samples, err := db.Samples(rec.Session())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, 0.3, samples[0].Height, 1e-12)
	assert.InDelta(t, 0.4, samples[1].Height, 1e-12)
	assert.True(t, recT0.Add(20*time.Millisecond).Equal(samples[1].Timestamp))

	cmds, err := db.MotorCommands(rec.Session())
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, control.MotorSpeeds{10, 11, 12, 13}, cmds[0].Speeds)
	assert.Equal(t, control.Output{1, 0, 0, 0}, cmds[0].Output)

	changes, err := db.StateChanges(rec.Session())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, StateChange{Timestamp: recT0, From: "disarmed", To: "armed"}, changes[0])
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	db := setupTestDB(t)
	rec, err := NewRecorder(db, recT0, "", nil, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rec.RecordSample(aggregator.Sample{Timestamp: recT0.Add(time.Duration(i) * time.Millisecond)})
	}
	stats := rec.Stats()
	assert.EqualValues(t, 2, stats.Queued)
	assert.EqualValues(t, 3, stats.Dropped)
}

func TestRecorder_WritesWhileRunning(t *testing.T) {
	db := setupTestDB(t)
	rec, err := NewRecorder(db, recT0, "", nil, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	for i := 0; i < 50; i++ {
		rec.RecordSample(aggregator.Sample{Timestamp: recT0.Add(time.Duration(i) * time.Millisecond), Height: float64(i)})
	}
	require.Eventually(t, func() bool { return rec.Stats().Written == 50 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	samples, err := db.Samples(rec.Session())
	require.NoError(t, err)
	assert.Len(t, samples, 50)
}

func TestRecorder_SessionsAreSeparate(t *testing.T) {
	db := setupTestDB(t)
	a, err := NewRecorder(db, recT0, "a", nil, 4)
	require.NoError(t, err)
	b, err := NewRecorder(db, recT0.Add(time.Second), "b", nil, 4)
	require.NoError(t, err)

	a.RecordSample(aggregator.Sample{Timestamp: recT0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)
	b.Run(ctx)

	got, err := db.Samples(b.Session())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecorder_Snapshots(t *testing.T) {
	db := setupTestDB(t)
	rec, err := NewRecorder(db, recT0, "", nil, 4)
	require.NoError(t, err)

	rec.RecordSnapshot(recT0.Add(time.Second), control.Stats{Cycles: 50, ZeroActivation: 2, Cells: []int{10, 11, 12, 11, 10}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	snaps, err := db.Snapshots(rec.Session())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.EqualValues(t, 50, snaps[0].Cycles)
	assert.EqualValues(t, 2, snaps[0].ZeroActivation)
	assert.Equal(t, []int{10, 11, 12, 11, 10}, snaps[0].Cells)
}
