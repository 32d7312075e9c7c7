package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/config"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/store"
)

type fakeCleaner struct {
	calls   int
	minutes int
}

func (c *fakeCleaner) CleanupExpiredReservations(_ context.Context, olderThan int) ([]model.Reservation, error) {
	c.calls++
	c.minutes = olderThan
	return nil, nil
}

func TestScheduler_RunsJobs(t *testing.T) {
	e, db := newEngine(t, &fakeRemote{}, 10, testOptions())
	cleaner := &fakeCleaner{}
	s := NewScheduler(config.SchedulerConfig{
		Enabled:               true,
		SyncSpec:              "@every 1h",
		CleanupSpec:           "@every 1h",
		ReservationTTLMinutes: 45,
	}, e, cleaner)

	require.NoError(t, s.Start())
	assert.Len(t, s.entries, 2)
	defer s.Stop()

	// The engine loop is not running, so the sync job runs a pass inline.
	s.runSync()
	history, err := store.New(db).GetSyncHistory(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	s.runCleanup()
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, 45, cleaner.minutes)
}

func TestScheduler_Disabled(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{SyncSpec: "not a spec"}, nil, nil)
	assert.NoError(t, s.Start())
	assert.Empty(t, s.entries)
}

func TestScheduler_InvalidCronExpression(t *testing.T) {
	e, _ := newEngine(t, &fakeRemote{}, 10, testOptions())
	s := NewScheduler(config.SchedulerConfig{Enabled: true, SyncSpec: "every now and then"}, e, nil)
	assert.Error(t, s.Start())
}
