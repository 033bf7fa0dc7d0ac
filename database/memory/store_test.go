package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore() (*Store, *time.Time) {
	now := t0
	s := New()
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func persist(t *testing.T, s *Store, table string, at time.Time) int64 {
	t.Helper()
	id, err := s.Persist(context.Background(), &models.WebhookEvent{
		Source:     models.SourceRentEngine,
		Table:      table,
		EventType:  "INSERT",
		Record:     models.Payload{"id": "1"},
		ReceivedAt: at,
	})
	require.NoError(t, err)
	return id
}

func TestPendingOrdering(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	late := persist(t, s, "units", t0.Add(2*time.Second))
	early := persist(t, s, "units", t0)
	tie := persist(t, s, "units", t0)

	pending, err := s.Pending(ctx, 10, time.Time{}, t0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{early, tie, late}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})

	limited, err := s.Pending(ctx, 2, time.Time{}, t0)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	settled, err := s.Pending(ctx, 10, t0.Add(time.Second), t0)
	require.NoError(t, err)
	assert.Len(t, settled, 2, "events received after olderThan are held back")
}

func TestClaimStaleness(t *testing.T) {
	s, now := newStore()
	ctx := context.Background()
	id := persist(t, s, "units", t0)

	ok, err := s.Claim(ctx, id, "a", t0.Add(-time.Minute), false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, id, "b", t0.Add(-time.Minute), false)
	require.NoError(t, err)
	assert.False(t, ok, "live claim blocks a second worker")

	*now = t0.Add(time.Hour)
	ok, err = s.Claim(ctx, id, "b", t0.Add(30*time.Minute), false)
	require.NoError(t, err)
	assert.True(t, ok, "abandoned claim is taken over")

	err = s.Skip(ctx, id, "a", "")
	assert.ErrorIs(t, err, database.ErrClaimLost)

	_, err = s.Claim(ctx, 404, "c", t0, false)
	assert.True(t, database.IsNotFound(err))
}

func TestCommitRollsBackOnError(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	id := persist(t, s, "units", t0)

	ok, err := s.Claim(ctx, id, "tok", t0.Add(-time.Minute), false)
	require.NoError(t, err)
	require.True(t, ok)

	boom := errors.New("boom")
	err = s.Commit(ctx, id, "tok", func(st handlers.Store) error {
		_, err := st.EnsureUnit(ctx, models.SourceRentEngine, "u-1")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Units())

	ev, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ev.Processed)

	err = s.Commit(ctx, id, "tok", func(st handlers.Store) error {
		_, err := st.EnsureUnit(ctx, models.SourceRentEngine, "u-1")
		return err
	})
	require.NoError(t, err)
	assert.Len(t, s.Units(), 1)

	ev, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ev.Processed)
	assert.Nil(t, ev.ClaimToken)
}

func TestFailThenFailed(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	units := persist(t, s, "units", t0)
	prospects := persist(t, s, "prospects", t0.Add(time.Second))

	for _, id := range []int64{units, prospects} {
		ok, err := s.Claim(ctx, id, "tok", t0.Add(-time.Minute), false)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.Fail(ctx, id, "tok", " "))
	}

	failed, err := s.Failed(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "handler failed", failed[0].ProcessingError)
	assert.Equal(t, 1, failed[0].Attempts)

	failed, err = s.Failed(ctx, "", "prospects", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, prospects, failed[0].ID)

	pending, err := s.Pending(ctx, 10, time.Time{}, t0)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed events wait for replay")
}

func TestRecentSyncLogs(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	for i, src := range []string{"pipeline", "rentengine", "pipeline"} {
		require.NoError(t, s.CreateLog(ctx, &models.APISyncLog{
			Source:    src,
			Endpoint:  "daily_rollup",
			Status:    models.SyncCompleted,
			StartedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	logs, err := s.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].StartedAt.After(logs[1].StartedAt))

	logs, err = s.Recent(ctx, "pipeline", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}
