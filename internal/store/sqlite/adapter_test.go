package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchbot/punchbot/internal/model"
	"github.com/punchbot/punchbot/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "state", "punchbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "ghost")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &model.UserRecord{
		UserID:  "alice",
		State:   model.StateAuthenticated,
		Started: true,
		Reminders: []model.ReminderRule{
			{Stamp: model.StampIn, Days: []time.Weekday{time.Monday, time.Friday}, TimeOfDay: "09:15"},
		},
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StateAuthenticated, got.State)
	assert.True(t, got.Started)
	require.Len(t, got.Reminders, 1)
	assert.Equal(t, "in@09:15@1,5", got.Reminders[0].Key())
}

func TestUpdate_CreatesFreshRecord(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Update(context.Background(), "bob", func(r *model.UserRecord) error {
		r.Started = true
		r.State = model.StateUnauthenticated
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.UserID)
	assert.Equal(t, model.StateUnauthenticated, rec.State)

	got, err := s.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, got.Started)
}

func TestUpdate_FnErrorLeavesRecordUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &model.UserRecord{UserID: "alice", State: model.StateAuthenticated}))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "alice", func(r *model.UserRecord) error {
		r.State = model.StateStart
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StateAuthenticated, got.State)
}

func TestAll_ListsEveryUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &model.UserRecord{UserID: "alice", State: model.StateAuthenticated}))
	require.NoError(t, s.Put(ctx, &model.UserRecord{UserID: "bob", State: model.StateStart}))

	recs, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "alice", recs[0].UserID)
	assert.Equal(t, "bob", recs[1].UserID)
}

func TestUpdate_ConcurrentSameUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.Update(ctx, "alice", func(r *model.UserRecord) error {
				r.Reminders = append(r.Reminders, model.ReminderRule{
					Stamp:     model.StampIn,
					Days:      []time.Weekday{time.Weekday(len(r.Reminders) % 7)},
					TimeOfDay: "09:15",
				})
				return nil
			})
			done <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, got.Reminders, n, "per-user updates must not lose writes")
}
