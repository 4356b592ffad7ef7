package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/diff"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/testutil"
	"github.com/zjrosen/protoreg/internal/urn"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), testutil.NewTestDB(t))
	require.NoError(t, err)

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	return s
}

func TestRecord_SkipsUnchangedContent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	m := manifest.MustNew(testutil.UserEvents("1.0.0"))

	first, wrote, err := s.Record(ctx, m)
	require.NoError(t, err)
	require.True(t, wrote)
	require.NotEmpty(t, first.ID)

	again, wrote, err := s.Record(ctx, manifest.MustNew(testutil.UserEvents("1.0.0")))
	require.NoError(t, err)
	require.False(t, wrote)
	require.Equal(t, first.ID, again.ID)

	revs, err := s.List(ctx, urn.Data, "user_events")
	require.NoError(t, err)
	require.Len(t, revs, 1)
}

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, v := range []string{"1.0.0", "1.1.0", "1.0.0"} {
		_, wrote, err := s.Record(ctx, manifest.MustNew(testutil.UserEvents(v)))
		require.NoError(t, err)
		require.True(t, wrote, "reverting to older content is a new revision")
	}

	revs, err := s.List(ctx, urn.Data, "user_events")
	require.NoError(t, err)
	require.Len(t, revs, 3)
	require.Equal(t, []string{"1.0.0", "1.1.0", "1.0.0"}, []string{revs[0].Version, revs[1].Version, revs[2].Version})
	require.True(t, revs[0].RecordedAt.After(revs[1].RecordedAt))
	require.True(t, revs[0].Manifest.Equal(manifest.MustNew(testutil.UserEvents("1.0.0"))))

	latest, err := s.Latest(ctx, urn.Data, "user_events")
	require.NoError(t, err)
	require.Equal(t, revs[0].ID, latest.ID)
}

func TestLatest_NoHistory(t *testing.T) {
	_, err := newStore(t).Latest(context.Background(), urn.API, "ghost")
	require.ErrorIs(t, err, ErrNoHistory)

	revs, err := newStore(t).List(context.Background(), urn.API, "ghost")
	require.NoError(t, err)
	require.Empty(t, revs)
}

func TestDrift(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Drift(ctx, urn.Data, "user_events")
	require.ErrorIs(t, err, ErrInsufficientHistory)

	_, _, err = s.Record(ctx, manifest.MustNew(testutil.UserEvents("1.0.0")))
	require.NoError(t, err)
	next := testutil.UserEvents("1.1.0")
	next = testutil.Field("email", "string", true, true)(next)
	_, _, err = s.Record(ctx, manifest.MustNew(next))
	require.NoError(t, err)

	drift, err := s.Drift(ctx, urn.Data, "user_events")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", drift.From.Version)
	require.Equal(t, "1.1.0", drift.To.Version)
	require.True(t, drift.Diff.HasBreaking())
	require.Equal(t, diff.ReasonRequiredChanged, drift.Diff.Breaking[0].Reason)
	require.Contains(t, drift.Migration.Notes, "backfill required for email")
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, wrote, err := s.Record(context.Background(), manifest.MustNew(testutil.Body("event", "signup")))
	require.NoError(t, err)
	require.True(t, wrote)

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	latest, err := reopened.Latest(context.Background(), urn.Event, "signup")
	require.NoError(t, err)
	require.Equal(t, "signup", latest.EntityID)
}
