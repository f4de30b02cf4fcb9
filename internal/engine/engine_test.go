package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/dmscreen/sessionfeed/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	testSession  = int64(42)
	dmUser       = int64(1)
	playerUser   = int64(2)
	invitedUser  = int64(3)
	strangerUser = int64(4)
)

// newTestStore returns a SQLite store with one session: user 1 is the DM,
// user 2 an accepted player and user 3 only invited.
func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, dmUser, "dungeonmaster"))
	require.NoError(t, s.UpsertUser(ctx, playerUser, "mira"))
	require.NoError(t, s.UpsertUser(ctx, invitedUser, "tor"))
	require.NoError(t, s.UpsertUser(ctx, strangerUser, "vex"))
	require.NoError(t, s.CreateSession(ctx, testSession, dmUser))
	require.NoError(t, s.SetPlayerStatus(ctx, testSession, playerUser, "accepted"))
	require.NoError(t, s.SetPlayerStatus(ctx, testSession, invitedUser, "invited"))
	return s
}

// fakeClock is a settable clock for presence tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errStoreDown = errors.New("store unavailable")

// failingEvents wraps an EventStore and fails the selected operations.
type failingEvents struct {
	EventStore
	failInsert bool
	failList   bool
}

func (f *failingEvents) InsertEvent(ctx context.Context, ev domain.NewEvent) (*domain.Event, error) {
	if f.failInsert {
		return nil, errStoreDown
	}
	return f.EventStore.InsertEvent(ctx, ev)
}

func (f *failingEvents) ListEventsAfter(ctx context.Context, sessionID, afterID int64, limit int) ([]domain.Event, error) {
	if f.failList {
		return nil, errStoreDown
	}
	return f.EventStore.ListEventsAfter(ctx, sessionID, afterID, limit)
}

// failingPresence fails every presence write but still serves reads.
type failingPresence struct {
	PresenceStore
}

func (failingPresence) TouchPresence(context.Context, int64, int64, string, int64, time.Time) error {
	return errStoreDown
}

// recordingNotifier remembers every notification.
type recordingNotifier struct {
	*LocalNotifier
	notified []int64
	err      error
}

func (r *recordingNotifier) Notify(ctx context.Context, sessionID, eventID int64) error {
	r.notified = append(r.notified, eventID)
	if r.err != nil {
		return r.err
	}
	return r.LocalNotifier.Notify(ctx, sessionID, eventID)
}
