package store

import (
	"context"
	"strings"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
)

// Backend is the full method set shared by the Postgres and SQLite stores.
type Backend interface {
	InsertEvent(ctx context.Context, ev domain.NewEvent) (*domain.Event, error)
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListEventsAfter(ctx context.Context, sessionID, afterID int64, limit int) ([]domain.Event, error)
	MaxEventID(ctx context.Context, sessionID int64) (int64, error)
	MarkProcessed(ctx context.Context, ids []int64) error
	MarkProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	TouchPresence(ctx context.Context, sessionID, userID int64, username string, cursor int64, at time.Time) error
	OnlineUsers(ctx context.Context, sessionID int64, since time.Time) ([]domain.OnlineUser, error)
	GetPresence(ctx context.Context, sessionID, userID int64) (*domain.PresenceRecord, error)

	SessionAccess(ctx context.Context, sessionID, userID int64) (domain.Access, error)

	Ping(ctx context.Context) error
	Close() error
}

const sqliteScheme = "sqlite://"

// Open picks a backend from the URL scheme: sqlite://path opens a local
// database file, anything else is treated as a Postgres URL and migrated.
func Open(ctx context.Context, databaseURL string) (Backend, error) {
	if strings.HasPrefix(databaseURL, sqliteScheme) {
		return NewSQLite(strings.TrimPrefix(databaseURL, sqliteScheme))
	}

	pg, err := NewPostgres(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.RunMigrations(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
