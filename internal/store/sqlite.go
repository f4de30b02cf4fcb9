package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteStore is the single-node backend used for local play and tests.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection serialises writers, which keeps event_id order equal
	// to commit order.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users(
	  user_id  INTEGER PRIMARY KEY,
	  username TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS game_sessions(
	  session_id INTEGER PRIMARY KEY,
	  dm_user_id INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS session_players(
	  session_id INTEGER NOT NULL,
	  user_id    INTEGER NOT NULL,
	  status     TEXT    NOT NULL DEFAULT 'invited',
	  PRIMARY KEY (session_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS session_events(
	  event_id           INTEGER PRIMARY KEY AUTOINCREMENT,
	  session_id         INTEGER NOT NULL,
	  event_type         TEXT    NOT NULL,
	  event_data         TEXT    NOT NULL CHECK (json_valid(event_data)),
	  created_by_user_id INTEGER,
	  processed          INTEGER NOT NULL DEFAULT 0,
	  processed_at       INTEGER,
	  created_at         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, event_id);
	CREATE INDEX IF NOT EXISTS idx_session_events_unprocessed ON session_events(processed, created_at);
	CREATE TABLE IF NOT EXISTS user_session_activity(
	  user_id       INTEGER NOT NULL,
	  session_id    INTEGER NOT NULL,
	  last_poll_at  INTEGER NOT NULL,
	  last_event_id INTEGER NOT NULL DEFAULT 0,
	  is_online     INTEGER NOT NULL DEFAULT 1,
	  PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_user_session_activity_poll ON user_session_activity(session_id, last_poll_at);
	`)
	if err != nil {
		return fmt.Errorf("creating sqlite tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Collaborator rows are owned by the wider application; these helpers let
// a standalone node and tests populate them.

func (s *SQLiteStore) UpsertUser(ctx context.Context, userID int64, username string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(user_id, username) VALUES(?, ?)
		ON CONFLICT(user_id) DO UPDATE SET username = excluded.username
	`, userID, username)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID, dmUserID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_sessions(session_id, dm_user_id) VALUES(?, ?)
		ON CONFLICT(session_id) DO UPDATE SET dm_user_id = excluded.dm_user_id
	`, sessionID, dmUserID)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetPlayerStatus(ctx context.Context, sessionID, userID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_players(session_id, user_id, status) VALUES(?, ?, ?)
		ON CONFLICT(session_id, user_id) DO UPDATE SET status = excluded.status
	`, sessionID, userID, status)
	if err != nil {
		return fmt.Errorf("setting player status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev domain.NewEvent) (*domain.Event, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	createdAt := s.now().UTC().Truncate(time.Millisecond)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events(session_id, event_type, event_data, created_by_user_id, processed, created_at)
		VALUES(?, ?, json(?), ?, 0, ?)
	`, ev.SessionID, ev.EventType, string(payload), ev.CreatedByUserID, createdAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading event id: %w", err)
	}

	return s.GetEvent(ctx, id)
}

const sqliteEventColumns = `event_id, session_id, event_type, event_data, created_by_user_id, processed, processed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(row rowScanner) (domain.Event, error) {
	var (
		e           domain.Event
		data        string
		createdBy   sql.NullInt64
		processedAt sql.NullInt64
		createdAt   int64
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.EventType, &data, &createdBy, &e.Processed, &processedAt, &createdAt); err != nil {
		return e, err
	}
	e.Payload = []byte(data)
	if createdBy.Valid {
		id := createdBy.Int64
		e.CreatedByUserID = &id
	}
	if processedAt.Valid {
		t := time.UnixMilli(processedAt.Int64).UTC()
		e.ProcessedAt = &t
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	return e, nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteEventColumns+` FROM session_events WHERE event_id = ?`, id)
	e, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListEventsAfter(ctx context.Context, sessionID, afterID int64, limit int) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteEventColumns+`
		FROM session_events
		WHERE session_id = ? AND event_id > ?
		ORDER BY event_id ASC
		LIMIT ?
	`, sessionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) MaxEventID(ctx context.Context, sessionID int64) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(event_id), 0) FROM session_events WHERE session_id = ?`,
		sessionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max event id: %w", err)
	}
	return max, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.now().UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_events SET processed = 1, processed_at = ?
		WHERE processed = 0 AND event_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("marking events processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE session_events SET processed = 1, processed_at = ?
		WHERE processed = 0 AND created_at < ?
	`, s.now().UnixMilli(), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("marking expired events processed: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) TouchPresence(ctx context.Context, sessionID, userID int64, _ string, cursor int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_session_activity(user_id, session_id, last_poll_at, last_event_id, is_online)
		VALUES(?, ?, ?, ?, 1)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
		  last_poll_at = excluded.last_poll_at,
		  last_event_id = MAX(user_session_activity.last_event_id, excluded.last_event_id),
		  is_online = 1
	`, userID, sessionID, at.UnixMilli(), cursor)
	if err != nil {
		return fmt.Errorf("upserting presence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) OnlineUsers(ctx context.Context, sessionID int64, since time.Time) ([]domain.OnlineUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT usa.user_id, u.username
		FROM user_session_activity usa
		JOIN users u ON usa.user_id = u.user_id
		WHERE usa.session_id = ? AND usa.last_poll_at >= ? AND usa.is_online = 1
		ORDER BY usa.user_id
	`, sessionID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying online users: %w", err)
	}
	defer rows.Close()

	users := []domain.OnlineUser{}
	for rows.Next() {
		var u domain.OnlineUser
		if err := rows.Scan(&u.UserID, &u.Username); err != nil {
			return nil, fmt.Errorf("scanning online user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating online users: %w", err)
	}
	return users, nil
}

func (s *SQLiteStore) GetPresence(ctx context.Context, sessionID, userID int64) (*domain.PresenceRecord, error) {
	var (
		p          domain.PresenceRecord
		lastPollAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, last_poll_at, last_event_id, is_online
		FROM user_session_activity WHERE user_id = ? AND session_id = ?
	`, userID, sessionID).Scan(&p.UserID, &p.SessionID, &lastPollAt, &p.LastEventID, &p.IsOnline)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying presence: %w", err)
	}
	p.LastPollAt = time.UnixMilli(lastPollAt).UTC()
	return &p, nil
}

func (s *SQLiteStore) SessionAccess(ctx context.Context, sessionID, userID int64) (domain.Access, error) {
	var dmUserID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT dm_user_id FROM game_sessions WHERE session_id = ?`, sessionID,
	).Scan(&dmUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AccessNone, domain.ErrSessionNotFound
		}
		return domain.AccessNone, fmt.Errorf("querying session: %w", err)
	}
	if dmUserID == userID {
		return domain.AccessDM, nil
	}

	var n int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM session_players
		WHERE session_id = ? AND user_id = ? AND status = 'accepted'
	`, sessionID, userID).Scan(&n)
	if err != nil {
		return domain.AccessNone, fmt.Errorf("querying session player: %w", err)
	}
	if n > 0 {
		return domain.AccessPlayer, nil
	}
	return domain.AccessNone, nil
}
