package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/jackc/pgx/v5"
)

// InsertEvent appends an event to the session log. The per-session advisory
// lock makes event_id order within a session match commit order, so a
// reader never sees a gap that is later filled by a slower writer.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev domain.NewEvent) (*domain.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ev.SessionID); err != nil {
		return nil, fmt.Errorf("locking session %d: %w", ev.SessionID, err)
	}

	var event domain.Event
	err = tx.QueryRow(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data, created_by_user_id, processed)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING event_id, session_id, event_type, event_data, created_by_user_id, processed, processed_at, created_at
	`, ev.SessionID, ev.EventType, []byte(ev.Payload), ev.CreatedByUserID).Scan(
		&event.ID, &event.SessionID, &event.EventType, &event.Payload,
		&event.CreatedByUserID, &event.Processed, &event.ProcessedAt, &event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing event: %w", err)
	}
	return &event, nil
}

// ListEventsAfter returns up to limit events of the session with
// event_id > afterID, oldest first.
func (s *PostgresStore) ListEventsAfter(ctx context.Context, sessionID, afterID int64, limit int) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, session_id, event_type, event_data, created_by_user_id, processed, processed_at, created_at
		FROM session_events
		WHERE session_id = $1 AND event_id > $2
		ORDER BY event_id ASC
		LIMIT $3
	`, sessionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		err := rows.Scan(
			&e.ID, &e.SessionID, &e.EventType, &e.Payload,
			&e.CreatedByUserID, &e.Processed, &e.ProcessedAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	if events == nil {
		events = []domain.Event{}
	}

	return events, nil
}

// GetEvent returns a single event, or nil when it does not exist.
func (s *PostgresStore) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	var e domain.Event
	err := s.pool.QueryRow(ctx, `
		SELECT event_id, session_id, event_type, event_data, created_by_user_id, processed, processed_at, created_at
		FROM session_events WHERE event_id = $1
	`, id).Scan(
		&e.ID, &e.SessionID, &e.EventType, &e.Payload,
		&e.CreatedByUserID, &e.Processed, &e.ProcessedAt, &e.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return &e, nil
}

// MaxEventID is the session's high-water mark, 0 for an empty session.
func (s *PostgresStore) MaxEventID(ctx context.Context, sessionID int64) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(event_id), 0) FROM session_events WHERE session_id = $1
	`, sessionID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max event id: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE session_events SET processed = TRUE, processed_at = NOW()
		WHERE event_id = ANY($1) AND processed = FALSE
	`, ids)
	if err != nil {
		return fmt.Errorf("marking events processed: %w", err)
	}
	return nil
}

// MarkProcessedBefore flags every unprocessed event created before cutoff
// and returns how many rows changed.
func (s *PostgresStore) MarkProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE session_events SET processed = TRUE, processed_at = NOW()
		WHERE processed = FALSE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("marking expired events processed: %w", err)
	}
	return result.RowsAffected(), nil
}
