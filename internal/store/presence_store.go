package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/jackc/pgx/v5"
)

// TouchPresence upserts the (user, session) activity row. The username is
// resolved from the users table on read, so it is not stored here.
func (s *PostgresStore) TouchPresence(ctx context.Context, sessionID, userID int64, _ string, cursor int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_session_activity (user_id, session_id, last_poll_at, last_event_id, is_online)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (user_id, session_id) DO UPDATE SET
			last_poll_at = EXCLUDED.last_poll_at,
			last_event_id = GREATEST(user_session_activity.last_event_id, EXCLUDED.last_event_id),
			is_online = TRUE
	`, userID, sessionID, at, cursor)
	if err != nil {
		return fmt.Errorf("upserting presence: %w", err)
	}
	return nil
}

// OnlineUsers lists users of the session whose last poll is at or after since.
func (s *PostgresStore) OnlineUsers(ctx context.Context, sessionID int64, since time.Time) ([]domain.OnlineUser, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT usa.user_id, u.username
		FROM user_session_activity usa
		JOIN users u ON usa.user_id = u.user_id
		WHERE usa.session_id = $1
		  AND usa.last_poll_at >= $2
		  AND usa.is_online = TRUE
		ORDER BY usa.user_id
	`, sessionID, since)
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

func (s *PostgresStore) GetPresence(ctx context.Context, sessionID, userID int64) (*domain.PresenceRecord, error) {
	var p domain.PresenceRecord
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, session_id, last_poll_at, last_event_id, is_online
		FROM user_session_activity WHERE user_id = $1 AND session_id = $2
	`, userID, sessionID).Scan(&p.UserID, &p.SessionID, &p.LastPollAt, &p.LastEventID, &p.IsOnline)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying presence: %w", err)
	}
	return &p, nil
}

// SessionAccess reports whether userID is the session's DM, an accepted
// player, or neither. An unknown session yields domain.ErrSessionNotFound.
func (s *PostgresStore) SessionAccess(ctx context.Context, sessionID, userID int64) (domain.Access, error) {
	var dmUserID int64
	err := s.pool.QueryRow(ctx,
		"SELECT dm_user_id FROM game_sessions WHERE session_id = $1",
		sessionID,
	).Scan(&dmUserID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.AccessNone, domain.ErrSessionNotFound
		}
		return domain.AccessNone, fmt.Errorf("querying session: %w", err)
	}
	if dmUserID == userID {
		return domain.AccessDM, nil
	}

	var accepted bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM session_players
			WHERE session_id = $1 AND user_id = $2 AND status = 'accepted'
		)
	`, sessionID, userID).Scan(&accepted)
	if err != nil {
		return domain.AccessNone, fmt.Errorf("querying session player: %w", err)
	}
	if accepted {
		return domain.AccessPlayer, nil
	}
	return domain.AccessNone, nil
}
