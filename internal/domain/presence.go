package domain

import "time"

// PresenceRecord is the last-activity row for one (user, session) pair.
// IsOnline is always written true; liveness is derived from LastPollAt.
type PresenceRecord struct {
	UserID      int64     `json:"user_id"`
	SessionID   int64     `json:"session_id"`
	LastPollAt  time.Time `json:"last_poll_at"`
	LastEventID int64     `json:"last_event_id"`
	IsOnline    bool      `json:"is_online"`
}

// OnlineUser is a user whose last poll falls inside the freshness window.
type OnlineUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Access is the caller's relationship to a game session.
type Access int

const (
	AccessNone Access = iota
	AccessPlayer
	AccessDM
)

func (a Access) String() string {
	switch a {
	case AccessDM:
		return "dm"
	case AccessPlayer:
		return "player"
	default:
		return "none"
	}
}
