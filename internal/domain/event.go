package domain

import (
	"encoding/json"
	"time"
)

// Event is an immutable, session-scoped state-change notification.
// ID is assigned by the store and doubles as the client cursor.
type Event struct {
	ID              int64           `json:"event_id"`
	SessionID       int64           `json:"session_id"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"event_data"`
	CreatedByUserID *int64          `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Processed       bool            `json:"processed"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// NewEvent is what the publisher hands to the store; the store fills in
// ID and CreatedAt.
type NewEvent struct {
	SessionID       int64
	EventType       string
	Payload         json.RawMessage
	CreatedByUserID *int64
}

// Decode returns the typed payload for the event's type.
func (e *Event) Decode() Payload {
	return DecodePayload(e.EventType, e.Payload)
}
