package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
)

// EventStore is the slice of the store the publisher and poll service need.
type EventStore interface {
	InsertEvent(ctx context.Context, ev domain.NewEvent) (*domain.Event, error)
	ListEventsAfter(ctx context.Context, sessionID, afterID int64, limit int) ([]domain.Event, error)
	MaxEventID(ctx context.Context, sessionID int64) (int64, error)
}

type PresenceStore interface {
	TouchPresence(ctx context.Context, sessionID, userID int64, username string, cursor int64, at time.Time) error
	OnlineUsers(ctx context.Context, sessionID int64, since time.Time) ([]domain.OnlineUser, error)
}

type AccessChecker interface {
	SessionAccess(ctx context.Context, sessionID, userID int64) (domain.Access, error)
}

var errEmptyEventType = errors.New("event type is required")

// Publisher records session events on behalf of the state-changing
// handlers. Publishing is fire-and-forget from the caller's view: a failure
// is logged and reported as false, and never undoes the caller's change.
type Publisher struct {
	events   EventStore
	notifier Notifier
	logger   *slog.Logger
}

// NewPublisher creates a publisher. notifier may be nil.
func NewPublisher(events EventStore, notifier Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		events:   events,
		notifier: notifier,
		logger:   logger,
	}
}

// Publish stores one event and reports whether it was recorded.
func (p *Publisher) Publish(ctx context.Context, sessionID int64, eventType string, payload any, actorUserID *int64) bool {
	_, err := p.PublishEvent(ctx, sessionID, eventType, payload, actorUserID)
	return err == nil
}

// PublishTyped is Publish with the event type taken from the payload.
func (p *Publisher) PublishTyped(ctx context.Context, sessionID int64, payload domain.Payload, actorUserID *int64) bool {
	return p.Publish(ctx, sessionID, payload.EventType(), payload, actorUserID)
}

// PublishEvent stores one event and returns it. Errors are logged here as
// well, so callers that only need success can ignore them.
func (p *Publisher) PublishEvent(ctx context.Context, sessionID int64, eventType string, payload any, actorUserID *int64) (*domain.Event, error) {
	if eventType == "" {
		p.logger.Error("refusing to publish event", "session_id", sessionID, "error", errEmptyEventType)
		return nil, errEmptyEventType
	}

	body, err := marshalPayload(payload)
	if err != nil {
		p.logger.Error("failed to encode event payload",
			"session_id", sessionID,
			"event_type", eventType,
			"error", err,
		)
		return nil, err
	}

	ev, err := p.events.InsertEvent(ctx, domain.NewEvent{
		SessionID:       sessionID,
		EventType:       eventType,
		Payload:         body,
		CreatedByUserID: actorUserID,
	})
	if err != nil {
		p.logger.Error("failed to publish event",
			"session_id", sessionID,
			"event_type", eventType,
			"error", err,
		)
		return nil, domain.Transient("publishing event", err)
	}

	p.logger.Debug("event published",
		"session_id", sessionID,
		"event_type", eventType,
		"event_id", ev.ID,
	)

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, sessionID, ev.ID); err != nil {
			p.logger.Warn("failed to notify subscribers",
				"session_id", sessionID,
				"event_id", ev.ID,
				"error", err,
			)
		}
	}

	return ev, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	if string(body) == "null" {
		return json.RawMessage("{}"), nil
	}
	return body, nil
}
