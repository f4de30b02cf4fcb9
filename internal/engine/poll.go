package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
)

const (
	DefaultBatchSize      = 50
	DefaultPresenceWindow = 30 * time.Second
)

// PollRequest is one client poll. Cursor is the highest event ID the client
// has already seen; TimeoutHint is how long the client is willing to wait.
type PollRequest struct {
	SessionID   int64
	UserID      int64
	Username    string
	Cursor      int64
	TimeoutHint time.Duration
}

type PollResult struct {
	SessionID   int64
	Events      []domain.Event
	OnlineUsers []domain.OnlineUser
	NextCursor  int64
	ServedAt    time.Time
}

type PollOptions struct {
	BatchSize      int
	PresenceWindow time.Duration
	// MaxWait enables waiting for a notification when a poll finds nothing.
	// Zero answers immediately.
	MaxWait  time.Duration
	Notifier Notifier
}

// PollService answers client polls: it authorizes the caller, records
// their presence, and returns the next batch of events after their cursor.
type PollService struct {
	events   EventStore
	presence PresenceStore
	access   AccessChecker
	logger   *slog.Logger

	batchSize int
	window    time.Duration
	maxWait   time.Duration
	notifier  Notifier

	now func() time.Time
}

func NewPollService(events EventStore, presence PresenceStore, access AccessChecker, logger *slog.Logger, opts PollOptions) *PollService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PresenceWindow <= 0 {
		opts.PresenceWindow = DefaultPresenceWindow
	}
	return &PollService{
		events:    events,
		presence:  presence,
		access:    access,
		logger:    logger,
		batchSize: opts.BatchSize,
		window:    opts.PresenceWindow,
		maxWait:   opts.MaxWait,
		notifier:  opts.Notifier,
		now:       time.Now,
	}
}

// Authorize returns the caller's access to the session, or a permanent
// error when they have none.
func (s *PollService) Authorize(ctx context.Context, sessionID, userID int64) (domain.Access, error) {
	if userID <= 0 {
		return domain.AccessNone, domain.ErrUnauthenticated
	}
	if sessionID <= 0 {
		return domain.AccessNone, domain.ErrSessionNotFound
	}

	access, err := s.access.SessionAccess(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.AccessNone, err
		}
		return domain.AccessNone, domain.Transient("checking session access", err)
	}
	if access == domain.AccessNone {
		return domain.AccessNone, domain.ErrForbidden
	}
	return access, nil
}

func (s *PollService) Poll(ctx context.Context, req PollRequest) (*PollResult, error) {
	if _, err := s.Authorize(ctx, req.SessionID, req.UserID); err != nil {
		return nil, err
	}

	cursor := req.Cursor
	if cursor < 0 {
		cursor = 0
	}

	now := s.now()
	if err := s.presence.TouchPresence(ctx, req.SessionID, req.UserID, req.Username, cursor, now); err != nil {
		s.logger.Warn("failed to record presence",
			"session_id", req.SessionID,
			"user_id", req.UserID,
			"error", err,
		)
	}

	var (
		wake   <-chan int64
		cancel func()
	)
	wait := s.waitFor(req.TimeoutHint)
	if wait > 0 {
		// Subscribe before the first read so an event stored in between
		// still wakes us.
		wake, cancel = s.notifier.Subscribe(req.SessionID)
		defer cancel()
	}

	events, next, err := s.read(ctx, req.SessionID, cursor)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-wake:
			timer.Stop()
			events, next, err = s.read(ctx, req.SessionID, cursor)
			if err != nil {
				return nil, err
			}
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	online, err := s.presence.OnlineUsers(ctx, req.SessionID, now.Add(-s.window))
	if err != nil {
		return nil, domain.Transient("listing online users", err)
	}

	return &PollResult{
		SessionID:   req.SessionID,
		Events:      events,
		OnlineUsers: online,
		NextCursor:  next,
		ServedAt:    now,
	}, nil
}

// OnlineUsers returns who polled the session within the presence window.
func (s *PollService) OnlineUsers(ctx context.Context, sessionID, userID int64) ([]domain.OnlineUser, error) {
	if _, err := s.Authorize(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	online, err := s.presence.OnlineUsers(ctx, sessionID, s.now().Add(-s.window))
	if err != nil {
		return nil, domain.Transient("listing online users", err)
	}
	return online, nil
}

// read returns the next batch after cursor and the cursor to hand back.
// The high-water mark is read first: every ID at or below it is already
// committed, so when the batch is not full nothing up to it is pending.
func (s *PollService) read(ctx context.Context, sessionID, cursor int64) ([]domain.Event, int64, error) {
	high, err := s.events.MaxEventID(ctx, sessionID)
	if err != nil {
		return nil, 0, domain.Transient("reading high-water mark", err)
	}

	events, err := s.events.ListEventsAfter(ctx, sessionID, cursor, s.batchSize)
	if err != nil {
		return nil, 0, domain.Transient("reading events", err)
	}
	if events == nil {
		events = []domain.Event{}
	}

	next := cursor
	if n := len(events); n > 0 && events[n-1].ID > next {
		next = events[n-1].ID
	}
	if len(events) < s.batchSize && high > next {
		next = high
	}
	return events, next, nil
}

// waitFor is min(hint, maxWait). A non-positive hint asks for an
// immediate answer.
func (s *PollService) waitFor(hint time.Duration) time.Duration {
	if s.maxWait <= 0 || s.notifier == nil || hint <= 0 {
		return 0
	}
	if hint < s.maxWait {
		return hint
	}
	return s.maxWait
}
