package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/dmscreen/sessionfeed/internal/engine"
	ws "github.com/dmscreen/sessionfeed/internal/websocket"
)

const (
	defaultPollTimeout = 5 * time.Second
	maxPollTimeout     = 10 * time.Second
)

// PollLimiter decides whether a user may poll a session right now.
type PollLimiter interface {
	AllowPoll(ctx context.Context, sessionID, userID int64, limit int) bool
}

type RealtimeHandler struct {
	polls     *engine.PollService
	limiter   PollLimiter
	rateLimit int
	hub       *ws.Hub
	logger    *slog.Logger
}

// NewRealtimeHandler creates the poll and stream handlers. limiter and hub
// may be nil.
func NewRealtimeHandler(polls *engine.PollService, limiter PollLimiter, rateLimit int, hub *ws.Hub, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		polls:     polls,
		limiter:   limiter,
		rateLimit: rateLimit,
		hub:       hub,
		logger:    logger,
	}
}

type pollEvent struct {
	EventID   int64           `json:"event_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

type pollResponse struct {
	SessionID   int64               `json:"session_id"`
	Events      []pollEvent         `json:"events"`
	EventCount  int                 `json:"event_count"`
	LastEventID int64               `json:"last_event_id"`
	OnlineUsers []domain.OnlineUser `json:"online_users"`
	OnlineCount int                 `json:"online_count"`
	Timestamp   int64               `json:"timestamp"`
}

func (h *RealtimeHandler) Poll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")

	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	sessionID, err := strconv.ParseInt(q.Get("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		respondValidationError(w, "session_id", "Valid session ID required")
		return
	}
	cursor := parseCursor(q.Get("last_event_id"))
	timeout := parseTimeout(q.Get("timeout"))

	if h.limiter != nil && !h.limiter.AllowPoll(r.Context(), sessionID, user.ID, h.rateLimit) {
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusTooManyRequests, "polling too frequently")
		return
	}

	res, err := h.polls.Poll(r.Context(), engine.PollRequest{
		SessionID:   sessionID,
		UserID:      user.ID,
		Username:    user.Username,
		Cursor:      cursor,
		TimeoutHint: timeout,
	})
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}

	events := make([]pollEvent, 0, len(res.Events))
	for i := range res.Events {
		e := &res.Events[i]
		events = append(events, pollEvent{
			EventID:   e.ID,
			EventType: e.EventType,
			EventData: e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}

	respondJSON(w, http.StatusOK, pollResponse{
		SessionID:   res.SessionID,
		Events:      events,
		EventCount:  len(events),
		LastEventID: res.NextCursor,
		OnlineUsers: res.OnlineUsers,
		OnlineCount: len(res.OnlineUsers),
		Timestamp:   res.ServedAt.Unix(),
	})
}

// Stream upgrades to a WebSocket that replays events after last_event_id
// and then pushes new ones as they are published.
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	sessionID, err := strconv.ParseInt(q.Get("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		respondValidationError(w, "session_id", "Valid session ID required")
		return
	}

	if _, err := h.polls.Authorize(r.Context(), sessionID, user.ID); err != nil {
		respondDomainError(w, h.logger, err)
		return
	}

	if h.hub == nil {
		respondError(w, http.StatusNotImplemented, "streaming is not enabled")
		return
	}
	h.hub.ServeSession(w, r, sessionID, parseCursor(q.Get("last_event_id")))
}

// parseCursor treats anything unparseable or negative as the start.
func parseCursor(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseTimeout reads a whole number of seconds, defaulting to 5 and
// capped at 10.
func parseTimeout(s string) time.Duration {
	if s == "" {
		return defaultPollTimeout
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultPollTimeout
	}
	d := time.Duration(n) * time.Second
	switch {
	case d < 0:
		return 0
	case d > maxPollTimeout:
		return maxPollTimeout
	}
	return d
}
