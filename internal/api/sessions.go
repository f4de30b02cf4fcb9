package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/dmscreen/sessionfeed/internal/engine"
	ws "github.com/dmscreen/sessionfeed/internal/websocket"
	"github.com/go-chi/chi/v5"
)

// SessionHandler serves the per-session endpoints used by collaborators
// running outside this process.
type SessionHandler struct {
	polls     *engine.PollService
	publisher *engine.Publisher
	hub       *ws.Hub
	logger    *slog.Logger
}

// NewSessionHandler creates the session handlers. hub may be nil.
func NewSessionHandler(polls *engine.PollService, publisher *engine.Publisher, hub *ws.Hub, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{polls: polls, publisher: publisher, hub: hub, logger: logger}
}

type publishRequest struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
}

type publishResponse struct {
	EventID   int64  `json:"event_id"`
	SessionID int64  `json:"session_id"`
	EventType string `json:"event_type"`
}

type onlineResponse struct {
	SessionID   int64               `json:"session_id"`
	OnlineUsers []domain.OnlineUser `json:"online_users"`
	OnlineCount int                 `json:"online_count"`
	// StreamCount is the number of WebSocket clients watching the session.
	StreamCount int `json:"stream_count"`
}

// Publish records an event for the session. Only the session's DM may
// publish through HTTP.
func (h *SessionHandler) Publish(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	access, err := h.polls.Authorize(r.Context(), sessionID, user.ID)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	if access != domain.AccessDM {
		respondError(w, http.StatusForbidden, "only the session DM can publish events")
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		respondValidationError(w, "event_type", "event_type is required")
		return
	}
	data := bytes.TrimSpace(req.EventData)
	if len(data) == 0 {
		data = []byte("{}")
	}
	if data[0] != '{' || !json.Valid(data) {
		respondValidationError(w, "event_data", "event_data must be a JSON object")
		return
	}

	actor := user.ID
	ev, err := h.publisher.PublishEvent(r.Context(), sessionID, req.EventType, json.RawMessage(data), &actor)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}

	respondJSON(w, http.StatusCreated, publishResponse{
		EventID:   ev.ID,
		SessionID: ev.SessionID,
		EventType: ev.EventType,
	})
}

func (h *SessionHandler) Online(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	users, err := h.polls.OnlineUsers(r.Context(), sessionID, user.ID)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}

	resp := onlineResponse{
		SessionID:   sessionID,
		OnlineUsers: users,
		OnlineCount: len(users),
	}
	if h.hub != nil {
		resp.StreamCount = h.hub.SessionClientCount(sessionID)
	}
	respondJSON(w, http.StatusOK, resp)
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil || id <= 0 {
		respondValidationError(w, "session_id", "Valid session ID required")
		return 0, false
	}
	return id, true
}
