package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/dmscreen/sessionfeed/internal/engine"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
	retryDelay     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventReader is the part of the event store the stream replays from.
type EventReader interface {
	ListEventsAfter(ctx context.Context, sessionID, afterID int64, limit int) ([]domain.Event, error)
}

// Message is one frame sent to a stream client.
type Message struct {
	Type  string        `json:"type"`
	Event *domain.Event `json:"event,omitempty"`
}

// Hub tracks WebSocket clients per game session. Each client replays the
// events after its cursor, then is woken by the notifier to read newer
// ones, so it never receives an event at or below its own cursor.
type Hub struct {
	sessions   map[int64]map[*client]struct{}
	mu         sync.RWMutex
	register   chan *client
	unregister chan *client

	events    EventReader
	notifier  engine.Notifier
	batchSize int
	logger    *slog.Logger
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID int64
	cursor    int64
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewHub(events EventReader, notifier engine.Notifier, batchSize int, logger *slog.Logger) *Hub {
	if batchSize <= 0 {
		batchSize = engine.DefaultBatchSize
	}
	return &Hub{
		sessions:   make(map[int64]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		events:     events,
		notifier:   notifier,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Run processes client registration. Should be called as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.sessions[c.sessionID] == nil {
				h.sessions[c.sessionID] = make(map[*client]struct{})
			}
			h.sessions[c.sessionID][c] = struct{}{}
			n := len(h.sessions[c.sessionID])
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "session_id", c.sessionID, "session_clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[c.sessionID]; ok {
				delete(clients, c)
				if len(clients) == 0 {
					delete(h.sessions, c.sessionID)
				}
			}
			n := len(h.sessions[c.sessionID])
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "session_id", c.sessionID, "session_clients", n)
		}
	}
}

// ServeSession upgrades the connection and streams the session's events
// after cursor. The caller has already authorized the user.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID, cursor int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: sessionID,
		cursor:    cursor,
		ctx:       ctx,
		cancel:    cancel,
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
	go c.feed()
}

// feed replays stored events, then waits for notifications and sends
// whatever is newer than the client's cursor.
func (c *client) feed() {
	wake, unsubscribe := c.hub.notifier.Subscribe(c.sessionID)
	defer unsubscribe()

	retry := time.NewTimer(0)
	<-retry.C
	defer retry.Stop()

	for {
		if err := c.drain(); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.hub.logger.Warn("websocket replay failed",
				"session_id", c.sessionID,
				"cursor", c.cursor,
				"error", err,
			)
			retry.Reset(retryDelay)
		}

		select {
		case <-c.ctx.Done():
			return
		case _, ok := <-wake:
			if !ok {
				return
			}
		case <-retry.C:
		}
	}
}

func (c *client) drain() error {
	for {
		events, err := c.hub.events.ListEventsAfter(c.ctx, c.sessionID, c.cursor, c.hub.batchSize)
		if err != nil {
			return err
		}
		for i := range events {
			if events[i].ID <= c.cursor {
				continue
			}
			data, err := json.Marshal(Message{Type: "event", Event: &events[i]})
			if err != nil {
				c.hub.logger.Error("failed to marshal websocket event", "event_id", events[i].ID, "error", err)
				continue
			}
			select {
			case c.send <- data:
				c.cursor = events[i].ID
			case <-c.ctx.Done():
				return c.ctx.Err()
			}
		}
		if len(events) < c.hub.batchSize {
			return nil
		}
	}
}

// readPump handles pongs and notices disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ClientCount returns the number of connected clients across all sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

func (h *Hub) SessionClientCount(sessionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
