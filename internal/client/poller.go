package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultMaxErrors      = 3
	DefaultReconnectDelay = time.Second
)

// State is the poller's connection state.
type State int

const (
	StateStopped State = iota
	StatePolling
	// StateError means recent polls failed but the poller is still retrying.
	StateError
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateError:
		return "error"
	default:
		return "stopped"
	}
}

// NoticeKind names a lifecycle notification.
type NoticeKind string

const (
	NoticeConnected       NoticeKind = "connected"
	NoticeDisconnected    NoticeKind = "disconnected"
	NoticeOnlineUsers     NoticeKind = "online_users_update"
	NoticeConnectionError NoticeKind = "connection_error"
)

// Notice is delivered to lifecycle handlers. OnlineUsers is set for
// online_users_update and Err for connection_error.
type Notice struct {
	Kind        NoticeKind
	OnlineUsers []domain.OnlineUser
	Err         error
}

type Options struct {
	BaseURL   string
	Token     string
	SessionID int64

	// Cursor is the event ID to resume after. Zero replays from the start.
	Cursor int64

	Interval       time.Duration
	MaxErrors      int
	ReconnectDelay time.Duration
	// WaitHint is forwarded as the poll timeout hint.
	WaitHint time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

type handlerEntry[T any] struct {
	id uint64
	fn func(T)
}

// Poller repeatedly polls one session and dispatches the events it
// receives to registered handlers, in event ID order, at most once each.
type Poller struct {
	api       *HTTPClient
	sessionID int64
	interval  time.Duration
	maxErrors int
	reconnect time.Duration
	waitHint  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	cursor   int64
	errCount int
	// gen is bumped on every start and stop; results and timers from an
	// older generation are dropped.
	gen   uint64
	timer *time.Timer

	// dmu is held while a response is being dispatched so batches from
	// different generations never interleave. Lock order is dmu, then mu.
	dmu sync.Mutex

	hmu      sync.Mutex
	nextID   uint64
	byType   map[string][]handlerEntry[Event]
	anyEvent []handlerEntry[Event]
	notices  map[NoticeKind][]handlerEntry[Notice]
}

func NewPoller(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cursor := opts.Cursor
	if cursor < 0 {
		cursor = 0
	}
	return &Poller{
		api:       NewHTTPClient(opts.BaseURL, opts.Token, opts.HTTPClient),
		sessionID: opts.SessionID,
		interval:  opts.Interval,
		maxErrors: opts.MaxErrors,
		reconnect: opts.ReconnectDelay,
		waitHint:  opts.WaitHint,
		logger:    opts.Logger.With("session_id", opts.SessionID),
		cursor:    cursor,
		byType:    make(map[string][]handlerEntry[Event]),
		notices:   make(map[NoticeKind][]handlerEntry[Notice]),
	}
}

// On registers h for events of the given type and returns a func that
// removes it.
func (p *Poller) On(eventType string, h func(Event)) func() {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.nextID++
	id := p.nextID
	p.byType[eventType] = append(p.byType[eventType], handlerEntry[Event]{id: id, fn: h})
	return func() {
		p.hmu.Lock()
		defer p.hmu.Unlock()
		p.byType[eventType] = removeHandler(p.byType[eventType], id)
	}
}

// OnAny registers h for every event. It runs after the type-specific
// handlers of each event.
func (p *Poller) OnAny(h func(Event)) func() {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.nextID++
	id := p.nextID
	p.anyEvent = append(p.anyEvent, handlerEntry[Event]{id: id, fn: h})
	return func() {
		p.hmu.Lock()
		defer p.hmu.Unlock()
		p.anyEvent = removeHandler(p.anyEvent, id)
	}
}

// OnNotice registers h for a lifecycle notification.
func (p *Poller) OnNotice(kind NoticeKind, h func(Notice)) func() {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.nextID++
	id := p.nextID
	p.notices[kind] = append(p.notices[kind], handlerEntry[Notice]{id: id, fn: h})
	return func() {
		p.hmu.Lock()
		defer p.hmu.Unlock()
		p.notices[kind] = removeHandler(p.notices[kind], id)
	}
}

func removeHandler[T any](hs []handlerEntry[T], id uint64) []handlerEntry[T] {
	out := hs[:0:0]
	for _, h := range hs {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cursor returns the highest event ID the poller has accepted.
func (p *Poller) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Start begins polling immediately. It is a no-op when already running.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.state != StateStopped {
		p.mu.Unlock()
		return
	}
	p.startLocked()
	p.mu.Unlock()

	p.logger.Info("poller started", "cursor", p.Cursor())
	p.notify(Notice{Kind: NoticeConnected})
}

func (p *Poller) startLocked() {
	p.state = StatePolling
	p.errCount = 0
	p.gen++
	p.scheduleLocked(p.gen, 0)
}

// Stop cancels the pending poll. A request already in flight runs to
// completion but its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	wasRunning := p.stopLocked()
	p.mu.Unlock()

	if wasRunning {
		p.logger.Info("poller stopped", "cursor", p.Cursor())
		p.notify(Notice{Kind: NoticeDisconnected})
	}
}

func (p *Poller) stopLocked() bool {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	wasRunning := p.state != StateStopped
	p.state = StateStopped
	return wasRunning
}

// Reconnect stops the poller and starts it again after the reconnect
// delay, resuming from the held cursor.
func (p *Poller) Reconnect() {
	p.logger.Info("reconnecting", "delay", p.reconnect)

	p.mu.Lock()
	wasRunning := p.stopLocked()
	gen := p.gen
	p.timer = time.AfterFunc(p.reconnect, func() {
		p.mu.Lock()
		if p.gen != gen || p.state != StateStopped {
			p.mu.Unlock()
			return
		}
		p.startLocked()
		p.mu.Unlock()
		p.notify(Notice{Kind: NoticeConnected})
	})
	p.mu.Unlock()

	if wasRunning {
		p.notify(Notice{Kind: NoticeDisconnected})
	}
}

func (p *Poller) scheduleLocked(gen uint64, delay time.Duration) {
	p.timer = time.AfterFunc(delay, func() { p.pollOnce(gen) })
}

func (p *Poller) pollOnce(gen uint64) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	cursor := p.cursor
	p.mu.Unlock()

	resp, err := p.api.Poll(context.Background(), p.sessionID, cursor, p.waitHint)

	p.dmu.Lock()
	defer p.dmu.Unlock()

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.handleFailureLocked(gen, err)
		return
	}
	p.errCount = 0
	p.state = StatePolling
	// An older batch may have delivered more while this request was out.
	cursor = p.cursor
	p.mu.Unlock()

	for _, e := range resp.Events {
		if e.ID <= cursor {
			continue
		}
		if !p.current(gen) {
			return
		}
		p.dispatch(e)
		p.advance(e.ID)
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	if resp.LastEventID > p.cursor {
		p.cursor = resp.LastEventID
	}
	p.mu.Unlock()

	p.notify(Notice{Kind: NoticeOnlineUsers, OnlineUsers: resp.OnlineUsers})

	p.mu.Lock()
	if p.gen == gen {
		p.scheduleLocked(gen, p.interval)
	}
	p.mu.Unlock()
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// advance moves the cursor past a delivered event.
func (p *Poller) advance(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id > p.cursor {
		p.cursor = id
	}
}

// handleFailureLocked is called with p.mu held and releases it.
func (p *Poller) handleFailureLocked(gen uint64, err error) {
	p.errCount++
	count := p.errCount
	permanent := IsPermanent(err)

	if permanent || count >= p.maxErrors {
		p.stopLocked()
		p.mu.Unlock()

		p.logger.Error("polling stopped", "error", err, "failures", count, "permanent", permanent)
		p.notify(Notice{Kind: NoticeDisconnected})
		p.notify(Notice{Kind: NoticeConnectionError, Err: fmt.Errorf("polling session %d: %w", p.sessionID, err)})
		return
	}

	p.state = StateError
	p.scheduleLocked(gen, p.interval)
	p.mu.Unlock()

	p.logger.Warn("poll failed, retrying", "error", err, "failures", count, "retry_in", p.interval)
}

func (p *Poller) dispatch(e Event) {
	p.hmu.Lock()
	typed := append([]handlerEntry[Event](nil), p.byType[e.Type]...)
	all := append([]handlerEntry[Event](nil), p.anyEvent...)
	p.hmu.Unlock()

	for _, h := range typed {
		p.safeCall(e.Type, func() { h.fn(e) })
	}
	for _, h := range all {
		p.safeCall(e.Type, func() { h.fn(e) })
	}
}

func (p *Poller) notify(n Notice) {
	p.hmu.Lock()
	hs := append([]handlerEntry[Notice](nil), p.notices[n.Kind]...)
	p.hmu.Unlock()

	for _, h := range hs {
		p.safeCall(string(n.Kind), func() { h.fn(n) })
	}
}

func (p *Poller) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked", "handler", name, "panic", r)
		}
	}()
	fn()
}
