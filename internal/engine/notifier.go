package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Notifier wakes up readers waiting on a session when a new event is
// stored. A notification is a hint: receivers re-read the store from their
// own cursor, so a dropped or coalesced notification loses nothing.
type Notifier interface {
	Notify(ctx context.Context, sessionID, eventID int64) error
	Subscribe(sessionID int64) (<-chan int64, func())
}

// LocalNotifier fans notifications out to subscribers in this process.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[int64]map[chan int64]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[int64]map[chan int64]struct{})}
}

func (n *LocalNotifier) Notify(_ context.Context, sessionID, eventID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[sessionID] {
		select {
		case ch <- eventID:
		default:
			// Receiver already has a pending wake-up.
		}
	}
	return nil
}

// Subscribe returns a channel of event IDs for sessionID. The returned
// cancel func unsubscribes and closes the channel; it is safe to call twice.
func (n *LocalNotifier) Subscribe(sessionID int64) (<-chan int64, func()) {
	ch := make(chan int64, 1)

	n.mu.Lock()
	if n.subs[sessionID] == nil {
		n.subs[sessionID] = make(map[chan int64]struct{})
	}
	n.subs[sessionID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[sessionID], ch)
			if len(n.subs[sessionID]) == 0 {
				delete(n.subs, sessionID)
			}
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscriptions for a session.
func (n *LocalNotifier) SubscriberCount(sessionID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[sessionID])
}

// NATSSubjectPrefix is the subject namespace for session notifications.
const NATSSubjectPrefix = "sessionfeed.session."

func natsSubject(sessionID int64) string {
	return fmt.Sprintf("%s%d", NATSSubjectPrefix, sessionID)
}

type natsNotification struct {
	SessionID int64 `json:"session_id"`
	EventID   int64 `json:"event_id"`
}

// NATSNotifier shares notifications between server instances. Local
// subscribers are woken directly; other instances hear about the event over
// NATS and wake their own local subscribers.
type NATSNotifier struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *LocalNotifier
	logger *slog.Logger
}

func NewNATSNotifier(url string, logger *slog.Logger, opts ...nats.Option) (*NATSNotifier, error) {
	defaults := []nats.Option{
		nats.Name("sessionfeed"),
		nats.NoEcho(),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	n := &NATSNotifier{
		conn:   nc,
		local:  NewLocalNotifier(),
		logger: logger,
	}

	sub, err := nc.Subscribe(NATSSubjectPrefix+"*", n.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to %s*: %w", NATSSubjectPrefix, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	n.sub = sub

	return n, nil
}

func (n *NATSNotifier) handle(msg *nats.Msg) {
	var note natsNotification
	if err := json.Unmarshal(msg.Data, &note); err != nil {
		n.logger.Warn("dropping malformed notification", "subject", msg.Subject, "error", err)
		return
	}
	n.local.Notify(context.Background(), note.SessionID, note.EventID)
}

func (n *NATSNotifier) Notify(ctx context.Context, sessionID, eventID int64) error {
	n.local.Notify(ctx, sessionID, eventID)

	data, err := json.Marshal(natsNotification{SessionID: sessionID, EventID: eventID})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	if err := n.conn.Publish(natsSubject(sessionID), data); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

func (n *NATSNotifier) Subscribe(sessionID int64) (<-chan int64, func()) {
	return n.local.Subscribe(sessionID)
}

func (n *NATSNotifier) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	n.conn.Close()
	return nil
}
