package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/breeze-rmm/rdpd/internal/logging"
)

// Event is one session state transition as pushed to subscribers.
type Event struct {
	SessionID string    `json:"sessionId"`
	State     string    `json:"state"`
	At        time.Time `json:"at"`
}

const subscriberBuffer = 32

// Hub fans events out to subscribers. Publish never blocks; a subscriber
// whose buffer is full is dropped.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription receives events until it is closed or dropped.
type Subscription struct {
	hub  *Hub
	ch   chan Event
	once sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.L("status")
	}
	return &Hub{log: logger, subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{hub: h, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.hub.subs, s)
		close(s.ch)
	})
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn("dropping slow status subscriber")
			sub.closeLocked()
		}
	}
}

// Subscribers is the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// CloseAll ends every subscription.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.closeLocked()
	}
}
