package service

import (
	"sync"

	"github.com/loglens/loglens/internal/domain"
)

// Subscriber receives broadcast alerts. The channel is buffered; a
// subscriber that cannot keep up is dropped rather than blocking the
// broadcaster.
type Subscriber struct {
	C chan domain.Alert
}

// Hub fans alerts out to the current streaming subscribers. Broadcast
// iterates over a snapshot so subscribe/unsubscribe never contend with the
// hot path.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan domain.Alert, 16)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.C)
	}
}

// Broadcast delivers the alert to every live subscriber, best-effort.
// Subscribers with a full buffer are removed.
func (h *Hub) Broadcast(alert domain.Alert) {
	h.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	var dead []*Subscriber
	for _, sub := range snapshot {
		select {
		case sub.C <- alert:
		default:
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		h.Unsubscribe(sub)
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
