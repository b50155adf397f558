package gateway

import (
	"sync"
	"time"

	"github.com/gatehouseio/gatehouse/internal/circuitbreaker"
)

// Event is one circuit state change, streamed to admin watchers.
type Event struct {
	Service   string    `json:"service"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHub fans circuit state changes out to subscribers. A slow
// subscriber loses events rather than blocking the publisher.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventHub creates an event hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]struct{})}
}

// Publish delivers the event to every subscriber without blocking.
func (h *EventHub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must
// be called to release it.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// StateChangeHook adapts the hub to the breaker OnStateChange
// callback.
func (h *EventHub) StateChangeHook() func(name string, from, to circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		h.Publish(Event{
			Service:   name,
			From:      from.String(),
			To:        to.String(),
			Timestamp: time.Now().UTC(),
		})
	}
}
