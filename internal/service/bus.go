package service

import "sync"

// Resources published on the bus.
const (
	ResourceStyle   = "style"
	ResourceState   = "state"
	ResourceSurface = "surface"
)

// Event represents a change to one of the service resources.
type Event struct {
	Resource string `json:"resource"`     // e.g. "state"
	Action   string `json:"action"`       // "updated", "reloaded", "failed"
	ID       string `json:"id,omitempty"` // e.g. the generation mounted
	Data     any    `json:"data,omitempty"`
}

// EventBus is a simple fan-out pub/sub for service events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}
