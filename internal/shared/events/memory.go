package events

import (
	"context"
	"log"
	"sync"
)

// MemoryBus is an in-process event bus. It backs tests and keeps the
// simulation observable when no KurrentDB instance is reachable.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []memorySub
	closed bool

	// Published retains events for test inspection when Retain is enabled
	retain    bool
	published []Event
}

type memorySub struct {
	pattern string
	handler Handler
}

// NewMemoryBus creates an in-memory event bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// NewRecordingBus creates an in-memory bus that retains every published
// event. Intended for tests.
func NewRecordingBus() *MemoryBus {
	return &MemoryBus{retain: true}
}

// Publish delivers the event synchronously to all matching subscribers
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if b.retain {
		b.published = append(b.published, event)
	}
	subs := make([]memorySub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if !matchesPattern(event.Type, s.pattern) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			log.Printf("events: handler error for event %s: %v", event.ID, err)
		}
	}
	return nil
}

// Subscribe registers a handler for events matching a pattern
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, memorySub{pattern: pattern, handler: handler})
	return nil
}

// Published returns retained events of the given type ("" for all)
func (b *MemoryBus) Published(eventType string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.published {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Close closes the bus; further publishes are dropped
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}

// Health always reports healthy for the in-memory bus
func (b *MemoryBus) Health() error {
	return nil
}

// Ensure MemoryBus implements EventBus
var _ EventBus = (*MemoryBus)(nil)
