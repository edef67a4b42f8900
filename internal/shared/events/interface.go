package events

import (
	"context"
	"log"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/config"
	"github.com/google/uuid"
)

// Event is the telemetry envelope every component publishes through the bus.
// SimTime carries the simulated timestamp; Timestamp is wall clock.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	SimTime   time.Time `json:"sim_time"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent creates an event with auto-generated ID and wall timestamp
func NewEvent(eventType, source string, simTime time.Time, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		SimTime:   simTime,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// EventBus defines the interface for event publishing and subscription.
// Telemetry is best effort: the simulation keeps advancing whether or not
// delivery succeeds.
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus creates an event bus backed by KurrentDB, falling back to the
// in-memory bus when the store is unreachable. Returns the bus and the
// backend name ("kurrentdb" or "memory").
func NewEventBus(ctx context.Context, cfg config.KurrentDBConfig) (EventBus, string) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	bus, err := NewBus(timeoutCtx, cfg)
	if err == nil {
		if err = bus.Health(); err == nil {
			return bus, "kurrentdb"
		}
		bus.Close()
	}
	log.Printf("events: KurrentDB unavailable, using in-memory bus: %v", err)

	return NewMemoryBus(), "memory"
}
