package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/coruna-salud/gemelo/internal/shared/metrics"
)

// AsyncPublisher decouples the simulation loops from telemetry delivery.
// Publishes never block: events queue into a bounded buffer and a single
// worker drains it, retrying transient failures with exponential backoff.
// When the buffer is full the incoming event is dropped; simulation
// correctness never depends on telemetry.
type AsyncPublisher struct {
	bus     EventBus
	queue   chan Event
	retries int
	backoff time.Duration

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAsyncPublisher creates a best-effort publisher over the given bus
func NewAsyncPublisher(bus EventBus, bufferSize int) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &AsyncPublisher{
		bus:     bus,
		queue:   make(chan Event, bufferSize),
		retries: 3,
		backoff: 100 * time.Millisecond,
		done:    make(chan struct{}),
	}
}

// Start launches the delivery worker
func (p *AsyncPublisher) Start(ctx context.Context) {
	p.once.Do(func() {
		workerCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		go p.run(workerCtx)
	})
}

// Publish enqueues an event without blocking. A full queue drops the event.
func (p *AsyncPublisher) Publish(event Event) {
	select {
	case p.queue <- event:
	default:
		metrics.RecordTelemetryDropped()
	}
}

// Stop drains nothing further and waits for the worker to exit
func (p *AsyncPublisher) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *AsyncPublisher) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.queue:
			p.deliver(ctx, event)
		}
	}
}

// deliver attempts delivery with exponential backoff, then gives up
func (p *AsyncPublisher) deliver(ctx context.Context, event Event) {
	backoff := p.backoff
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err := p.bus.Publish(ctx, event); err == nil {
			return
		} else if attempt == p.retries {
			metrics.RecordTelemetryFailure()
			log.Printf("events: dropping event %s after %d attempts: %v", event.Type, attempt+1, err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
