package messaging

import (
	"sync"

	"go.uber.org/zap"
)

// AsyncPublisher decouples event emission from the request path: callers
// hand events to a bounded queue and never wait for delivery. When the
// queue is full the event is dropped and the drop is logged; emission is
// fire-and-forget and must never block or fail the operation emitting it.
type AsyncPublisher[T any] struct {
	publish Publish[T]
	queue   chan *T
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncPublisher wraps publish with a queue hand-off served by a
// single background worker. buffer bounds how many undelivered events
// may be in flight.
func NewAsyncPublisher[T any](publish Publish[T], buffer int, logger *zap.Logger) *AsyncPublisher[T] {
	if buffer <= 0 {
		buffer = 1
	}

	p := &AsyncPublisher[T]{
		publish: publish,
		queue:   make(chan *T, buffer),
		logger:  logger,
		done:    make(chan struct{}),
	}

	go p.deliverLoop()

	return p
}

// Publish enqueues the event without blocking. It always returns nil:
// delivery failures and drops are logged, never surfaced to the caller.
func (p *AsyncPublisher[T]) Publish(event *T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("event dropped, publisher shut down")

		return nil
	}

	select {
	case p.queue <- event:
	default:
		p.logger.Warn("event dropped, emission queue full")
	}

	return nil
}

// Func returns Publish as a Publish[T] for injection.
func (p *AsyncPublisher[T]) Func() Publish[T] {
	return p.Publish
}

func (p *AsyncPublisher[T]) deliverLoop() {
	defer close(p.done)

	for event := range p.queue {
		if err := p.publish(event); err != nil {
			p.logger.Error("event delivery failed", zap.Error(err))
		}
	}
}

// Shutdown stops accepting events and drains everything already queued.
func (p *AsyncPublisher[T]) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done

	return nil
}
