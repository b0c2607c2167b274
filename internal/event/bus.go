package event

import (
	"sync"

	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// Handler consumes bucket status change events. Handlers run on the bus
// dispatcher goroutine, in publish order; they must tolerate duplicate and
// stale events (idempotency keyed by bucket id), since a publisher's
// enclosing transaction may still roll back after the event is queued.
type Handler func(evt domain.BucketStatusChangeEvent)

// Bus is the in-process publish/subscribe channel for bucket state
// transitions. Delivery is asynchronous and best-effort: events queue onto a
// bounded buffer and are dropped with a warning when it overflows. It is
// safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.BucketStatus][]Handler
	all      []Handler

	ch     chan domain.BucketStatusChangeEvent
	done   chan struct{}
	closed sync.Once
}

const busBufferSize = 1024

// NewBus creates a Bus and starts its dispatcher.
func NewBus() *Bus {
	b := &Bus{
		handlers: make(map[domain.BucketStatus][]Handler),
		ch:       make(chan domain.BucketStatusChangeEvent, busBufferSize),
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// SubscribeStatus registers a handler invoked when a bucket enters the given
// status.
func (b *Bus) SubscribeStatus(status domain.BucketStatus, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[status] = append(b.handlers[status], h)
}

// Subscribe registers a handler invoked on every transition.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish queues the event for dispatch. Never blocks; a full buffer drops
// the event with a warning.
func (b *Bus) Publish(evt domain.BucketStatusChangeEvent) {
	select {
	case b.ch <- evt:
	default:
		log.Warn().
			Str("bucket_id", evt.BucketID.String()).
			Str("to", string(evt.NewStatus)).
			Msg("Event bus buffer full, dropping event")
	}
}

// Close stops the dispatcher after draining queued events.
func (b *Bus) Close() {
	b.closed.Do(func() { close(b.ch) })
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for evt := range b.ch {
		b.mu.RLock()
		matched := make([]Handler, 0, len(b.all)+len(b.handlers[evt.NewStatus]))
		matched = append(matched, b.all...)
		matched = append(matched, b.handlers[evt.NewStatus]...)
		b.mu.RUnlock()

		for _, h := range matched {
			b.deliver(h, evt)
		}

		log.Debug().
			Str("bucket_id", evt.BucketID.String()).
			Str("from", string(evt.PreviousStatus)).
			Str("to", string(evt.NewStatus)).
			Int("handler_count", len(matched)).
			Msg("Dispatched bucket status change")
	}
}

func (b *Bus) deliver(h Handler, evt domain.BucketStatusChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("bucket_id", evt.BucketID.String()).
				Str("to", string(evt.NewStatus)).
				Msg("Event handler panicked")
		}
	}()
	h(evt)
}
