// Package channel is the in-memory transport between the scheduler/API
// and the executor.
package channel

import (
	"context"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

// MetricsSink records event bus metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

type EventBus struct {
	ch      chan domain.ExecuteRequest
	metrics MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch: make(chan domain.ExecuteRequest, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit queues an execute request, blocking until there is buffer space
// or the context is cancelled.
func (b *EventBus) Emit(ctx context.Context, req domain.ExecuteRequest) error {
	select {
	case b.ch <- req:
		b.observe()
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *EventBus) Channel() <-chan domain.ExecuteRequest {
	return b.ch
}

func (b *EventBus) observe() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if cap(b.ch) > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(cap(b.ch)))
	}
}
