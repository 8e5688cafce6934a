package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Scheduler metrics
	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 5, nil)
	s.TickCompleted(100*time.Millisecond, 0, nil)
	s.TickDrift(10 * time.Millisecond)

	// Executor metrics
	s.ExecutionStarted()
	s.ExecutionCompleted(OutcomeCompleted, time.Second)
	s.ExecutionCompleted(OutcomeFailed, time.Second)
	s.ExecutionCompleted(OutcomeCancelled, time.Second)
	s.EmailDelivery(DeliverySent)
	s.EmailDelivery(DeliveryFailed)
	s.EmailDelivery(DeliveryBounced)
	s.EmailDelivery(DeliverySkipped)
	s.ExecutionsInFlightIncr()
	s.ExecutionsInFlightDecr()

	// EventBus metrics
	s.BufferSizeUpdate(10)
	s.BufferCapacitySet(100)
	s.BufferSaturationUpdate(0.1)
	s.EmitError()

	// Leader election metrics
	s.LeaderStatusChanged(true)
	s.LeaderStatusChanged(false)
	s.LeaderAcquired()
	s.LeaderLost("conn_lost")
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
