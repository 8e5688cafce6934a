package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                        {}
func (n *NoopSink) TickCompleted(duration time.Duration, jobsDispatched int, err error) {}
func (n *NoopSink) TickDrift(drift time.Duration)                                       {}
func (n *NoopSink) ExecutionStarted()                                                   {}
func (n *NoopSink) ExecutionCompleted(outcome string, duration time.Duration)           {}
func (n *NoopSink) EmailDelivery(outcome string)                                        {}
func (n *NoopSink) ExecutionsInFlightIncr()                                             {}
func (n *NoopSink) ExecutionsInFlightDecr()                                             {}
func (n *NoopSink) BufferSizeUpdate(size int)                                           {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                      {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                           {}
func (n *NoopSink) EmitError()                                                          {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                   {}
func (n *NoopSink) LeaderAcquired()                                                     {}
func (n *NoopSink) LeaderLost(reason string)                                            {}
