package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal          prometheus.Counter
	tickErrorsTotal     prometheus.Counter
	jobsDispatchedTotal prometheus.Counter
	tickDuration        prometheus.Histogram
	tickDrift           prometheus.Histogram

	// Executor metrics
	executionsTotal        prometheus.Counter
	executionOutcomesTotal *prometheus.CounterVec
	executionDuration      prometheus.Histogram
	emailDeliveriesTotal   *prometheus.CounterVec
	executionsInFlight     prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Leader election metrics
	leaderStatus            prometheus.Gauge
	leaderAcquisitionsTotal prometheus.Counter
	leaderLossesTotal       *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiemail_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiemail_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.jobsDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiemail_scheduler_jobs_dispatched_total",
		Help: "Total number of due jobs dispatched to the executor.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fiemail_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fiemail_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "fiemail_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "fiemail_scheduler_tick_errors_total")
	s.register(reg, s.jobsDispatchedTotal, "fiemail_scheduler_jobs_dispatched_total")
	s.register(reg, s.tickDuration, "fiemail_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "fiemail_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiemail_executor_executions_total",
		Help: "Total number of execution cycles started.",
	})
	s.executionOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiemail_executor_execution_outcomes_total",
		Help: "Total number of completed execution cycles per outcome.",
	}, []string{"outcome"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fiemail_executor_execution_duration_seconds",
		Help:    "Duration of one full execution cycle in seconds.",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
	})
	s.emailDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiemail_executor_email_deliveries_total",
		Help: "Total number of per-customer delivery outcomes.",
	}, []string{"outcome"})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiemail_executor_executions_in_flight",
		Help: "Number of execution cycles currently running.",
	})

	s.register(reg, s.executionsTotal, "fiemail_executor_executions_total")
	s.register(reg, s.executionOutcomesTotal, "fiemail_executor_execution_outcomes_total")
	s.register(reg, s.executionDuration, "fiemail_executor_execution_duration_seconds")
	s.register(reg, s.emailDeliveriesTotal, "fiemail_executor_email_deliveries_total")
	s.register(reg, s.executionsInFlight, "fiemail_executor_executions_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiemail_eventbus_buffer_size",
		Help: "Current number of execute requests in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiemail_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiemail_eventbus_buffer_saturation",
		Help: "Event bus buffer fill ratio in [0, 1].",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiemail_eventbus_emit_errors_total",
		Help: "Total number of emit errors (context cancelled while blocked).",
	})

	s.register(reg, s.bufferSize, "fiemail_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "fiemail_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "fiemail_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "fiemail_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiemail_leader_status",
		Help: "Whether this instance currently holds leadership (1) or not (0).",
	})
	s.leaderAcquisitionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiemail_leader_acquisitions_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLossesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiemail_leader_losses_total",
		Help: "Total number of times this instance lost leadership per reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "fiemail_leader_status")
	s.register(reg, s.leaderAcquisitionsTotal, "fiemail_leader_acquisitions_total")
	s.register(reg, s.leaderLossesTotal, "fiemail_leader_losses_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, jobsDispatched int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.jobsDispatchedTotal.Add(float64(jobsDispatched))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	// Record absolute drift value
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Executor metrics implementation

func (s *PrometheusSink) ExecutionStarted() {
	s.executionsTotal.Inc()
}

func (s *PrometheusSink) ExecutionCompleted(outcome string, duration time.Duration) {
	s.executionOutcomesTotal.WithLabelValues(outcome).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) EmailDelivery(outcome string) {
	s.emailDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisitionsTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossesTotal.WithLabelValues(reason).Inc()
}
