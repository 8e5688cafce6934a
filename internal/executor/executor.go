// Package executor runs execution cycles for scheduled jobs: the
// generation phase (or cache reuse), the fan-out send phase over a
// bounded worker pool, and the end-of-cycle statistics and re-arming.
package executor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
)

// Store is the executor's view of persistence. ClaimJob is the
// concurrency guard: it is a single atomic status transition, so two
// concurrent triggers can never both start an execution.
type Store interface {
	// ClaimJob atomically moves the job into PROCESSING. It fails with
	// jobs.ErrInvalidState when the job is already in flight or
	// cancelled, and jobs.ErrNotFound when the id does not resolve.
	ClaimJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error)
	// UpdateJob is compare-and-swap on the status the caller read; see
	// jobs.Store.
	UpdateJob(ctx context.Context, job domain.ScheduledJob, expect domain.JobStatus) error
	MarkDelivery(ctx context.Context, jobID, customerID uuid.UUID, update domain.DeliveryUpdate) (domain.ScheduledJob, error)
}

// ReportGenerator produces report artifacts for a job. Generation may
// be slow (minutes); implementations must honor context cancellation.
type ReportGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

type GenerateRequest struct {
	JobID       uuid.UUID
	ReportTypes []string
	ProjectIDs  []string
	Config      domain.JobConfig
}

type GenerateResult struct {
	ReportIDs     []string
	ArtifactPaths []string
	PreviewHTML   string
}

// MailSender delivers one message. No batching is assumed.
type MailSender interface {
	Send(ctx context.Context, msg Message) SendResult
}

type Message struct {
	To          string
	ToName      string
	Subject     string
	Body        string
	Attachments []string
}

type SendResult struct {
	Error    error
	Bounced  bool
	Duration time.Duration
}

// MetricsSink records execution metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	ExecutionStarted()
	ExecutionCompleted(outcome string, duration time.Duration)
	EmailDelivery(outcome string)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
}

// AnalyticsSink records per-job execution outcomes as a best-effort
// side effect; it never affects execution correctness.
type AnalyticsSink interface {
	Record(ctx context.Context, jobID uuid.UUID, jobType domain.JobType, outcome string, at time.Time)
}

type Config struct {
	// CacheTTL is how long generated report artifacts stay reusable.
	CacheTTL time.Duration

	// GenerationTimeout bounds one call to the report generator.
	GenerationTimeout time.Duration

	// SendTimeout bounds one customer delivery; a timeout is a delivery
	// failure for that customer, not a crash.
	SendTimeout time.Duration

	// SendWorkers bounds concurrent customer deliveries per execution.
	SendWorkers int
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL:          24 * time.Hour,
		GenerationTimeout: 10 * time.Minute,
		SendTimeout:       30 * time.Second,
		SendWorkers:       4,
	}
}

type Executor struct {
	config    Config
	store     Store
	generator ReportGenerator
	sender    MailSender
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	clock     func() time.Time

	drainTimeout time.Duration
}

func New(config Config, store Store, generator ReportGenerator, sender MailSender) *Executor {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 24 * time.Hour
	}
	if config.SendWorkers <= 0 {
		config.SendWorkers = 1
	}
	return &Executor{
		config:       config,
		store:        store,
		generator:    generator,
		sender:       sender,
		clock:        func() time.Time { return time.Now().UTC() },
		drainTimeout: DrainTimeout,
	}
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// WithAnalytics attaches an analytics sink to the executor.
func (e *Executor) WithAnalytics(sink AnalyticsSink) *Executor {
	e.analytics = sink
	return e
}

// WithDrainTimeout overrides how long shutdown waits for buffered
// requests.
func (e *Executor) WithDrainTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.drainTimeout = d
	}
	return e
}

// Run processes execute requests from the channel until the context is
// cancelled, then drains remaining buffered requests with a timeout.
func (e *Executor) Run(ctx context.Context, ch <-chan domain.ExecuteRequest) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ch)
			return
		case req := <-ch:
			e.process(ctx, req)
		}
	}
}

// DrainTimeout is the default maximum time to wait for buffered
// requests during shutdown.
const DrainTimeout = 30 * time.Second

func (e *Executor) drain(ch <-chan domain.ExecuteRequest) {
	drainCtx, cancel := context.WithTimeout(context.Background(), e.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("executor: drain timeout, processed %d requests", count)
			}
			return
		case req, ok := <-ch:
			if !ok {
				log.Printf("executor: drain complete, processed %d requests", count)
				return
			}
			e.process(drainCtx, req)
			count++
		default:
			if count > 0 {
				log.Printf("executor: drain complete, processed %d requests", count)
			}
			return
		}
	}
}

func (e *Executor) process(ctx context.Context, req domain.ExecuteRequest) {
	_, err := e.ExecuteNow(ctx, req.JobID, req.RequestedBy, req.Force)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrInvalidState):
		// Another trigger won the claim; the guard did its job.
		log.Printf("executor: job %s already in flight, skipping", req.JobID)
	default:
		log.Printf("executor: job %s: %v", req.JobID, err)
	}
}
