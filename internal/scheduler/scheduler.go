// Package scheduler is the periodic scan-and-dispatch loop: every tick
// it queries active jobs whose next run time has arrived and emits an
// execute request for each.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

type Store interface {
	// DueJobs returns active dispatchable jobs with nextRunAt <= now,
	// soonest first, limited to limit. Recurring jobs rest at
	// COMPLETED or FAILED between cycles and are still due.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error)
}

// EventEmitter hands due jobs to the execution engine.
type EventEmitter interface {
	Emit(ctx context.Context, req domain.ExecuteRequest) error
}

// MetricsSink records tick metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsDispatched int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	TickInterval time.Duration

	// BatchSize caps dispatches per tick; stragglers go next tick.
	BatchSize int
}

// SystemActor is recorded on history entries for runs the scheduler
// initiates, as opposed to interactive execute-now requests.
var SystemActor = domain.Actor{Name: "scheduler", Email: "system"}

type Scheduler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, emitter EventEmitter) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Scheduler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	lastTick := s.clock()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			now := s.clock()
			if s.metrics != nil {
				s.metrics.TickDrift(now.Sub(lastTick) - s.config.TickInterval)
			}
			lastTick = now

			if err := s.processTick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) error {
	started := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	dispatched, err := s.dispatchDue(ctx, started)

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(started), dispatched, err)
	}
	return err
}

func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueJobs(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("query due jobs: %w", err)
	}

	dispatched := 0
	for _, job := range due {
		req := domain.ExecuteRequest{
			JobID:       job.ID,
			RequestedBy: SystemActor,
			RequestedAt: now,
		}
		if err := s.emitter.Emit(ctx, req); err != nil {
			log.Printf("scheduler: job %s emit error: %v", job.ID, err)
			continue
		}
		dispatched++
	}

	return dispatched, nil
}
