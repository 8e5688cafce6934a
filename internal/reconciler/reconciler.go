// Package reconciler recovers jobs orphaned mid-execution.
//
// A job is orphaned when it sits in PROCESSING or SENDING with no
// write for longer than the threshold: the executor that claimed it
// crashed or was killed before finishing the cycle. The reconciler
// fails the cycle, records the interruption, and re-arms recurring
// schedules so the job is picked up again.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/schedule"
)

// Store defines the persistence the reconciler needs.
type Store interface {
	// StuckJobs returns in-flight jobs untouched since olderThan,
	// oldest first.
	StuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledJob, error)
	// UpdateJob is compare-and-swap on the status the caller read; see
	// jobs.Store.
	UpdateJob(ctx context.Context, job domain.ScheduledJob, expect domain.JobStatus) error
}

// SystemActor is recorded on history entries for recoveries the
// reconciler performs.
var SystemActor = domain.Actor{Name: "reconciler", Email: "system"}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the in-flight age after which a job is considered
	// stuck. Must comfortably exceed the generation timeout.
	// Default: 30 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of stuck jobs to recover per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler detects stuck in-flight jobs and fails their cycles.
type Reconciler struct {
	config Config
	store  Store
	clock  func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	stuck, err := r.store.StuckJobs(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch stuck jobs: %v", err)
		return
	}

	if len(stuck) == 0 {
		return
	}

	log.Printf("reconciler: found %d stuck jobs", len(stuck))

	recovered := 0
	failed := 0

	for _, job := range stuck {
		// Check context before each write to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d jobs", recovered+failed, len(stuck))
			return
		}

		if err := r.recover(ctx, job, now); err != nil {
			// A lost CAS means the executor woke back up and moved the
			// job itself; either way the next cycle re-checks.
			log.Printf("reconciler: failed to recover job=%s: %v", job.ID, err)
			failed++
			continue
		}

		log.Printf("reconciler: recovered job=%s from %s (idle=%s)",
			job.ID, job.Status, now.Sub(job.UpdatedAt).Round(time.Second))
		recovered++
	}

	log.Printf("reconciler: cycle complete, recovered=%d, failed=%d", recovered, failed)
}

// recover fails the orphaned cycle and re-arms the schedule. The CAS
// on the stuck status guarantees a revived executor and the reconciler
// cannot both write the outcome.
func (r *Reconciler) recover(ctx context.Context, job domain.ScheduledJob, now time.Time) error {
	prev := job.Status

	job.Status = domain.JobStatusFailed
	job.Execution.RunCount++
	job.Execution.FailureCount++
	job.Execution.LastRunAt = &now
	job.Execution.LastError = &domain.LastError{
		Message:   "execution interrupted: no progress since " + job.UpdatedAt.UTC().Format(time.RFC3339),
		Timestamp: now,
	}

	if job.Schedule.Recurring() {
		if next, ok, err := schedule.NextRun(job.Schedule, now); err == nil && ok {
			job.Execution.NextRunAt = &next
		} else {
			job.Execution.NextRunAt = nil
		}
	} else {
		job.Execution.NextRunAt = nil
		if job.Schedule.Type == domain.ScheduleTypeImmediate {
			job.IsActive = false
		}
	}

	job.AppendHistory(SystemActor, now, domain.HistoryActionFailed,
		"execution interrupted and recovered by reconciler", "FAILED")
	job.UpdatedAt = now

	return r.store.UpdateJob(ctx, job, prev)
}
