package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/schedule"
)

// Pause suppresses the next scheduled tick. Only jobs at rest
// (SCHEDULED or CACHED) can be paused; a running execution cannot be
// paused mid-flight.
func (s *Service) Pause(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	if job.Status != domain.JobStatusScheduled && job.Status != domain.JobStatusCached {
		return domain.ScheduledJob{}, fmt.Errorf("pause from %s: %w", job.Status, ErrInvalidState)
	}
	readStatus := job.Status

	now := s.clock()
	job.Status = domain.JobStatusPaused
	job.ModifiedBy = actor
	job.UpdatedAt = now
	job.AppendHistory(actor, now, domain.HistoryActionModified, "paused", "")

	if err := s.store.UpdateJob(ctx, job, readStatus); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("pause job: %w", err)
	}
	return job, nil
}

// Resume re-arms a paused job and recomputes its next run.
func (s *Service) Resume(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	if job.Status != domain.JobStatusPaused {
		return domain.ScheduledJob{}, fmt.Errorf("resume from %s: %w", job.Status, ErrInvalidState)
	}

	now := s.clock()
	job.Status = domain.JobStatusScheduled
	next, hasNext, err := schedule.NextRun(job.Schedule, now)
	if err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("recompute next run: %w", err)
	}
	switch {
	case hasNext:
		job.Execution.NextRunAt = &next
	case job.Schedule.Type == domain.ScheduleTypeOnce &&
		job.Execution.RunCount == 0 && job.Schedule.ScheduledFor != nil:
		// The one-shot time passed while paused. The run is deferred by
		// the pause, not dropped: keep the original time so the next
		// tick fires it.
		job.Execution.NextRunAt = job.Schedule.ScheduledFor
	default:
		job.Execution.NextRunAt = nil
	}
	job.ModifiedBy = actor
	job.UpdatedAt = now
	job.AppendHistory(actor, now, domain.HistoryActionModified, "resumed", "")

	if err := s.store.UpdateJob(ctx, job, domain.JobStatusPaused); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("resume job: %w", err)
	}
	return job, nil
}

// Cancel moves a job to CANCELLED and deactivates it. Cancelling a job
// already in a terminal status is a no-op success: the job is returned
// unchanged with no new history entry. A running execution observes the
// cancellation cooperatively between customer sends; in-flight delivery
// calls are allowed to complete.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.ScheduledJob, error) {
	now := s.clock()
	entry := domain.HistoryEntry{
		ExecutedBy: actor,
		ExecutedAt: now,
		Action:     domain.HistoryActionCancelled,
		Details:    "cancelled",
	}

	job, err := s.store.CancelJob(ctx, id, entry, now)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	return job, nil
}

// Delete removes a job permanently. This is an administrative override
// outside the normal lifecycle; cancellation is the lifecycle-safe way
// to stop a job.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteJob(ctx, id)
}
