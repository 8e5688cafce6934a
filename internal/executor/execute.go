package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
	"github.com/karlennis/fi-email-automation-sub000/internal/schedule"
)

// Delivery outcome labels for metrics and analytics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// ExecuteNow runs one full execution cycle for the job. The claim is
// atomic, so of two concurrent calls exactly one proceeds and the other
// fails with jobs.ErrInvalidState. force skips cache reuse.
func (e *Executor) ExecuteNow(ctx context.Context, jobID uuid.UUID, actor domain.Actor, force bool) (domain.ScheduledJob, error) {
	started := e.clock()

	job, err := e.store.ClaimJob(ctx, jobID)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	if e.metrics != nil {
		e.metrics.ExecutionStarted()
		e.metrics.ExecutionsInFlightIncr()
		defer e.metrics.ExecutionsInFlightDecr()
	}

	useCache := !force && !job.CacheExpired(started)

	// Each cycle is a fresh batch: previous-cycle terminal statuses are
	// reset, never overwritten mid-cycle.
	job.ResetDeliveries()
	detail := "execution started"
	if useCache {
		detail = "execution started (reusing cached reports)"
	} else if force {
		detail = "execution started (forced regeneration)"
	}
	job.AppendHistory(actor, started, domain.HistoryActionStarted, detail, "")
	job.UpdatedAt = started

	if useCache {
		// Skip regeneration and go straight to the send phase.
		job.Status = domain.JobStatusSending
		if err := e.store.UpdateJob(ctx, job, domain.JobStatusProcessing); err != nil {
			return e.abortClaim(ctx, jobID, err)
		}
	} else {
		job.Cache = nil
		job.Status = domain.JobStatusProcessing
		if err := e.store.UpdateJob(ctx, job, domain.JobStatusProcessing); err != nil {
			return e.abortClaim(ctx, jobID, err)
		}

		result, err := e.generate(ctx, job)
		if err != nil {
			return e.failGeneration(ctx, job, actor, started, err)
		}

		now := e.clock()
		job.Cache = &domain.JobCache{
			ReportIDs:     result.ReportIDs,
			ArtifactPaths: result.ArtifactPaths,
			GeneratedAt:   now,
			ExpiresAt:     now.Add(e.config.CacheTTL),
		}
		job.Status = domain.JobStatusCached
		job.UpdatedAt = now
		if err := e.store.UpdateJob(ctx, job, domain.JobStatusProcessing); err != nil {
			return e.abortClaim(ctx, jobID, err)
		}

		job.Status = domain.JobStatusSending
		if err := e.store.UpdateJob(ctx, job, domain.JobStatusCached); err != nil {
			return e.abortClaim(ctx, jobID, err)
		}
	}

	e.sendAll(ctx, &job)

	return e.finalize(ctx, jobID, actor, started)
}

// abortClaim handles a lost status CAS mid-execution, which means the
// job was cancelled underneath us. The current document is returned.
func (e *Executor) abortClaim(ctx context.Context, jobID uuid.UUID, cause error) (domain.ScheduledJob, error) {
	if !errors.Is(cause, jobs.ErrInvalidState) {
		return domain.ScheduledJob{}, cause
	}
	log.Printf("executor: job %s cancelled mid-execution, stopping", jobID)
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	return job, nil
}

func (e *Executor) generate(ctx context.Context, job domain.ScheduledJob) (GenerateResult, error) {
	genCtx := ctx
	if e.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.config.GenerationTimeout)
		defer cancel()
	}
	return e.generator.Generate(genCtx, GenerateRequest{
		JobID:       job.ID,
		ReportTypes: job.Config.ReportTypes,
		ProjectIDs:  job.Config.ProjectIDs,
		Config:      job.Config,
	})
}

// failGeneration aborts the cycle before any customer is contacted.
func (e *Executor) failGeneration(ctx context.Context, job domain.ScheduledJob, actor domain.Actor, started time.Time, cause error) (domain.ScheduledJob, error) {
	now := e.clock()
	log.Printf("executor: job %s generation failed: %v", job.ID, cause)

	job.Status = domain.JobStatusFailed
	job.Execution.LastError = &domain.LastError{Message: cause.Error(), Timestamp: now}
	e.recordRun(&job, started, now, false)
	job.AppendHistory(actor, now, domain.HistoryActionFailed, "report generation failed", cause.Error())
	job.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, job, domain.JobStatusProcessing); err != nil {
		return e.abortClaim(ctx, job.ID, err)
	}
	e.observeOutcome(ctx, job, OutcomeFailed, now.Sub(started))
	return job, fmt.Errorf("generate reports: %w", cause)
}

// sendAll fans deliveries out over a bounded worker pool. Delivery
// failures are per-customer and never abort the loop. Cancellation is
// observed between dispatches: in-flight sends complete, no new sends
// start.
func (e *Executor) sendAll(ctx context.Context, job *domain.ScheduledJob) {
	var (
		wg        sync.WaitGroup
		sem       = make(chan struct{}, e.config.SendWorkers)
		cancelled atomic.Bool
	)

	for _, c := range job.Customers {
		if c.SendStatus != domain.SendStatusPending {
			continue
		}

		// The slot is acquired first so a cancellation recorded by an
		// in-flight worker is observed before the next dispatch.
		sem <- struct{}{}
		if cancelled.Load() || ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(c domain.CustomerDelivery) {
			defer wg.Done()
			defer func() { <-sem }()

			update := e.sendOne(ctx, job, c)
			updated, err := e.store.MarkDelivery(ctx, job.ID, c.CustomerID, update)
			switch {
			case err == nil:
				if updated.Status == domain.JobStatusCancelled || !updated.IsActive {
					cancelled.Store(true)
				}
			case errors.Is(err, jobs.ErrInvalidState):
				// Already marked externally this cycle; keep the first
				// terminal outcome.
				log.Printf("executor: job %s customer %s already marked, keeping existing status", job.ID, c.CustomerID)
			default:
				log.Printf("executor: job %s customer %s: record delivery: %v", job.ID, c.CustomerID, err)
			}
		}(c)
	}

	wg.Wait()
}

func (e *Executor) sendOne(ctx context.Context, job *domain.ScheduledJob, c domain.CustomerDelivery) domain.DeliveryUpdate {
	sendCtx := ctx
	if e.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, e.config.SendTimeout)
		defer cancel()
	}

	msg := Message{
		To:      c.Email,
		ToName:  c.Name,
		Subject: subjectFor(job),
		Body:    job.Config.EmailTemplate,
	}
	if job.Config.AttachReports && job.Cache != nil {
		msg.Attachments = job.Cache.ArtifactPaths
	}

	result := e.sender.Send(sendCtx, msg)
	now := e.clock()

	switch {
	case result.Error != nil:
		// Timeouts count as a delivery failure for this customer only.
		if e.metrics != nil {
			e.metrics.EmailDelivery("failed")
		}
		return domain.DeliveryUpdate{
			Status:       domain.SendStatusFailed,
			ErrorMessage: result.Error.Error(),
		}
	case result.Bounced:
		if e.metrics != nil {
			e.metrics.EmailDelivery("bounced")
		}
		return domain.DeliveryUpdate{Status: domain.SendStatusBounced, SentAt: &now}
	default:
		if e.metrics != nil {
			e.metrics.EmailDelivery("sent")
		}
		return domain.DeliveryUpdate{Status: domain.SendStatusSent, SentAt: &now}
	}
}

func subjectFor(job *domain.ScheduledJob) string {
	if job.Config.CustomSubject != "" {
		return job.Config.CustomSubject
	}
	return fmt.Sprintf("Scheduled %s report", job.Type)
}

// finalize re-reads the document (external delivery marks included),
// derives the cycle outcome and re-arms recurring schedules.
func (e *Executor) finalize(ctx context.Context, jobID uuid.UUID, actor domain.Actor, started time.Time) (domain.ScheduledJob, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	now := e.clock()

	if job.Status == domain.JobStatusCancelled {
		e.observeOutcome(ctx, job, OutcomeCancelled, now.Sub(started))
		return job, nil
	}

	job.RecomputeEmailStats()

	// Any failed delivery marks the whole cycle FAILED; partial success
	// stays visible through emailStats, not status.
	success := job.EmailStats.FailedEmails == 0
	result := fmt.Sprintf("sent=%d failed=%d skipped=%d total=%d",
		job.EmailStats.SentEmails, job.EmailStats.FailedEmails, job.SkippedEmails(), job.EmailStats.TotalEmails)

	if success {
		job.Status = domain.JobStatusCompleted
		job.AppendHistory(actor, now, domain.HistoryActionCompleted, "execution completed", result)
	} else {
		job.Status = domain.JobStatusFailed
		job.Execution.LastError = &domain.LastError{
			Message:   fmt.Sprintf("%d of %d deliveries failed", job.EmailStats.FailedEmails, job.EmailStats.TotalEmails),
			Timestamp: now,
		}
		job.AppendHistory(actor, now, domain.HistoryActionFailed, "execution completed with delivery failures", result)
	}

	e.recordRun(&job, started, now, success)
	job.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, job, domain.JobStatusSending); err != nil {
		return e.abortClaim(ctx, jobID, err)
	}

	outcome := OutcomeCompleted
	if !success {
		outcome = OutcomeFailed
	}
	e.observeOutcome(ctx, job, outcome, now.Sub(started))
	return job, nil
}

// recordRun updates the run counters, the running processing-time
// average, and the next run time. Recurring schedules re-arm
// automatically even after a failed cycle; ONCE and IMMEDIATE jobs
// require a manual re-trigger, and IMMEDIATE jobs leave the recurring
// pool entirely.
func (e *Executor) recordRun(job *domain.ScheduledJob, started, now time.Time, success bool) {
	elapsed := now.Sub(started)

	job.Execution.RunCount++
	if success {
		job.Execution.SuccessCount++
	} else {
		job.Execution.FailureCount++
	}
	job.Execution.LastRunAt = &now
	job.Execution.AvgProcessingTime += (elapsed - job.Execution.AvgProcessingTime) / time.Duration(job.Execution.RunCount)

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
}

func (e *Executor) observeOutcome(ctx context.Context, job domain.ScheduledJob, outcome string, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.ExecutionCompleted(outcome, elapsed)
	}
	if e.analytics != nil {
		e.analytics.Record(ctx, job.ID, job.Type, outcome, e.clock())
	}
}
