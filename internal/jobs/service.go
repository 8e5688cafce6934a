// Package jobs owns the scheduled job lifecycle: creation, listing,
// pause/resume/cancel, per-customer delivery marking and dashboard
// aggregates. Execution itself lives in the executor package.
package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/schedule"
)

// Store persists scheduled jobs. Mutating methods carry their own
// atomicity guards so concurrent writers cannot clobber each other:
// UpdateJob is compare-and-swap on the status the caller read,
// CancelJob and MarkDelivery are single guarded updates.
type Store interface {
	CreateJob(ctx context.Context, job domain.ScheduledJob) error
	// GetJob returns ErrNotFound when the id does not resolve.
	GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error)
	// UpdateJob persists the full document only while the stored status
	// still equals expect; otherwise it returns ErrInvalidState.
	UpdateJob(ctx context.Context, job domain.ScheduledJob, expect domain.JobStatus) error
	// CancelJob atomically cancels a non-terminal job, appending the
	// history entry. Cancelling a terminal job is a no-op; the current
	// document is returned either way.
	CancelJob(ctx context.Context, id uuid.UUID, entry domain.HistoryEntry, now time.Time) (domain.ScheduledJob, error)
	// MarkDelivery applies a delivery outcome under a row lock,
	// rejecting terminal re-marks with ErrInvalidState, and recomputes
	// the aggregate email stats in the same transaction.
	MarkDelivery(ctx context.Context, jobID, customerID uuid.UUID, update domain.DeliveryUpdate) (domain.ScheduledJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	ListJobs(ctx context.Context, filter ListFilter) ([]domain.ScheduledJob, int, error)

	CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	CountJobsByType(ctx context.Context) (map[domain.JobType]int, error)
	UpcomingJobs(ctx context.Context, after time.Time, limit int) ([]domain.ScheduledJob, error)
	RecentJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ScheduledJob, error)
}

// CustomerDirectory resolves customer ids to contact snapshots at job
// creation time.
type CustomerDirectory interface {
	Resolve(ctx context.Context, customerID uuid.UUID) (CustomerInfo, error)
}

type CustomerInfo struct {
	Email string
	Name  string
}

// EventEmitter hands execute requests to the execution engine.
type EventEmitter interface {
	Emit(ctx context.Context, req domain.ExecuteRequest) error
}

type ListFilter struct {
	Status *domain.JobStatus
	Type   *domain.JobType
	Active *bool

	Page     int // 1-based
	PageSize int
}

// Pagination describes a page of list results.
type Pagination struct {
	Page       int
	TotalPages int
	TotalItems int
}

// Pagination defaults and limits.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type Service struct {
	store     Store
	directory CustomerDirectory
	emitter   EventEmitter // optional, nil = immediate jobs wait for the next tick
	clock     func() time.Time
}

func New(store Store, directory CustomerDirectory) *Service {
	return &Service{
		store:     store,
		directory: directory,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithEmitter lets Create dispatch IMMEDIATE jobs without waiting for a
// scheduler tick.
func (s *Service) WithEmitter(emitter EventEmitter) *Service {
	s.emitter = emitter
	return s
}

type CreateParams struct {
	Type        domain.JobType
	Schedule    domain.Schedule
	CustomerIDs []uuid.UUID
	Config      domain.JobConfig
}

// Create validates the parameters, snapshots each targeted customer and
// persists the job with its first computed run time.
func (s *Service) Create(ctx context.Context, p CreateParams, actor domain.Actor) (domain.ScheduledJob, error) {
	now := s.clock()

	switch p.Type {
	case domain.JobTypeReportGeneration, domain.JobTypeEmailBatch, domain.JobTypeFIDetection:
	default:
		return domain.ScheduledJob{}, validationf("unknown job type %q", p.Type)
	}
	if len(p.CustomerIDs) == 0 {
		return domain.ScheduledJob{}, validationf("at least one customer is required")
	}
	if len(p.Config.ReportTypes) == 0 {
		return domain.ScheduledJob{}, validationf("at least one report type is required")
	}
	if err := schedule.Validate(p.Schedule, now); err != nil {
		return domain.ScheduledJob{}, validationf("invalid schedule: %v", err)
	}

	customers := make([]domain.CustomerDelivery, 0, len(p.CustomerIDs))
	for _, id := range p.CustomerIDs {
		info, err := s.directory.Resolve(ctx, id)
		if err != nil {
			return domain.ScheduledJob{}, fmt.Errorf("resolve customer %s: %w", id, err)
		}
		customers = append(customers, domain.CustomerDelivery{
			CustomerID: id,
			Email:      info.Email,
			Name:       info.Name,
			SendStatus: domain.SendStatusPending,
		})
	}

	nextRun, hasNext, err := schedule.NextRun(p.Schedule, now)
	if err != nil {
		return domain.ScheduledJob{}, validationf("invalid schedule: %v", err)
	}

	job := domain.ScheduledJob{
		ID:         uuid.New(),
		Type:       p.Type,
		Status:     domain.JobStatusScheduled,
		IsActive:   true,
		Schedule:   p.Schedule,
		Customers:  customers,
		Config:     p.Config,
		CreatedBy:  actor,
		ModifiedBy: actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if hasNext {
		job.Execution.NextRunAt = &nextRun
	}
	job.RecomputeEmailStats()
	job.AppendHistory(actor, now, domain.HistoryActionCreated, fmt.Sprintf("%s job targeting %d customers", p.Type, len(customers)), "")

	if err := s.store.CreateJob(ctx, job); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("create job: %w", err)
	}

	// IMMEDIATE jobs fire without waiting for the next scheduler tick.
	if p.Schedule.Type == domain.ScheduleTypeImmediate && s.emitter != nil {
		req := domain.ExecuteRequest{JobID: job.ID, RequestedBy: actor, RequestedAt: now}
		if err := s.emitter.Emit(ctx, req); err != nil {
			log.Printf("jobs: immediate dispatch for job %s failed, next tick will pick it up: %v", job.ID, err)
		}
	}

	return job, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	return s.store.GetJob(ctx, id)
}

// List returns jobs matching the filter plus a pagination descriptor.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.ScheduledJob, Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}

	items, total, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list jobs: %w", err)
	}

	totalPages := (total + filter.PageSize - 1) / filter.PageSize
	if totalPages == 0 {
		totalPages = 1
	}

	return items, Pagination{Page: filter.Page, TotalPages: totalPages, TotalItems: total}, nil
}

type UpdateParams struct {
	Schedule *domain.Schedule
	Config   *domain.JobConfig
	IsActive *bool
}

// Update modifies a job's schedule, config or active flag. Jobs with an
// execution in flight cannot be modified.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateParams, actor domain.Actor) (domain.ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	if job.Status.InFlight() {
		return domain.ScheduledJob{}, fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidState)
	}
	readStatus := job.Status

	now := s.clock()
	var changes []string

	if p.Schedule != nil {
		if err := schedule.Validate(*p.Schedule, now); err != nil {
			return domain.ScheduledJob{}, validationf("invalid schedule: %v", err)
		}
		job.Schedule = *p.Schedule
		next, hasNext, err := schedule.NextRun(*p.Schedule, now)
		if err != nil {
			return domain.ScheduledJob{}, validationf("invalid schedule: %v", err)
		}
		if hasNext {
			job.Execution.NextRunAt = &next
		} else {
			job.Execution.NextRunAt = nil
		}
		changes = append(changes, "schedule")
	}
	if p.Config != nil {
		if len(p.Config.ReportTypes) == 0 {
			return domain.ScheduledJob{}, validationf("at least one report type is required")
		}
		job.Config = *p.Config
		changes = append(changes, "config")
	}
	if p.IsActive != nil {
		job.IsActive = *p.IsActive
		changes = append(changes, "is_active")
	}

	if len(changes) == 0 {
		return job, nil
	}

	job.ModifiedBy = actor
	job.UpdatedAt = now
	job.AppendHistory(actor, now, domain.HistoryActionModified, "updated "+strings.Join(changes, ", "), "")

	if err := s.store.UpdateJob(ctx, job, readStatus); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}
