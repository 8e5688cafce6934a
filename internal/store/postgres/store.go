// Package postgres persists scheduled jobs. All lifecycle guards live
// here as atomic UPDATE ... WHERE clauses, so concurrent triggers and
// cancellations serialize on the database rather than in memory.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/executor"
	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
	"github.com/karlennis/fi-email-automation-sub000/internal/reconciler"
	"github.com/karlennis/fi-email-automation-sub000/internal/scheduler"
)

// Store implements the jobs, executor, scheduler and reconciler store
// interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.ScheduledJob, error) {
	var job domain.ScheduledJob
	var jobType, status string
	var schedule, customers, config, execution, emailStats, history, createdBy, modifiedBy []byte
	var cache []byte
	var nextRunAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&jobType,
		&status,
		&job.IsActive,
		&schedule,
		&customers,
		&config,
		&cache,
		&execution,
		&emailStats,
		&history,
		&createdBy,
		&modifiedBy,
		&nextRunAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)

	for _, field := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"schedule", schedule, &job.Schedule},
		{"customers", customers, &job.Customers},
		{"config", config, &job.Config},
		{"execution", execution, &job.Execution},
		{"email_stats", emailStats, &job.EmailStats},
		{"history", history, &job.History},
		{"created_by", createdBy, &job.CreatedBy},
		{"modified_by", modifiedBy, &job.ModifiedBy},
	} {
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return domain.ScheduledJob{}, fmt.Errorf("decode %s: %w", field.name, err)
		}
	}
	if len(cache) > 0 {
		job.Cache = &domain.JobCache{}
		if err := json.Unmarshal(cache, job.Cache); err != nil {
			return domain.ScheduledJob{}, fmt.Errorf("decode cache: %w", err)
		}
	}

	return job, nil
}

// jobDoc holds the marshalled JSONB columns of one job.
type jobDoc struct {
	schedule   []byte
	customers  []byte
	config     []byte
	cache      any // []byte or nil
	execution  []byte
	emailStats []byte
	history    []byte
	createdBy  []byte
	modifiedBy []byte
	nextRunAt  any // time.Time or nil
}

func encodeJob(job domain.ScheduledJob) (jobDoc, error) {
	var doc jobDoc
	var err error

	for _, field := range []struct {
		name string
		src  any
		dst  *[]byte
	}{
		{"schedule", job.Schedule, &doc.schedule},
		{"customers", job.Customers, &doc.customers},
		{"config", job.Config, &doc.config},
		{"execution", job.Execution, &doc.execution},
		{"email_stats", job.EmailStats, &doc.emailStats},
		{"history", job.History, &doc.history},
		{"created_by", job.CreatedBy, &doc.createdBy},
		{"modified_by", job.ModifiedBy, &doc.modifiedBy},
	} {
		if *field.dst, err = json.Marshal(field.src); err != nil {
			return jobDoc{}, fmt.Errorf("encode %s: %w", field.name, err)
		}
	}

	if job.Cache != nil {
		raw, err := json.Marshal(job.Cache)
		if err != nil {
			return jobDoc{}, fmt.Errorf("encode cache: %w", err)
		}
		doc.cache = raw
	}
	if job.Execution.NextRunAt != nil {
		doc.nextRunAt = *job.Execution.NextRunAt
	}

	return doc, nil
}

func (s *Store) CreateJob(ctx context.Context, job domain.ScheduledJob) error {
	doc, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		string(job.Type),
		string(job.Status),
		job.IsActive,
		doc.schedule,
		doc.customers,
		doc.config,
		doc.cache,
		doc.execution,
		doc.emailStats,
		doc.history,
		doc.createdBy,
		doc.modifiedBy,
		doc.nextRunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, id))
	if err == sql.ErrNoRows {
		return domain.ScheduledJob{}, jobs.ErrNotFound
	}
	return job, err
}

// UpdateJob persists the full document with a compare-and-swap on the
// stored status. The row lock acquired before the WHERE guard is
// evaluated serializes concurrent writers.
func (s *Store) UpdateJob(ctx context.Context, job domain.ScheduledJob, expect domain.JobStatus) error {
	doc, err := encodeJob(job)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, queryUpdateJob,
		job.ID,
		string(job.Type),
		string(job.Status),
		job.IsActive,
		doc.schedule,
		doc.customers,
		doc.config,
		doc.cache,
		doc.execution,
		doc.emailStats,
		doc.history,
		doc.createdBy,
		doc.modifiedBy,
		doc.nextRunAt,
		job.UpdatedAt,
		string(expect),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, queryGetJobStatus, job.ID).Scan(&current)
		if err == sql.ErrNoRows {
			return jobs.ErrNotFound
		}
		if err != nil {
			return err
		}
		return jobs.ErrInvalidState
	}
	return nil
}

// ClaimJob atomically moves a claimable job into PROCESSING. Exactly
// one of two concurrent claims wins the UPDATE.
func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, queryClaimJob, id, time.Now().UTC()))
	if err == sql.ErrNoRows {
		var current string
		err := s.db.QueryRowContext(ctx, queryGetJobStatus, id).Scan(&current)
		if err == sql.ErrNoRows {
			return domain.ScheduledJob{}, jobs.ErrNotFound
		}
		if err != nil {
			return domain.ScheduledJob{}, err
		}
		return domain.ScheduledJob{}, jobs.ErrInvalidState
	}
	return job, err
}

// CancelJob cancels a non-terminal job under a row lock. Terminal jobs
// are returned unchanged: repeated cancellation is a no-op, and a
// completed cycle is never rewritten.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID, entry domain.HistoryEntry, now time.Time) (domain.ScheduledJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, queryGetJobForUpdate, id))
	if err == sql.ErrNoRows {
		return domain.ScheduledJob{}, jobs.ErrNotFound
	}
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	if job.Status.Terminal() {
		return job, tx.Commit()
	}

	prev := job.Status
	job.Status = domain.JobStatusCancelled
	job.IsActive = false
	job.Execution.NextRunAt = nil
	job.History = append(job.History, entry)
	job.ModifiedBy = entry.ExecutedBy
	job.UpdatedAt = now

	if err := updateJobTx(ctx, tx, job, prev); err != nil {
		return domain.ScheduledJob{}, err
	}
	return job, tx.Commit()
}

// MarkDelivery applies one customer's delivery outcome and recomputes
// the aggregate counters in the same transaction. A customer already
// in a terminal state for this cycle keeps its first outcome.
func (s *Store) MarkDelivery(ctx context.Context, jobID, customerID uuid.UUID, update domain.DeliveryUpdate) (domain.ScheduledJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, queryGetJobForUpdate, jobID))
	if err == sql.ErrNoRows {
		return domain.ScheduledJob{}, jobs.ErrNotFound
	}
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	customer := job.FindCustomer(customerID)
	if customer == nil {
		return domain.ScheduledJob{}, jobs.ErrCustomerNotFound
	}
	if customer.SendStatus.Terminal() {
		return domain.ScheduledJob{}, jobs.ErrInvalidState
	}

	customer.SendStatus = update.Status
	customer.SentAt = update.SentAt
	customer.ErrorMessage = update.ErrorMessage
	job.RecomputeEmailStats()
	if update.SentAt != nil {
		job.UpdatedAt = *update.SentAt
	} else {
		job.UpdatedAt = time.Now().UTC()
	}
	if update.Actor != nil {
		job.ModifiedBy = *update.Actor
		job.AppendHistory(*update.Actor, job.UpdatedAt, domain.HistoryActionModified,
			fmt.Sprintf("customer %s marked %s", customerID, update.Status), "")
	}

	if err := updateJobTx(ctx, tx, job, job.Status); err != nil {
		return domain.ScheduledJob{}, err
	}
	return job, tx.Commit()
}

func updateJobTx(ctx context.Context, tx *sql.Tx, job domain.ScheduledJob, expect domain.JobStatus) error {
	doc, err := encodeJob(job)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, queryUpdateJob,
		job.ID,
		string(job.Type),
		string(job.Status),
		job.IsActive,
		doc.schedule,
		doc.customers,
		doc.config,
		doc.cache,
		doc.execution,
		doc.emailStats,
		doc.history,
		doc.createdBy,
		doc.modifiedBy,
		doc.nextRunAt,
		job.UpdatedAt,
		string(expect),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return jobs.ErrInvalidState
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	var deleted uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteJob, id).Scan(&deleted)
	if err == sql.ErrNoRows {
		return jobs.ErrNotFound
	}
	return err
}

// ListJobs returns one page of jobs matching the filter plus the total
// match count.
func (s *Store) ListJobs(ctx context.Context, filter jobs.ListFilter) ([]domain.ScheduledJob, int, error) {
	var conds []string
	var args []any

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		conds = append(conds, fmt.Sprintf("job_type = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM scheduled_jobs " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	listQuery := fmt.Sprintf(
		"SELECT %s FROM scheduled_jobs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		jobColumns, where, len(args)-1, len(args),
	)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (s *Store) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, queryCountByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) CountJobsByType(ctx context.Context) (map[domain.JobType]int, error) {
	rows, err := s.db.QueryContext(ctx, queryCountByType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobType]int)
	for rows.Next() {
		var jobType string
		var n int
		if err := rows.Scan(&jobType, &n); err != nil {
			return nil, err
		}
		counts[domain.JobType(jobType)] = n
	}
	return counts, rows.Err()
}

func (s *Store) UpcomingJobs(ctx context.Context, after time.Time, limit int) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, queryUpcomingJobs, after, limit)
}

func (s *Store) RecentJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, queryRecentJobs, string(status), limit)
}

// DueJobs returns active dispatchable jobs whose next run time has
// passed, soonest first. A job resting at COMPLETED or FAILED with a
// re-armed next_run_at is due for its next cycle.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, queryDueJobs, now, limit)
}

// StuckJobs returns jobs left in an in-flight status with no write
// since the threshold, oldest first. These are cycles orphaned by a
// crashed executor.
func (s *Store) StuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, queryStuckJobs, olderThan, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// Compile-time interface assertions
var (
	_ jobs.Store       = (*Store)(nil)
	_ executor.Store   = (*Store)(nil)
	_ scheduler.Store  = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
)
