package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeReportGeneration JobType = "REPORT_GENERATION"
	JobTypeEmailBatch       JobType = "EMAIL_BATCH"
	JobTypeFIDetection      JobType = "FI_DETECTION"
)

type JobStatus string

const (
	JobStatusScheduled  JobStatus = "SCHEDULED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCached     JobStatus = "CACHED"
	JobStatusSending    JobStatus = "SENDING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
	JobStatusPaused     JobStatus = "PAUSED"
)

// Terminal reports whether the status ends an execution cycle.
// FAILED and COMPLETED recurring jobs re-enter SCHEDULED when the
// scheduler re-arms them; CANCELLED never does.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// InFlight reports whether an execution is currently running.
func (s JobStatus) InFlight() bool {
	return s == JobStatusProcessing || s == JobStatusSending
}

// Actor is a point-in-time snapshot of the user who performed an action.
// Edits to the live user record do not retroactively update it.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type JobConfig struct {
	ReportTypes   []string `json:"report_types"`
	ProjectIDs    []string `json:"project_ids"`
	EmailTemplate string   `json:"email_template"`
	CustomSubject string   `json:"custom_subject,omitempty"`
	AttachReports bool     `json:"attach_reports"`
}

// JobCache holds previously generated report artifacts. Presence implies
// a prior successful generation phase; absence means generation must run
// before the send phase.
type JobCache struct {
	ReportIDs     []string  `json:"report_ids"`
	ArtifactPaths []string  `json:"artifact_paths"`
	GeneratedAt   time.Time `json:"generated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the cached artifacts are past their TTL.
func (c *JobCache) Expired(now time.Time) bool {
	return c == nil || now.After(c.ExpiresAt)
}

type LastError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ExecutionStats struct {
	LastRunAt         *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt         *time.Time    `json:"next_run_at,omitempty"`
	RunCount          int           `json:"run_count"`
	SuccessCount      int           `json:"success_count"`
	FailureCount      int           `json:"failure_count"`
	AvgProcessingTime time.Duration `json:"avg_processing_time_ns"`
	LastError         *LastError    `json:"last_error,omitempty"`
}

// EmailStats is always derived by scanning Customers, never incremented
// independently. BOUNCED counts as failed.
type EmailStats struct {
	TotalEmails  int `json:"total_emails"`
	SentEmails   int `json:"sent_emails"`
	FailedEmails int `json:"failed_emails"`
}

// ScheduledJob is the root entity: a unit of recurring or one-off work
// (email batch, report generation, FI detection) with its per-customer
// delivery state, schedule, cached artifacts and execution history.
type ScheduledJob struct {
	ID   uuid.UUID
	Type JobType

	Status   JobStatus
	IsActive bool

	Schedule  Schedule
	Customers []CustomerDelivery
	Config    JobConfig
	Cache     *JobCache

	Execution  ExecutionStats
	EmailStats EmailStats
	History    []HistoryEntry

	CreatedBy  Actor
	ModifiedBy Actor

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Progress returns the delivery completion percentage in [0, 100]:
// the share of customers whose sendStatus reached a terminal value.
// Jobs with no customers report 0.
func (j *ScheduledJob) Progress() int {
	if len(j.Customers) == 0 || j.EmailStats.TotalEmails == 0 {
		return 0
	}
	done := 0
	for _, c := range j.Customers {
		if c.SendStatus.Terminal() {
			done++
		}
	}
	return int(float64(done)/float64(j.EmailStats.TotalEmails)*100 + 0.5)
}

// RecomputeEmailStats rescans Customers and rewrites the aggregate
// counters. Called after every mutation of the delivery array so the
// aggregates can never drift from their source.
func (j *ScheduledJob) RecomputeEmailStats() {
	stats := EmailStats{TotalEmails: len(j.Customers)}
	for _, c := range j.Customers {
		switch c.SendStatus {
		case SendStatusSent:
			stats.SentEmails++
		case SendStatusFailed, SendStatusBounced:
			stats.FailedEmails++
		}
	}
	j.EmailStats = stats
}

// SkippedEmails counts deliveries skipped in the current cycle.
func (j *ScheduledJob) SkippedEmails() int {
	n := 0
	for _, c := range j.Customers {
		if c.SendStatus == SendStatusSkipped {
			n++
		}
	}
	return n
}

// CacheExpired reports whether the job must regenerate reports before
// sending.
func (j *ScheduledJob) CacheExpired(now time.Time) bool {
	return j.Cache.Expired(now)
}

// FindCustomer returns a pointer into Customers for the given customer
// id, or nil if the job does not target that customer.
func (j *ScheduledJob) FindCustomer(customerID uuid.UUID) *CustomerDelivery {
	for i := range j.Customers {
		if j.Customers[i].CustomerID == customerID {
			return &j.Customers[i]
		}
	}
	return nil
}

// ResetDeliveries returns all customer deliveries to PENDING for a new
// execution cycle. Terminal statuses from the previous cycle are
// cleared, never overwritten mid-cycle.
func (j *ScheduledJob) ResetDeliveries() {
	for i := range j.Customers {
		j.Customers[i].SendStatus = SendStatusPending
		j.Customers[i].SentAt = nil
		j.Customers[i].ErrorMessage = ""
	}
	j.RecomputeEmailStats()
}
