package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

type CreateJobRequest struct {
	Type        string          `json:"type"`
	Schedule    ScheduleRequest `json:"schedule"`
	CustomerIDs []string        `json:"customer_ids"`

	ReportTypes   []string `json:"report_types"`
	ProjectIDs    []string `json:"project_ids,omitempty"`
	EmailTemplate string   `json:"email_template,omitempty"`
	CustomSubject string   `json:"custom_subject,omitempty"`
	AttachReports bool     `json:"attach_reports,omitempty"`

	Actor *ActorRequest `json:"actor,omitempty"`
}

type ScheduleRequest struct {
	Type           string `json:"type"`
	ScheduledFor   string `json:"scheduled_for,omitempty"` // RFC3339, ONCE only
	TimeOfDay      string `json:"time_of_day,omitempty"`   // "HH:MM"
	DayOfWeek      *int   `json:"day_of_week,omitempty"`   // 0 = Sunday
	DayOfMonth     *int   `json:"day_of_month,omitempty"`  // 1-31
	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"` // default UTC
}

type UpdateJobRequest struct {
	Schedule *ScheduleRequest `json:"schedule,omitempty"`
	IsActive *bool            `json:"is_active,omitempty"`

	ReportTypes   []string `json:"report_types,omitempty"`
	ProjectIDs    []string `json:"project_ids,omitempty"`
	EmailTemplate *string  `json:"email_template,omitempty"`
	CustomSubject *string  `json:"custom_subject,omitempty"`
	AttachReports *bool    `json:"attach_reports,omitempty"`

	Actor *ActorRequest `json:"actor,omitempty"`
}

// ActorRequest identifies who performed an operation. Omitted fields
// fall back to the anonymous API actor.
type ActorRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type ExecuteJobRequest struct {
	Force bool          `json:"force,omitempty"`
	Actor *ActorRequest `json:"actor,omitempty"`
}

type ActionRequest struct {
	Actor *ActorRequest `json:"actor,omitempty"`
}

type MarkSentRequest struct {
	Skipped bool          `json:"skipped,omitempty"`
	Actor   *ActorRequest `json:"actor,omitempty"`
}

type MarkFailedRequest struct {
	Error string        `json:"error"`
	Actor *ActorRequest `json:"actor,omitempty"`
}

// JobResponse is the full job representation; every read and write
// endpoint returns it so clients never need a follow-up fetch.
type JobResponse struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	IsActive bool   `json:"is_active"`

	Schedule  ScheduleResponse   `json:"schedule"`
	Customers []CustomerResponse `json:"customers"`
	Config    ConfigResponse     `json:"config"`
	Cache     *CacheResponse     `json:"cache,omitempty"`

	Execution  ExecutionResponse `json:"execution"`
	EmailStats EmailStatsResponse `json:"email_stats"`
	Progress   int                `json:"progress"`

	History []HistoryResponse `json:"history"`

	CreatedBy  ActorResponse `json:"created_by"`
	ModifiedBy ActorResponse `json:"modified_by"`
	CreatedAt  string        `json:"created_at"`
	UpdatedAt  string        `json:"updated_at"`
}

type ScheduleResponse struct {
	Type           string `json:"type"`
	ScheduledFor   string `json:"scheduled_for,omitempty"`
	TimeOfDay      string `json:"time_of_day,omitempty"`
	DayOfWeek      int    `json:"day_of_week,omitempty"`
	DayOfMonth     int    `json:"day_of_month,omitempty"`
	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone"`
}

type CustomerResponse struct {
	CustomerID   string `json:"customer_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	SendStatus   string `json:"send_status"`
	SentAt       string `json:"sent_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type ConfigResponse struct {
	ReportTypes   []string `json:"report_types"`
	ProjectIDs    []string `json:"project_ids,omitempty"`
	EmailTemplate string   `json:"email_template,omitempty"`
	CustomSubject string   `json:"custom_subject,omitempty"`
	AttachReports bool     `json:"attach_reports"`
}

type CacheResponse struct {
	ReportIDs   []string `json:"report_ids"`
	GeneratedAt string   `json:"generated_at"`
	ExpiresAt   string   `json:"expires_at"`
	Expired     bool     `json:"expired"`
}

type ExecutionResponse struct {
	LastRunAt         string `json:"last_run_at,omitempty"`
	NextRunAt         string `json:"next_run_at,omitempty"`
	RunCount          int    `json:"run_count"`
	SuccessCount      int    `json:"success_count"`
	FailureCount      int    `json:"failure_count"`
	AvgProcessingTime string `json:"avg_processing_time,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

type EmailStatsResponse struct {
	TotalEmails   int `json:"total_emails"`
	SentEmails    int `json:"sent_emails"`
	FailedEmails  int `json:"failed_emails"`
	SkippedEmails int `json:"skipped_emails"`
}

type HistoryResponse struct {
	ExecutedBy ActorResponse `json:"executed_by"`
	ExecutedAt string        `json:"executed_at"`
	Action     string        `json:"action"`
	Details    string        `json:"details,omitempty"`
	Result     string        `json:"result,omitempty"`
}

type ActorResponse struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	TotalItems int           `json:"total_items"`
}

type DashboardResponse struct {
	CountsByStatus    map[string]int `json:"counts_by_status"`
	CountsByType      map[string]int `json:"counts_by_type"`
	Upcoming          []JobResponse  `json:"upcoming"`
	RecentlyCompleted []JobResponse  `json:"recently_completed"`
	RecentlyFailed    []JobResponse  `json:"recently_failed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toJobResponse(job domain.ScheduledJob, now time.Time) JobResponse {
	resp := JobResponse{
		ID:       job.ID.String(),
		Type:     string(job.Type),
		Status:   string(job.Status),
		IsActive: job.IsActive,
		Schedule: ScheduleResponse{
			Type:           string(job.Schedule.Type),
			TimeOfDay:      job.Schedule.TimeOfDay,
			DayOfWeek:      job.Schedule.DayOfWeek,
			DayOfMonth:     job.Schedule.DayOfMonth,
			CronExpression: job.Schedule.CronExpression,
			Timezone:       job.Schedule.Timezone,
		},
		Config: ConfigResponse{
			ReportTypes:   job.Config.ReportTypes,
			ProjectIDs:    job.Config.ProjectIDs,
			EmailTemplate: job.Config.EmailTemplate,
			CustomSubject: job.Config.CustomSubject,
			AttachReports: job.Config.AttachReports,
		},
		EmailStats: EmailStatsResponse{
			TotalEmails:   job.EmailStats.TotalEmails,
			SentEmails:    job.EmailStats.SentEmails,
			FailedEmails:  job.EmailStats.FailedEmails,
			SkippedEmails: job.SkippedEmails(),
		},
		Progress: job.Progress(),
		CreatedBy: toActorResponse(job.CreatedBy),
		ModifiedBy: toActorResponse(job.ModifiedBy),
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}

	if job.Schedule.ScheduledFor != nil {
		resp.Schedule.ScheduledFor = formatTime(*job.Schedule.ScheduledFor)
	}

	resp.Customers = make([]CustomerResponse, len(job.Customers))
	for i, c := range job.Customers {
		cr := CustomerResponse{
			CustomerID:   c.CustomerID.String(),
			Email:        c.Email,
			Name:         c.Name,
			SendStatus:   string(c.SendStatus),
			ErrorMessage: c.ErrorMessage,
		}
		if c.SentAt != nil {
			cr.SentAt = formatTime(*c.SentAt)
		}
		resp.Customers[i] = cr
	}

	if job.Cache != nil {
		resp.Cache = &CacheResponse{
			ReportIDs:   job.Cache.ReportIDs,
			GeneratedAt: formatTime(job.Cache.GeneratedAt),
			ExpiresAt:   formatTime(job.Cache.ExpiresAt),
			Expired:     job.Cache.Expired(now),
		}
	}

	resp.Execution = ExecutionResponse{
		RunCount:     job.Execution.RunCount,
		SuccessCount: job.Execution.SuccessCount,
		FailureCount: job.Execution.FailureCount,
	}
	if job.Execution.LastRunAt != nil {
		resp.Execution.LastRunAt = formatTime(*job.Execution.LastRunAt)
	}
	if job.Execution.NextRunAt != nil {
		resp.Execution.NextRunAt = formatTime(*job.Execution.NextRunAt)
	}
	if job.Execution.AvgProcessingTime > 0 {
		resp.Execution.AvgProcessingTime = job.Execution.AvgProcessingTime.String()
	}
	if job.Execution.LastError != nil {
		resp.Execution.LastError = job.Execution.LastError.Message
	}

	resp.History = make([]HistoryResponse, len(job.History))
	for i, h := range job.History {
		resp.History[i] = HistoryResponse{
			ExecutedBy: toActorResponse(h.ExecutedBy),
			ExecutedAt: formatTime(h.ExecutedAt),
			Action:     string(h.Action),
			Details:    h.Details,
			Result:     h.Result,
		}
	}

	return resp
}

func toActorResponse(a domain.Actor) ActorResponse {
	resp := ActorResponse{Name: a.Name, Email: a.Email}
	if a.ID != uuid.Nil {
		resp.ID = a.ID.String()
	}
	return resp
}
