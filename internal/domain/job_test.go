package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJobStatus_Values(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   string
	}{
		{JobStatusScheduled, "SCHEDULED"},
		{JobStatusProcessing, "PROCESSING"},
		{JobStatusCached, "CACHED"},
		{JobStatusSending, "SENDING"},
		{JobStatusCompleted, "COMPLETED"},
		{JobStatusFailed, "FAILED"},
		{JobStatusCancelled, "CANCELLED"},
		{JobStatusPaused, "PAUSED"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("JobStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []JobStatus{JobStatusScheduled, JobStatusProcessing, JobStatusCached, JobStatusSending, JobStatusPaused}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func newBatchJob(n int) *ScheduledJob {
	job := &ScheduledJob{
		ID:     uuid.New(),
		Type:   JobTypeEmailBatch,
		Status: JobStatusScheduled,
	}
	for i := 0; i < n; i++ {
		job.Customers = append(job.Customers, CustomerDelivery{
			CustomerID: uuid.New(),
			Email:      "customer@example.com",
			Name:       "Customer",
			SendStatus: SendStatusPending,
		})
	}
	job.RecomputeEmailStats()
	return job
}

// TestProgress_DeliveryScenario walks a three customer batch through
// SENT, SKIPPED and FAILED and checks progress and aggregates at each
// step.
func TestProgress_DeliveryScenario(t *testing.T) {
	job := newBatchJob(3)

	if job.EmailStats.TotalEmails != 3 {
		t.Fatalf("TotalEmails = %d, want 3", job.EmailStats.TotalEmails)
	}
	if got := job.Progress(); got != 0 {
		t.Fatalf("initial progress = %d, want 0", got)
	}

	now := time.Now().UTC()

	job.Customers[0].SendStatus = SendStatusSent
	job.Customers[0].SentAt = &now
	job.RecomputeEmailStats()
	if got := job.Progress(); got != 33 {
		t.Errorf("progress after 1 sent = %d, want 33", got)
	}

	job.Customers[1].SendStatus = SendStatusSkipped
	job.Customers[1].SentAt = &now
	job.RecomputeEmailStats()
	if got := job.Progress(); got != 67 {
		t.Errorf("progress after 1 sent + 1 skipped = %d, want 67", got)
	}

	job.Customers[2].SendStatus = SendStatusFailed
	job.Customers[2].ErrorMessage = "mailbox unavailable"
	job.RecomputeEmailStats()
	if got := job.Progress(); got != 100 {
		t.Errorf("final progress = %d, want 100", got)
	}
	if job.EmailStats.SentEmails != 1 {
		t.Errorf("SentEmails = %d, want 1", job.EmailStats.SentEmails)
	}
	if job.EmailStats.FailedEmails != 1 {
		t.Errorf("FailedEmails = %d, want 1", job.EmailStats.FailedEmails)
	}
	if job.SkippedEmails() != 1 {
		t.Errorf("SkippedEmails = %d, want 1", job.SkippedEmails())
	}

	// Completed cycle: sent + failed + skipped accounts for every customer.
	sum := job.EmailStats.SentEmails + job.EmailStats.FailedEmails + job.SkippedEmails()
	if sum != job.EmailStats.TotalEmails {
		t.Errorf("sent+failed+skipped = %d, want %d", sum, job.EmailStats.TotalEmails)
	}
}

func TestProgress_NoCustomers(t *testing.T) {
	job := newBatchJob(0)
	if got := job.Progress(); got != 0 {
		t.Errorf("progress with no customers = %d, want 0", got)
	}
}

func TestRecomputeEmailStats_BouncedCountsAsFailed(t *testing.T) {
	job := newBatchJob(2)
	job.Customers[0].SendStatus = SendStatusBounced
	job.RecomputeEmailStats()

	if job.EmailStats.FailedEmails != 1 {
		t.Errorf("FailedEmails = %d, want 1", job.EmailStats.FailedEmails)
	}
	if job.EmailStats.SentEmails != 0 {
		t.Errorf("SentEmails = %d, want 0", job.EmailStats.SentEmails)
	}
}

func TestCacheExpired(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	job := &ScheduledJob{}
	if !job.CacheExpired(now) {
		t.Error("absent cache should report expired")
	}

	job.Cache = &JobCache{
		GeneratedAt: now.Add(-time.Hour),
		ExpiresAt:   now.Add(23 * time.Hour),
	}
	if job.CacheExpired(now) {
		t.Error("cache within TTL should not report expired")
	}

	if !job.CacheExpired(now.Add(24 * time.Hour)) {
		t.Error("cache past ExpiresAt should report expired")
	}
}

func TestResetDeliveries(t *testing.T) {
	job := newBatchJob(2)
	now := time.Now().UTC()
	job.Customers[0].SendStatus = SendStatusSent
	job.Customers[0].SentAt = &now
	job.Customers[1].SendStatus = SendStatusFailed
	job.Customers[1].ErrorMessage = "timeout"
	job.RecomputeEmailStats()

	job.ResetDeliveries()

	for i, c := range job.Customers {
		if c.SendStatus != SendStatusPending {
			t.Errorf("customer %d status = %s, want PENDING", i, c.SendStatus)
		}
		if c.SentAt != nil || c.ErrorMessage != "" {
			t.Errorf("customer %d delivery fields not cleared", i)
		}
	}
	if job.EmailStats.SentEmails != 0 || job.EmailStats.FailedEmails != 0 {
		t.Errorf("stats not reset: %+v", job.EmailStats)
	}
	if job.EmailStats.TotalEmails != 2 {
		t.Errorf("TotalEmails = %d, want 2", job.EmailStats.TotalEmails)
	}
}

func TestFindCustomer(t *testing.T) {
	job := newBatchJob(2)
	want := job.Customers[1].CustomerID

	got := job.FindCustomer(want)
	if got == nil || got.CustomerID != want {
		t.Fatalf("FindCustomer(%s) = %v", want, got)
	}

	if job.FindCustomer(uuid.New()) != nil {
		t.Error("FindCustomer with unknown id should return nil")
	}
}
