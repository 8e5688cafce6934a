package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
)

// mockStore returns configurable stuck jobs and records updates.
type mockStore struct {
	mu        sync.Mutex
	stuck     []domain.ScheduledJob
	updates   []domain.ScheduledJob
	fetchErr  error
	updateErr error
}

func (s *mockStore) StuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var result []domain.ScheduledJob
	for _, job := range s.stuck {
		if job.UpdatedAt.Before(olderThan) {
			result = append(result, job)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *mockStore) UpdateJob(ctx context.Context, job domain.ScheduledJob, expect domain.JobStatus) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, job)
	return nil
}

func (s *mockStore) getUpdates() []domain.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ScheduledJob(nil), s.updates...)
}

func stuckJob(status domain.JobStatus, idleSince time.Time) domain.ScheduledJob {
	return domain.ScheduledJob{
		ID:       uuid.New(),
		Type:     domain.JobTypeEmailBatch,
		Status:   status,
		IsActive: true,
		Schedule: domain.Schedule{
			Type:      domain.ScheduleTypeDaily,
			TimeOfDay: "08:00",
			Timezone:  "UTC",
		},
		UpdatedAt: idleSince,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRunCycle_RecoversStuckJob(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job := stuckJob(domain.JobStatusSending, now.Add(-2*time.Hour))

	store := &mockStore{stuck: []domain.ScheduledJob{job}}
	r := New(DefaultConfig(), store)
	r.clock = fixedClock(now)

	r.runCycle(context.Background())

	updates := store.getUpdates()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	got := updates[0]
	if got.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.Execution.FailureCount != 1 || got.Execution.RunCount != 1 {
		t.Errorf("counters = run %d fail %d, want 1/1", got.Execution.RunCount, got.Execution.FailureCount)
	}
	if got.Execution.LastError == nil {
		t.Fatal("expected last error recorded")
	}
	if got.Execution.NextRunAt == nil {
		t.Error("daily schedule should re-arm")
	} else if !got.Execution.NextRunAt.After(now) {
		t.Errorf("next run %s not after now", got.Execution.NextRunAt)
	}
	if len(got.History) != 1 || got.History[0].Action != domain.HistoryActionFailed {
		t.Errorf("history = %+v, want one FAILED entry", got.History)
	}
	if got.History[0].ExecutedBy.Name != SystemActor.Name {
		t.Errorf("actor = %s, want %s", got.History[0].ExecutedBy.Name, SystemActor.Name)
	}
}

func TestRunCycle_OneOffJobNotRearmed(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job := stuckJob(domain.JobStatusProcessing, now.Add(-time.Hour))
	job.Schedule = domain.Schedule{Type: domain.ScheduleTypeImmediate}

	store := &mockStore{stuck: []domain.ScheduledJob{job}}
	r := New(DefaultConfig(), store)
	r.clock = fixedClock(now)

	r.runCycle(context.Background())

	updates := store.getUpdates()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].Execution.NextRunAt != nil {
		t.Error("immediate job should not re-arm")
	}
	if updates[0].IsActive {
		t.Error("immediate job should be deactivated")
	}
}

func TestRunCycle_FreshInFlightJobLeftAlone(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	job := stuckJob(domain.JobStatusProcessing, now.Add(-time.Minute))

	store := &mockStore{stuck: []domain.ScheduledJob{job}}
	r := New(DefaultConfig(), store)
	r.clock = fixedClock(now)

	r.runCycle(context.Background())

	if n := len(store.getUpdates()); n != 0 {
		t.Fatalf("expected no updates for fresh job, got %d", n)
	}
}

func TestRunCycle_FetchErrorAbortsCycle(t *testing.T) {
	store := &mockStore{fetchErr: errors.New("db down")}
	r := New(DefaultConfig(), store)

	r.runCycle(context.Background())

	if n := len(store.getUpdates()); n != 0 {
		t.Fatalf("expected no updates after fetch error, got %d", n)
	}
}

func TestRunCycle_LostCASIsNotFatal(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &mockStore{
		stuck: []domain.ScheduledJob{
			stuckJob(domain.JobStatusSending, now.Add(-time.Hour)),
			stuckJob(domain.JobStatusSending, now.Add(-time.Hour)),
		},
		updateErr: jobs.ErrInvalidState,
	}
	r := New(DefaultConfig(), store)
	r.clock = fixedClock(now)

	// Must not panic or stop early; both failures are logged.
	r.runCycle(context.Background())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &mockStore{}
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	r := New(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
