package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/testutil"
)

func createDailyJob(t *testing.T, svc *Service) domain.ScheduledJob {
	t.Helper()
	job, err := svc.Create(testutil.TestContext(t), dailyParams(), testActor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return job
}

func setStatus(store *mockStore, id uuid.UUID, status domain.JobStatus) {
	store.mu.Lock()
	defer store.mu.Unlock()
	job := store.jobs[id]
	job.Status = status
	store.jobs[id] = job
}

func TestPause_FromScheduled(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	job := createDailyJob(t, svc)

	paused, err := svc.Pause(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paused.Status != domain.JobStatusPaused {
		t.Errorf("Status = %s, want PAUSED", paused.Status)
	}
	if store.lastExpect != domain.JobStatusScheduled {
		t.Errorf("CAS expect = %s, want SCHEDULED", store.lastExpect)
	}
	last := paused.History[len(paused.History)-1]
	if last.Action != domain.HistoryActionModified || last.Details != "paused" {
		t.Errorf("last history entry = %+v", last)
	}
}

func TestPause_FromCached(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	job := createDailyJob(t, svc)
	setStatus(store, job.ID, domain.JobStatusCached)

	paused, err := svc.Pause(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paused.Status != domain.JobStatusPaused {
		t.Errorf("Status = %s, want PAUSED", paused.Status)
	}
}

func TestPause_InFlightRejected(t *testing.T) {
	for _, status := range []domain.JobStatus{
		domain.JobStatusProcessing,
		domain.JobStatusSending,
		domain.JobStatusPaused,
		domain.JobStatusCompleted,
		domain.JobStatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			store := newMockStore()
			svc := newTestService(store)
			job := createDailyJob(t, svc)
			setStatus(store, job.ID, status)

			_, err := svc.Pause(testutil.TestContext(t), job.ID, testActor)
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestResume_RearmsSchedule(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	job := createDailyJob(t, svc)

	if _, err := svc.Pause(testutil.TestContext(t), job.ID, testActor); err != nil {
		t.Fatalf("pause: %v", err)
	}

	resumed, err := svc.Resume(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.Status != domain.JobStatusScheduled {
		t.Errorf("Status = %s, want SCHEDULED", resumed.Status)
	}
	if resumed.Execution.NextRunAt == nil || !resumed.Execution.NextRunAt.After(testNow) {
		t.Errorf("NextRunAt = %v, want after %v", resumed.Execution.NextRunAt, testNow)
	}
}

// A paused ONCE job whose time passes before the resume still owes its
// run: it keeps the original time so the next tick fires it.
func TestResume_OverdueOnceKeepsRun(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	scheduledFor := testNow.Add(2 * time.Hour)
	params := dailyParams()
	params.Schedule = domain.Schedule{
		Type:         domain.ScheduleTypeOnce,
		ScheduledFor: &scheduledFor,
		Timezone:     "UTC",
	}
	job, err := svc.Create(testutil.TestContext(t), params, testActor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Pause(testutil.TestContext(t), job.ID, testActor); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// The one-shot time passes while the job sits paused.
	svc.clock = func() time.Time { return scheduledFor.Add(time.Hour) }

	resumed, err := svc.Resume(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.Status != domain.JobStatusScheduled {
		t.Errorf("Status = %s, want SCHEDULED", resumed.Status)
	}
	if resumed.Execution.NextRunAt == nil || !resumed.Execution.NextRunAt.Equal(scheduledFor) {
		t.Errorf("NextRunAt = %v, want the original time %v", resumed.Execution.NextRunAt, scheduledFor)
	}
}

// Once the one-shot has actually run, resuming does not rewind it.
func TestResume_SpentOnceStaysUnarmed(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	scheduledFor := testNow.Add(2 * time.Hour)
	params := dailyParams()
	params.Schedule = domain.Schedule{
		Type:         domain.ScheduleTypeOnce,
		ScheduledFor: &scheduledFor,
		Timezone:     "UTC",
	}
	job, err := svc.Create(testutil.TestContext(t), params, testActor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.mu.Lock()
	stored := store.jobs[job.ID]
	stored.Execution.RunCount = 1
	store.jobs[job.ID] = stored
	store.mu.Unlock()

	if _, err := svc.Pause(testutil.TestContext(t), job.ID, testActor); err != nil {
		t.Fatalf("pause: %v", err)
	}
	svc.clock = func() time.Time { return scheduledFor.Add(time.Hour) }

	resumed, err := svc.Resume(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.Execution.NextRunAt != nil {
		t.Errorf("NextRunAt = %v, want nil for a spent one-shot", resumed.Execution.NextRunAt)
	}
}

func TestResume_NotPausedRejected(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	job := createDailyJob(t, svc)

	_, err := svc.Resume(testutil.TestContext(t), job.ID, testActor)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancel_DeactivatesJob(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	job := createDailyJob(t, svc)

	cancelled, err := svc.Cancel(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != domain.JobStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", cancelled.Status)
	}
	if cancelled.IsActive {
		t.Error("IsActive should be false")
	}
	if cancelled.Execution.NextRunAt != nil {
		t.Error("NextRunAt should be cleared")
	}
	last := cancelled.History[len(cancelled.History)-1]
	if last.Action != domain.HistoryActionCancelled {
		t.Errorf("last history entry = %+v, want CANCELLED", last)
	}
}

func TestCancel_TerminalIsIdempotent(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	job := createDailyJob(t, svc)

	first, err := svc.Cancel(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	second, err := svc.Cancel(testutil.TestContext(t), job.ID, testActor)
	if err != nil {
		t.Fatalf("second cancel should succeed: %v", err)
	}
	if len(second.History) != len(first.History) {
		t.Error("repeat cancel must not append history")
	}
}

func TestCancel_NotFound(t *testing.T) {
	svc := newTestService(newMockStore())

	_, err := svc.Cancel(testutil.TestContext(t), uuid.New(), testActor)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_RemovesJob(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	job := createDailyJob(t, svc)

	if err := svc.Delete(testutil.TestContext(t), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(testutil.TestContext(t), job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
