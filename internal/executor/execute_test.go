package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
	"github.com/karlennis/fi-email-automation-sub000/internal/testutil"
)

// mockStore is an in-memory Store honoring the claim and CAS
// contracts, so concurrency tests exercise the real guard semantics.
type mockStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.ScheduledJob

	// cancelAfterDeliveries flips the job to CANCELLED once this many
	// deliveries have been marked (0 = disabled).
	cancelAfterDeliveries int
	deliveriesMarked      int
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]domain.ScheduledJob)}
}

func (m *mockStore) put(job domain.ScheduledJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

func (m *mockStore) get(id uuid.UUID) domain.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *mockStore) ClaimJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ScheduledJob{}, jobs.ErrNotFound
	}
	switch job.Status {
	case domain.JobStatusScheduled, domain.JobStatusCached, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		return domain.ScheduledJob{}, jobs.ErrInvalidState
	}
	job.Status = domain.JobStatusProcessing
	m.jobs[id] = job
	return job, nil
}

func (m *mockStore) GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ScheduledJob{}, jobs.ErrNotFound
	}
	return job, nil
}

func (m *mockStore) UpdateJob(ctx context.Context, job domain.ScheduledJob, expect domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[job.ID]
	if !ok {
		return jobs.ErrNotFound
	}
	if current.Status != expect {
		return jobs.ErrInvalidState
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockStore) MarkDelivery(ctx context.Context, jobID, customerID uuid.UUID, update domain.DeliveryUpdate) (domain.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ScheduledJob{}, jobs.ErrNotFound
	}
	delivery := job.FindCustomer(customerID)
	if delivery == nil {
		return domain.ScheduledJob{}, jobs.ErrCustomerNotFound
	}
	if delivery.SendStatus.Terminal() {
		return domain.ScheduledJob{}, jobs.ErrInvalidState
	}
	delivery.SendStatus = update.Status
	delivery.SentAt = update.SentAt
	delivery.ErrorMessage = update.ErrorMessage
	job.RecomputeEmailStats()

	m.deliveriesMarked++
	if m.cancelAfterDeliveries > 0 && m.deliveriesMarked >= m.cancelAfterDeliveries {
		job.Status = domain.JobStatusCancelled
		job.IsActive = false
	}

	m.jobs[jobID] = job
	return job, nil
}

// mockGenerator counts calls and optionally fails.
type mockGenerator struct {
	mu     sync.Mutex
	calls  int
	err    error
	result GenerateResult
}

func (m *mockGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return GenerateResult{}, m.err
	}
	if len(m.result.ReportIDs) == 0 {
		return GenerateResult{ReportIDs: []string{"rep-1"}, ArtifactPaths: []string{"/tmp/rep-1.pdf"}}, nil
	}
	return m.result, nil
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSender records messages; failFor/bounceFor select per-address
// outcomes.
type mockSender struct {
	mu        sync.Mutex
	sent      []Message
	failFor   map[string]error
	bounceFor map[string]bool
}

func (m *mockSender) Send(ctx context.Context, msg Message) SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	if err, ok := m.failFor[msg.To]; ok {
		return SendResult{Error: err}
	}
	if m.bounceFor[msg.To] {
		return SendResult{Bounced: true}
	}
	return SendResult{}
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var (
	execNow   = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	execActor = testutil.Actor("ops")

	custA = testutil.MustParseUUID("bbbbbbbb-0000-0000-0000-000000000001")
	custB = testutil.MustParseUUID("bbbbbbbb-0000-0000-0000-000000000002")
)

func newTestExecutor(store *mockStore, gen *mockGenerator, sender *mockSender) *Executor {
	e := New(Config{
		CacheTTL:          24 * time.Hour,
		GenerationTimeout: time.Minute,
		SendTimeout:       time.Second,
		SendWorkers:       2,
	}, store, gen, sender)
	e.clock = func() time.Time { return execNow }
	return e
}

func scheduledJob() domain.ScheduledJob {
	next := execNow.Add(-time.Minute)
	job := domain.ScheduledJob{
		ID:       uuid.New(),
		Type:     domain.JobTypeEmailBatch,
		Status:   domain.JobStatusScheduled,
		IsActive: true,
		Schedule: domain.Schedule{
			Type:      domain.ScheduleTypeDaily,
			TimeOfDay: "08:00",
			Timezone:  "UTC",
		},
		Customers: []domain.CustomerDelivery{
			{CustomerID: custA, Email: "a@example.com", Name: "A", SendStatus: domain.SendStatusPending},
			{CustomerID: custB, Email: "b@example.com", Name: "B", SendStatus: domain.SendStatusPending},
		},
		Config: domain.JobConfig{
			ReportTypes:   []string{"weekly_summary"},
			EmailTemplate: "digest body",
		},
		CreatedAt: execNow.Add(-time.Hour),
		UpdatedAt: execNow.Add(-time.Hour),
	}
	job.Execution.NextRunAt = &next
	job.RecomputeEmailStats()
	return job
}

func TestExecuteNow_FullCycle(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.callCount())
	}
	if sender.sentCount() != 2 {
		t.Errorf("sent messages = %d, want 2", sender.sentCount())
	}

	if got.Cache == nil {
		t.Fatal("Cache should be populated")
	}
	if !got.Cache.ExpiresAt.Equal(execNow.Add(24 * time.Hour)) {
		t.Errorf("Cache.ExpiresAt = %v, want generation time + TTL", got.Cache.ExpiresAt)
	}

	if got.EmailStats.SentEmails != 2 || got.EmailStats.FailedEmails != 0 {
		t.Errorf("EmailStats = %+v, want 2 sent", got.EmailStats)
	}
	if got.Execution.RunCount != 1 || got.Execution.SuccessCount != 1 {
		t.Errorf("run counters = %+v", got.Execution)
	}

	// Daily schedule re-arms for the next day.
	if got.Execution.NextRunAt == nil || !got.Execution.NextRunAt.After(execNow) {
		t.Errorf("NextRunAt = %v, want re-armed after %v", got.Execution.NextRunAt, execNow)
	}

	last := got.History[len(got.History)-1]
	if last.Action != domain.HistoryActionCompleted {
		t.Errorf("last history action = %s, want COMPLETED", last.Action)
	}
}

// A recurring job resting at COMPLETED is terminal for the cycle only:
// when its re-armed next run comes due it must claim and run again.
func TestExecuteNow_CompletedRecurringRunsNextCycle(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	store.put(job)

	first, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if first.Status != domain.JobStatusCompleted {
		t.Fatalf("first cycle Status = %s, want COMPLETED", first.Status)
	}
	if first.Execution.NextRunAt == nil {
		t.Fatal("first cycle should re-arm NextRunAt")
	}

	// The next daily run comes due.
	secondRun := first.Execution.NextRunAt.Add(30 * time.Second)
	exec.clock = func() time.Time { return secondRun }

	second, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("second cycle: claim from COMPLETED failed: %v", err)
	}

	if second.Status != domain.JobStatusCompleted {
		t.Errorf("second cycle Status = %s, want COMPLETED", second.Status)
	}
	if second.Execution.RunCount != 2 || second.Execution.SuccessCount != 2 {
		t.Errorf("run counters after two cycles = %+v", second.Execution)
	}
	if sender.sentCount() != 4 {
		t.Errorf("sent messages = %d, want 2 per cycle", sender.sentCount())
	}
	if second.EmailStats.SentEmails != 2 {
		t.Errorf("second cycle SentEmails = %d, want deliveries reset and re-sent", second.EmailStats.SentEmails)
	}
	if second.Execution.NextRunAt == nil || !second.Execution.NextRunAt.After(secondRun) {
		t.Errorf("NextRunAt = %v, want re-armed after %v", second.Execution.NextRunAt, secondRun)
	}
	if !second.IsActive {
		t.Error("recurring job should stay active between cycles")
	}
}

func TestExecuteNow_ReusesFreshCache(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	job.Status = domain.JobStatusCached
	job.Cache = &domain.JobCache{
		ReportIDs:     []string{"rep-0"},
		ArtifactPaths: []string{"/tmp/rep-0.pdf"},
		GeneratedAt:   execNow.Add(-time.Hour),
		ExpiresAt:     execNow.Add(23 * time.Hour),
	}
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gen.callCount() != 0 {
		t.Errorf("generator calls = %d, want 0 with fresh cache", gen.callCount())
	}
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
	if got.Cache == nil || got.Cache.ReportIDs[0] != "rep-0" {
		t.Errorf("cache should be kept, got %+v", got.Cache)
	}
}

func TestExecuteNow_ForceRegenerates(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	job.Status = domain.JobStatusCached
	job.Cache = &domain.JobCache{
		ReportIDs:   []string{"rep-0"},
		GeneratedAt: execNow.Add(-time.Hour),
		ExpiresAt:   execNow.Add(23 * time.Hour),
	}
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator calls = %d, want 1 when forced", gen.callCount())
	}
	if got.Cache == nil || got.Cache.ReportIDs[0] != "rep-1" {
		t.Errorf("cache should hold regenerated reports, got %+v", got.Cache)
	}
}

func TestExecuteNow_ExpiredCacheRegenerates(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	job.Cache = &domain.JobCache{
		ReportIDs:   []string{"rep-0"},
		GeneratedAt: execNow.Add(-48 * time.Hour),
		ExpiresAt:   execNow.Add(-24 * time.Hour),
	}
	store.put(job)

	if _, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator calls = %d, want 1 for expired cache", gen.callCount())
	}
}

func TestExecuteNow_GenerationFailure(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{err: errors.New("report service down")}
	sender := &mockSender{}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	store.put(job)

	_, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err == nil {
		t.Fatal("expected error")
	}

	stored := store.get(job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Errorf("Status = %s, want FAILED", stored.Status)
	}
	if stored.Execution.LastError == nil || stored.Execution.LastError.Message != "report service down" {
		t.Errorf("LastError = %+v", stored.Execution.LastError)
	}
	if stored.Execution.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", stored.Execution.FailureCount)
	}
	if sender.sentCount() != 0 {
		t.Error("no customer may be contacted when generation fails")
	}
	// Recurring schedule still re-arms after a failed cycle.
	if stored.Execution.NextRunAt == nil || !stored.Execution.NextRunAt.After(execNow) {
		t.Errorf("NextRunAt = %v, want re-armed", stored.Execution.NextRunAt)
	}
}

func TestExecuteNow_PartialDeliveryFailure(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{failFor: map[string]error{"b@example.com": errors.New("mailbox full")}}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Status != domain.JobStatusFailed {
		t.Errorf("Status = %s, want FAILED when any delivery fails", got.Status)
	}
	if got.EmailStats.SentEmails != 1 || got.EmailStats.FailedEmails != 1 {
		t.Errorf("EmailStats = %+v, want 1 sent / 1 failed", got.EmailStats)
	}
	b := got.FindCustomer(custB)
	if b.SendStatus != domain.SendStatusFailed || b.ErrorMessage != "mailbox full" {
		t.Errorf("customer B = %+v", b)
	}
	// The other delivery still went out.
	if got.FindCustomer(custA).SendStatus != domain.SendStatusSent {
		t.Errorf("customer A = %+v, want SENT", got.FindCustomer(custA))
	}
}

func TestExecuteNow_BounceCountsAsFailure(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{bounceFor: map[string]bool{"a@example.com": true}}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.FindCustomer(custA).SendStatus != domain.SendStatusBounced {
		t.Errorf("customer A = %+v, want BOUNCED", got.FindCustomer(custA))
	}
	if got.EmailStats.FailedEmails != 1 {
		t.Errorf("FailedEmails = %d, bounces count as failures", got.EmailStats.FailedEmails)
	}
	if got.Status != domain.JobStatusFailed {
		t.Errorf("Status = %s, want FAILED", got.Status)
	}
}

func TestExecuteNow_ConcurrentClaims(t *testing.T) {
	store := newMockStore()
	gen := &mockGenerator{}
	sender := &mockSender{}
	exec := newTestExecutor(store, gen, sender)

	job := scheduledJob()
	store.put(job)

	ctx := testutil.TestContext(t)
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := exec.ExecuteNow(ctx, job.ID, execActor, false)
			results <- err
		}()
	}

	var invalidState, succeeded int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, jobs.ErrInvalidState):
			invalidState++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 || invalidState != 1 {
		t.Errorf("succeeded=%d invalidState=%d, want exactly one of each", succeeded, invalidState)
	}
}

func TestExecuteNow_UnclaimableStatuses(t *testing.T) {
	for _, status := range []domain.JobStatus{
		domain.JobStatusProcessing,
		domain.JobStatusSending,
		domain.JobStatusPaused,
		domain.JobStatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			store := newMockStore()
			exec := newTestExecutor(store, &mockGenerator{}, &mockSender{})

			job := scheduledJob()
			job.Status = status
			store.put(job)

			_, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
			if !errors.Is(err, jobs.ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestExecuteNow_NotFound(t *testing.T) {
	exec := newTestExecutor(newMockStore(), &mockGenerator{}, &mockSender{})

	_, err := exec.ExecuteNow(testutil.TestContext(t), uuid.New(), execActor, false)
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExecuteNow_CancelledMidSend(t *testing.T) {
	store := newMockStore()
	store.cancelAfterDeliveries = 1
	gen := &mockGenerator{}
	sender := &mockSender{}
	// One worker forces sequential sends so the cancellation lands
	// between dispatches.
	exec := New(Config{CacheTTL: time.Hour, SendWorkers: 1}, store, gen, sender)
	exec.clock = func() time.Time { return execNow }

	job := scheduledJob()
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Status != domain.JobStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED preserved", got.Status)
	}
	if sender.sentCount() != 1 {
		t.Errorf("sent = %d, want 1: no new sends after cancellation", sender.sentCount())
	}
}

func TestExecuteNow_ImmediateJobDeactivates(t *testing.T) {
	store := newMockStore()
	exec := newTestExecutor(store, &mockGenerator{}, &mockSender{})

	job := scheduledJob()
	job.Schedule = domain.Schedule{Type: domain.ScheduleTypeImmediate}
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsActive {
		t.Error("IMMEDIATE jobs deactivate after their single run")
	}
	if got.Execution.NextRunAt != nil {
		t.Errorf("NextRunAt = %v, want nil", got.Execution.NextRunAt)
	}
}

func TestExecuteNow_OnceJobDoesNotRearm(t *testing.T) {
	store := newMockStore()
	exec := newTestExecutor(store, &mockGenerator{}, &mockSender{})

	past := execNow.Add(-time.Minute)
	job := scheduledJob()
	job.Schedule = domain.Schedule{Type: domain.ScheduleTypeOnce, ScheduledFor: &past}
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Execution.NextRunAt != nil {
		t.Errorf("NextRunAt = %v, want nil after a one-off run", got.Execution.NextRunAt)
	}
	if !got.IsActive {
		t.Error("ONCE jobs stay active for manual re-triggering")
	}
}

func TestExecuteNow_ResetsPreviousCycleDeliveries(t *testing.T) {
	store := newMockStore()
	exec := newTestExecutor(store, &mockGenerator{}, &mockSender{})

	sentAt := execNow.Add(-24 * time.Hour)
	job := scheduledJob()
	job.Status = domain.JobStatusCompleted
	job.Customers[0].SendStatus = domain.SendStatusSent
	job.Customers[0].SentAt = &sentAt
	job.Customers[1].SendStatus = domain.SendStatusFailed
	job.Customers[1].ErrorMessage = "old failure"
	job.RecomputeEmailStats()
	store.put(job)

	got, err := exec.ExecuteNow(testutil.TestContext(t), job.ID, execActor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both customers were sent fresh this cycle.
	if got.EmailStats.SentEmails != 2 || got.EmailStats.FailedEmails != 0 {
		t.Errorf("EmailStats = %+v, want a clean new cycle", got.EmailStats)
	}
	if got.FindCustomer(custB).ErrorMessage != "" {
		t.Error("previous cycle error message should be cleared")
	}
}

func TestRun_ProcessesAndStops(t *testing.T) {
	store := newMockStore()
	exec := newTestExecutor(store, &mockGenerator{}, &mockSender{})

	job := scheduledJob()
	store.put(job)

	ch := make(chan domain.ExecuteRequest, 1)
	ch <- domain.ExecuteRequest{JobID: job.ID, RequestedBy: execActor, RequestedAt: execNow}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exec.Run(ctx, ch)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.get(job.ID).Status != domain.JobStatusCompleted {
		select {
		case <-deadline:
			t.Fatalf("job never completed, status %s", store.get(job.ID).Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
