package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

type mockMetrics struct {
	mu         sync.Mutex
	sizes      []int
	capacity   int
	saturation []float64
	emitErrors int
}

func (m *mockMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *mockMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *mockMetrics) BufferSaturationUpdate(saturation float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saturation = append(m.saturation, saturation)
}

func (m *mockMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	bus := NewEventBus(4)

	req := domain.ExecuteRequest{JobID: uuid.New(), RequestedAt: time.Now()}
	if err := bus.Emit(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.JobID != req.JobID {
			t.Errorf("JobID = %s, want %s", got.JobID, req.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("request never arrived")
	}
}

func TestEventBus_EmitBlocksWhenFull(t *testing.T) {
	bus := NewEventBus(1)

	if err := bus.Emit(context.Background(), domain.ExecuteRequest{JobID: uuid.New()}); err != nil {
		t.Fatalf("first emit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bus.Emit(ctx, domain.ExecuteRequest{JobID: uuid.New()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded on a full buffer, got %v", err)
	}
}

func TestEventBus_Metrics(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewEventBus(4, WithMetrics(metrics))

	metrics.mu.Lock()
	if metrics.capacity != 4 {
		t.Errorf("capacity = %d, want 4", metrics.capacity)
	}
	metrics.mu.Unlock()

	if err := bus.Emit(context.Background(), domain.ExecuteRequest{JobID: uuid.New()}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.sizes) != 1 || metrics.sizes[0] != 1 {
		t.Errorf("sizes = %v, want [1]", metrics.sizes)
	}
	if len(metrics.saturation) != 1 || metrics.saturation[0] != 0.25 {
		t.Errorf("saturation = %v, want [0.25]", metrics.saturation)
	}
}

func TestEventBus_EmitErrorRecorded(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewEventBus(1, WithMetrics(metrics))

	if err := bus.Emit(context.Background(), domain.ExecuteRequest{JobID: uuid.New()}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Emit(ctx, domain.ExecuteRequest{JobID: uuid.New()}); err == nil {
		t.Fatal("expected error on cancelled context")
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.emitErrors != 1 {
		t.Errorf("emitErrors = %d, want 1", metrics.emitErrors)
	}
}
