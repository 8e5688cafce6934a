package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_UnknownEndpoint_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	if err := cb.Allow("mail.example.com"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	host := "mail.example.com"
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb := New(3, 5*time.Second)
	host := "mail.example.com"
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestAllow_OpenAfterCooldown_HalfOpenProbe(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	host := "mail.example.com"
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	time.Sleep(15 * time.Millisecond)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil (probe allowed), got %v", err)
	}
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected ErrCircuitOpen while half-open probe in flight")
	}
}

func TestRecordSuccess_ClosesCircuit(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	host := "mail.example.com"
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	time.Sleep(15 * time.Millisecond)
	cb.Allow(host)
	cb.RecordSuccess(host)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected nil after success, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReopens(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	host := "mail.example.com"
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	cb.RecordFailure(host)
	time.Sleep(15 * time.Millisecond)
	cb.Allow(host)
	cb.RecordFailure(host)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected ErrCircuitOpen after failed probe")
	}
}

func TestIndependentEndpoints(t *testing.T) {
	cb := New(1, time.Minute)
	cb.RecordFailure("mail-a.example.com")
	if err := cb.Allow("mail-a.example.com"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected mail-a open")
	}
	if err := cb.Allow("mail-b.example.com"); err != nil {
		t.Fatalf("expected mail-b unaffected, got %v", err)
	}
}
