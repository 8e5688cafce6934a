package domain

import (
	"time"

	"github.com/google/uuid"
)

type SendStatus string

const (
	SendStatusPending SendStatus = "PENDING"
	SendStatusSent    SendStatus = "SENT"
	SendStatusFailed  SendStatus = "FAILED"
	SendStatusBounced SendStatus = "BOUNCED"
	SendStatusSkipped SendStatus = "SKIPPED"
)

// Terminal reports whether the status is write-once for the current
// execution cycle. A re-run may reset a delivery to PENDING for retry,
// but a terminal status is never silently overwritten mid-cycle.
func (s SendStatus) Terminal() bool {
	switch s {
	case SendStatusSent, SendStatusFailed, SendStatusBounced, SendStatusSkipped:
		return true
	}
	return false
}

// DeliveryUpdate is an atomic outcome write for one customer delivery.
// Stores apply it under a row lock and reject it when the delivery is
// already terminal for the current cycle.
type DeliveryUpdate struct {
	Status       SendStatus
	SentAt       *time.Time
	ErrorMessage string

	// Actor, when set, is recorded as the job's modifier with an audit
	// entry. Executor-internal marks during a send phase leave it nil;
	// manual per-customer marks carry the caller.
	Actor *Actor
}

// CustomerDelivery is one targeted customer's delivery record. Email and
// Name are denormalized snapshots taken at job creation; they are not
// live-updated when the customer record changes.
type CustomerDelivery struct {
	CustomerID   uuid.UUID  `json:"customer_id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	SendStatus   SendStatus `json:"send_status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}
