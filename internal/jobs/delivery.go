package jobs

import (
	"context"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

// MarkCustomerSent records a delivery outcome for one customer. outcome
// must be SENT or SKIPPED. Marking a customer whose delivery already
// reached a terminal status in the current cycle fails with
// ErrInvalidState and changes nothing, which prevents double-counting.
// The acting user is recorded on the job and in its history.
func (s *Service) MarkCustomerSent(ctx context.Context, jobID, customerID uuid.UUID, outcome domain.SendStatus, actor domain.Actor) (domain.ScheduledJob, error) {
	if outcome != domain.SendStatusSent && outcome != domain.SendStatusSkipped {
		return domain.ScheduledJob{}, validationf("outcome must be SENT or SKIPPED, got %q", outcome)
	}
	now := s.clock()
	return s.store.MarkDelivery(ctx, jobID, customerID, domain.DeliveryUpdate{
		Status: outcome,
		SentAt: &now,
		Actor:  &actor,
	})
}

// MarkCustomerFailed records a failed delivery with its error message.
// The same terminal-status guard applies.
func (s *Service) MarkCustomerFailed(ctx context.Context, jobID, customerID uuid.UUID, errorMessage string, actor domain.Actor) (domain.ScheduledJob, error) {
	return s.store.MarkDelivery(ctx, jobID, customerID, domain.DeliveryUpdate{
		Status:       domain.SendStatusFailed,
		ErrorMessage: errorMessage,
		Actor:        &actor,
	})
}
