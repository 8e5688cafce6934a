package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecuteRequest is emitted when a job is due to run, either by the
// scheduler tick or by an interactive execute-now call.
type ExecuteRequest struct {
	JobID uuid.UUID

	RequestedBy Actor
	RequestedAt time.Time

	// Force skips cache reuse and regenerates reports even when the
	// cached artifacts are still within their TTL.
	Force bool
}
