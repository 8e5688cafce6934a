package domain

import "time"

type HistoryAction string

const (
	HistoryActionCreated   HistoryAction = "CREATED"
	HistoryActionStarted   HistoryAction = "STARTED"
	HistoryActionCancelled HistoryAction = "CANCELLED"
	HistoryActionCompleted HistoryAction = "COMPLETED"
	HistoryActionFailed    HistoryAction = "FAILED"
	HistoryActionModified  HistoryAction = "MODIFIED"
)

// HistoryEntry is one record in a job's append-only audit trail.
type HistoryEntry struct {
	ExecutedBy Actor         `json:"executed_by"`
	ExecutedAt time.Time     `json:"executed_at"`
	Action     HistoryAction `json:"action"`
	Details    string        `json:"details,omitempty"`
	Result     string        `json:"result,omitempty"`
}

// AppendHistory records an audit entry on the job.
func (j *ScheduledJob) AppendHistory(actor Actor, at time.Time, action HistoryAction, details, result string) {
	j.History = append(j.History, HistoryEntry{
		ExecutedBy: actor,
		ExecutedAt: at,
		Action:     action,
		Details:    details,
		Result:     result,
	})
}
