package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

// apiActor is recorded when a request carries no actor information.
var apiActor = domain.Actor{Name: "api", Email: "anonymous"}

func validateCreateJob(req CreateJobRequest) error {
	if req.Type == "" {
		return fmt.Errorf("type is required")
	}
	if req.Schedule.Type == "" {
		return fmt.Errorf("schedule.type is required")
	}
	if len(req.CustomerIDs) == 0 {
		return fmt.Errorf("customer_ids is required")
	}
	if len(req.ReportTypes) == 0 {
		return fmt.Errorf("report_types is required")
	}
	return nil
}

func parseCustomerIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid customer id %q", s)
		}
		ids[i] = id
	}
	return ids, nil
}

// parseSchedule converts the wire schedule into the domain value.
// Semantic validation (day ranges, cron syntax, future times) happens
// in the jobs service.
func parseSchedule(req ScheduleRequest) (domain.Schedule, error) {
	s := domain.Schedule{
		Type:           domain.ScheduleType(req.Type),
		TimeOfDay:      req.TimeOfDay,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if req.DayOfWeek != nil {
		s.DayOfWeek = *req.DayOfWeek
	}
	if req.DayOfMonth != nil {
		s.DayOfMonth = *req.DayOfMonth
	}
	if req.ScheduledFor != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("invalid scheduled_for: %v", err)
		}
		utc := t.UTC()
		s.ScheduledFor = &utc
	}
	return s, nil
}

// parseActor resolves the request actor, falling back to the anonymous
// API actor.
func parseActor(req *ActorRequest) domain.Actor {
	if req == nil {
		return apiActor
	}
	actor := domain.Actor{Name: req.Name, Email: req.Email}
	if req.ID != "" {
		if id, err := uuid.Parse(req.ID); err == nil {
			actor.ID = id
		}
	}
	if actor.Name == "" {
		actor.Name = apiActor.Name
	}
	return actor
}
