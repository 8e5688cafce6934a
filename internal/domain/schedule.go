package domain

import "time"

type ScheduleType string

const (
	ScheduleTypeImmediate ScheduleType = "IMMEDIATE"
	ScheduleTypeOnce      ScheduleType = "ONCE"
	ScheduleTypeDaily     ScheduleType = "DAILY"
	ScheduleTypeWeekly    ScheduleType = "WEEKLY"
	ScheduleTypeMonthly   ScheduleType = "MONTHLY"
	ScheduleTypeCron      ScheduleType = "CRON"
)

// Schedule is a value object describing recurrence. Exactly the fields
// relevant to Type are populated; the rest are ignored.
type Schedule struct {
	Type ScheduleType `json:"type"`

	// ONCE
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	// DAILY / WEEKLY / MONTHLY: "HH:MM", timezone-relative.
	TimeOfDay string `json:"time_of_day,omitempty"`

	// WEEKLY: 0 (Sunday) through 6 (Saturday).
	DayOfWeek int `json:"day_of_week,omitempty"`

	// MONTHLY: 1-31, clamped to the last day of shorter months.
	DayOfMonth int `json:"day_of_month,omitempty"`

	// CRON: standard 5-field expression.
	CronExpression string `json:"cron_expression,omitempty"`

	// IANA zone name, defaults to UTC.
	Timezone string `json:"timezone,omitempty"`
}

// Recurring reports whether the schedule re-arms after each cycle.
// ONCE and IMMEDIATE jobs fire a single time and then require a manual
// re-trigger.
func (s Schedule) Recurring() bool {
	switch s.Type {
	case ScheduleTypeDaily, ScheduleTypeWeekly, ScheduleTypeMonthly, ScheduleTypeCron:
		return true
	}
	return false
}

// Location resolves the schedule's timezone, defaulting to UTC.
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}
