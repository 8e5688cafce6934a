// Package schedule computes run times for every schedule type.
//
// NextRun is pure: the same (schedule, reference time) pair always
// yields the same instant, which keeps it independently testable
// against fixed reference times.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the earliest instant strictly after ref at which the
// schedule fires, in UTC. ok is false when the schedule has no further
// run (a ONCE schedule whose time has passed). IMMEDIATE schedules fire
// at ref itself; the caller is responsible for deactivating them after
// the single run.
func NextRun(s domain.Schedule, ref time.Time) (next time.Time, ok bool, err error) {
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	local := ref.In(loc)

	switch s.Type {
	case domain.ScheduleTypeImmediate:
		return ref.UTC(), true, nil

	case domain.ScheduleTypeOnce:
		if s.ScheduledFor == nil {
			return time.Time{}, false, fmt.Errorf("once schedule missing scheduled_for")
		}
		if s.ScheduledFor.After(ref) {
			return s.ScheduledFor.UTC(), true, nil
		}
		return time.Time{}, false, nil

	case domain.ScheduleTypeDaily:
		hour, minute, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false, err
		}
		candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate.UTC(), true, nil

	case domain.ScheduleTypeWeekly:
		hour, minute, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false, err
		}
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			return time.Time{}, false, fmt.Errorf("day_of_week %d out of range [0,6]", s.DayOfWeek)
		}
		days := (s.DayOfWeek - int(local.Weekday()) + 7) % 7
		candidate := time.Date(local.Year(), local.Month(), local.Day()+days, hour, minute, 0, 0, loc)
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate.UTC(), true, nil

	case domain.ScheduleTypeMonthly:
		hour, minute, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false, err
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return time.Time{}, false, fmt.Errorf("day_of_month %d out of range [1,31]", s.DayOfMonth)
		}
		candidate := monthlyOccurrence(local.Year(), local.Month(), s.DayOfMonth, hour, minute, loc)
		if !candidate.After(local) {
			year, month := local.Year(), local.Month()+1
			candidate = monthlyOccurrence(year, month, s.DayOfMonth, hour, minute, loc)
		}
		return candidate.UTC(), true, nil

	case domain.ScheduleTypeCron:
		sched, err := cronParser.Parse(s.CronExpression)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron: %w", err)
		}
		return sched.Next(local).UTC(), true, nil
	}

	return time.Time{}, false, fmt.Errorf("unknown schedule type %q", s.Type)
}

// monthlyOccurrence builds the run time for a month, clamping the day
// to the month's length (day 31 in April runs on the 30th, not in May).
func monthlyOccurrence(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	// Normalize month overflow before clamping.
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// parseTimeOfDay parses "HH:MM" (24-hour).
func parseTimeOfDay(v string) (hour, minute int, err error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time_of_day %q: want HH:MM", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time_of_day %q: bad hour", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time_of_day %q: bad minute", v)
	}
	return hour, minute, nil
}

// Validate checks that a schedule is internally consistent for its type.
// now anchors the ONCE future check.
func Validate(s domain.Schedule, now time.Time) error {
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}

	switch s.Type {
	case domain.ScheduleTypeImmediate:
		return nil

	case domain.ScheduleTypeOnce:
		if s.ScheduledFor == nil {
			return fmt.Errorf("scheduled_for is required for once schedules")
		}
		if !s.ScheduledFor.After(now) {
			return fmt.Errorf("scheduled_for must be in the future")
		}
		return nil

	case domain.ScheduleTypeDaily:
		_, _, err := parseTimeOfDay(s.TimeOfDay)
		return err

	case domain.ScheduleTypeWeekly:
		if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			return fmt.Errorf("day_of_week %d out of range [0,6]", s.DayOfWeek)
		}
		return nil

	case domain.ScheduleTypeMonthly:
		if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("day_of_month %d out of range [1,31]", s.DayOfMonth)
		}
		return nil

	case domain.ScheduleTypeCron:
		if s.CronExpression == "" {
			return fmt.Errorf("cron_expression is required for cron schedules")
		}
		if _, err := cronParser.Parse(s.CronExpression); err != nil {
			return fmt.Errorf("invalid cron_expression: %w", err)
		}
		return nil
	}

	return fmt.Errorf("unknown schedule type %q", s.Type)
}
