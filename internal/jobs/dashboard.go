package jobs

import (
	"context"
	"fmt"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

// Dashboard holds the read-only operator overview.
type Dashboard struct {
	CountsByStatus map[domain.JobStatus]int
	CountsByType   map[domain.JobType]int

	// Upcoming jobs sorted by next run time, soonest first.
	Upcoming []domain.ScheduledJob

	RecentlyCompleted []domain.ScheduledJob
	RecentlyFailed    []domain.ScheduledJob
}

const dashboardLimit = 10

// Dashboard aggregates job counts and the upcoming/recent job lists.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	byStatus, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("count by status: %w", err)
	}
	byType, err := s.store.CountJobsByType(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("count by type: %w", err)
	}
	upcoming, err := s.store.UpcomingJobs(ctx, s.clock(), dashboardLimit)
	if err != nil {
		return Dashboard{}, fmt.Errorf("upcoming jobs: %w", err)
	}
	completed, err := s.store.RecentJobs(ctx, domain.JobStatusCompleted, dashboardLimit)
	if err != nil {
		return Dashboard{}, fmt.Errorf("recent completed: %w", err)
	}
	failed, err := s.store.RecentJobs(ctx, domain.JobStatusFailed, dashboardLimit)
	if err != nil {
		return Dashboard{}, fmt.Errorf("recent failed: %w", err)
	}

	return Dashboard{
		CountsByStatus:    byStatus,
		CountsByType:      byType,
		Upcoming:          upcoming,
		RecentlyCompleted: completed,
		RecentlyFailed:    failed,
	}, nil
}
