// Package analytics records execution outcomes as time-bucketed Redis
// counters, feeding the completions-over-time dashboard views. Writes
// are best effort and never affect execution correctness.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/karlennis/fi-email-automation-sub000/internal/domain"
)

type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

// NewRedisSink creates a sink bucketing counters by window and
// expiring them after retention.
func NewRedisSink(client *redis.Client, window, retention time.Duration) *RedisSink {
	if window <= 0 {
		window = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisSink{client: client, window: window, retention: retention}
}

// Record increments the outcome counter for the job's bucket.
func (s *RedisSink) Record(ctx context.Context, jobID uuid.UUID, jobType domain.JobType, outcome string, at time.Time) {
	key := buildKey(jobID.String(), string(jobType), outcome, at, s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		// Dropped data point, nothing to recover.
		return
	}
}

// Count returns the counter for one job, outcome and bucket.
func (s *RedisSink) Count(ctx context.Context, jobID uuid.UUID, jobType domain.JobType, outcome string, at time.Time) (int64, error) {
	key := buildKey(jobID.String(), string(jobType), outcome, at, s.window)
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func buildKey(jobID, jobType, outcome string, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("j:%s:t:%s:%s:%s", jobID, jobType, outcome, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("2006010215")
	}
}
