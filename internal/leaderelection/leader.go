// Package leaderelection gates the singleton components, the scheduler
// and the reconciler, behind a Postgres advisory lock so that only one
// instance dispatches jobs even when several replicas run.
//
// The lock is session-scoped and held for the lifetime of a dedicated
// database connection; there is no renewal or TTL. If the connection
// dies, Postgres releases the lock server-side. The heartbeat ping only
// detects local connection death so the leader can stand down promptly;
// it does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// MetricsSink records leader election metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost"
}

// Config controls lock identity and timing.
type Config struct {
	// LockKey is the advisory lock id shared by all replicas.
	LockKey int64

	// RetryInterval is how often a follower attempts acquisition.
	RetryInterval time.Duration

	// HeartbeatInterval is how often the leader pings its dedicated
	// connection.
	HeartbeatInterval time.Duration
}

// Elector runs the campaign loop for one replica.
type Elector struct {
	db        *sql.DB
	config    Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional, nil = disabled
}

// New creates an Elector.
//
// onElected is called in a new goroutine when this replica acquires the
// lock; its context is cancelled when leadership is lost. It should
// start the leader duties and return quickly.
//
// onDemoted is called synchronously when leadership is lost and must
// block until the duties are fully stopped. It must be idempotent.
func New(db *sql.DB, config Config, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		db:        db,
		config:    config,
		onElected: onElected,
		onDemoted: onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run blocks until ctx is cancelled, alternating between campaigning
// for the lock and holding it.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (lock_key=%d, retry=%s, heartbeat=%s)",
		e.config.LockKey, e.config.RetryInterval, e.config.HeartbeatInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		reason := e.campaign(ctx)

		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason != "" {
			log.Printf("leader: lost leadership (reason=%s), retrying in %s", reason, e.config.RetryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// campaign attempts to acquire the advisory lock and, on success, holds
// it until leadership is lost. Returns the loss reason, or "" when the
// lock was never acquired.
func (e *Elector) campaign(ctx context.Context) string {
	// Advisory locks are session-scoped: a dedicated connection is
	// mandatory, the pool must not recycle it.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: dedicated connection: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.config.LockKey).Scan(&acquired)
	if err != nil {
		log.Printf("leader: advisory lock query failed: %v", err)
		return ""
	}
	if !acquired {
		log.Printf("leader: lock %d held by another instance", e.config.LockKey)
		return ""
	}

	log.Printf("leader: acquired advisory lock %d, starting scheduler and reconciler", e.config.LockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)

	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released advisory lock %d", e.config.LockKey)
	return reason
}

// holdLock blocks while pinging the dedicated connection. Returns the
// reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: heartbeat ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}
