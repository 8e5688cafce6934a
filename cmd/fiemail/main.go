package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/karlennis/fi-email-automation-sub000/internal/analytics"
	"github.com/karlennis/fi-email-automation-sub000/internal/api"
	"github.com/karlennis/fi-email-automation-sub000/internal/circuitbreaker"
	"github.com/karlennis/fi-email-automation-sub000/internal/config"
	"github.com/karlennis/fi-email-automation-sub000/internal/executor"
	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
	"github.com/karlennis/fi-email-automation-sub000/internal/leaderelection"
	"github.com/karlennis/fi-email-automation-sub000/internal/mailer"
	"github.com/karlennis/fi-email-automation-sub000/internal/metrics"
	"github.com/karlennis/fi-email-automation-sub000/internal/reconciler"
	"github.com/karlennis/fi-email-automation-sub000/internal/reports"
	"github.com/karlennis/fi-email-automation-sub000/internal/scheduler"
	"github.com/karlennis/fi-email-automation-sub000/internal/store/postgres"
	"github.com/karlennis/fi-email-automation-sub000/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`fiemail - scheduled report and email automation service

Usage:
  fiemail <command>

Commands:
  serve      Start the API server, scheduler and executor
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for send analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  MAIL_ENDPOINT             Mail delivery service URL (required)
  MAIL_SECRET               HMAC secret for mail requests (required)
  REPORTS_ENDPOINT          Report generation service URL (required)
  TICK_INTERVAL             Scheduler tick interval (default: "30s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  EXECUTOR_DRAIN_TIMEOUT    Executor request drain timeout (default: "30s")

  CACHE_TTL                 Report artifact cache lifetime (default: "24h")
  GENERATION_TIMEOUT        Report generation timeout (default: "10m")
  SEND_TIMEOUT              Per-customer send timeout (default: "30s")
  SEND_WORKERS              Concurrent sends per execution (default: "4")
  EVENTBUS_BUFFER_SIZE      Execute request buffer size (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PORT              Metrics server port (default: "9091")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  ANALYTICS_WINDOW          Send analytics bucket size (default: "1h")
  ANALYTICS_RETENTION       Send analytics retention (default: "720h")

  RECONCILE_ENABLED         Enable stuck job reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for stuck jobs (default: "5m")
  RECONCILE_THRESHOLD       In-flight age before a job is stuck (default: "30m")
  RECONCILE_BATCH_SIZE      Max recoveries per cycle (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Mail failures before the breaker opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Breaker open duration (default: "2m")

  LEADER_LOCK_KEY           Advisory lock id shared by all replicas (default: "421157")
  LEADER_RETRY_INTERVAL     Follower acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("fiemail: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	if err := probeJobsTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "schema probe failed (are migrations applied?): %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)
	directory := postgres.NewDirectory(db)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("fiemail: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("fiemail: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("fiemail: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("fiemail: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	// Mail sender, optionally behind a circuit breaker
	var mailOpts []mailer.Option
	if cfg.CircuitBreakerThreshold > 0 {
		cb := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		mailOpts = append(mailOpts, mailer.WithBreaker(cb))
		log.Printf("fiemail: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("fiemail: CIRCUIT_BREAKER_THRESHOLD=0; circuit breaker disabled")
	}
	sender, err := mailer.NewHTTPSender(cfg.MailEndpoint, cfg.MailSecret, mailOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create mail sender: %v\n", err)
		return exitRuntimeError
	}

	generator := reports.NewClient(cfg.ReportsEndpoint)

	exec := executor.New(
		executor.Config{
			CacheTTL:          cfg.CacheTTL,
			GenerationTimeout: cfg.GenerationTimeout,
			SendTimeout:       cfg.SendTimeout,
			SendWorkers:       cfg.SendWorkers,
		},
		store,
		generator,
		sender,
	).WithDrainTimeout(cfg.ExecutorDrainTimeout)
	if metricsSink != nil {
		exec = exec.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()
		sink := analytics.NewRedisSink(redisClient, cfg.AnalyticsWindow, cfg.AnalyticsRetention)
		exec = exec.WithAnalytics(sink)
		log.Printf("fiemail: analytics enabled (redis=%s, window=%s)", cfg.RedisAddr, cfg.AnalyticsWindow)
	} else {
		log.Println("fiemail: REDIS_ADDR not set; analytics disabled")
	}

	svc := jobs.New(store, directory).WithEmitter(bus)

	apiHandler := api.NewHandler(svc, bus).WithHealthChecker(db)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("fiemail: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("fiemail: http server error: %v", err)
		}
	}()

	// The executor runs on every replica: execute-now requests enter the
	// in-process bus of whichever replica served the API call. Only the
	// scheduler and reconciler are leader-gated singletons.
	executorCtx, cancelExecutor := context.WithCancel(context.Background())
	var executorWg sync.WaitGroup

	executorWg.Add(1)
	go func() {
		defer executorWg.Done()
		exec.Run(executorCtx, bus.Channel())
	}()

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		store,
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
		)
		log.Printf("fiemail: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("fiemail: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Leader duties: the scheduler and reconciler start when this
	// replica wins the advisory lock and stop when it loses it.
	var dutiesWg sync.WaitGroup
	onElected := func(leaderCtx context.Context) {
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			sched.Run(leaderCtx)
		}()
		if recon != nil {
			dutiesWg.Add(1)
			go func() {
				defer dutiesWg.Done()
				recon.Run(leaderCtx)
			}()
		}
	}
	onDemoted := func() {
		dutiesWg.Wait()
	}

	elector := leaderelection.New(db, leaderelection.Config{
		LockKey:           cfg.LeaderLockKey,
		RetryInterval:     cfg.LeaderRetryInterval,
		HeartbeatInterval: cfg.LeaderHeartbeatInterval,
	}, onElected, onDemoted)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup

	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	log.Printf("fiemail: started (tick=%s, http=%s, workers=%d)", cfg.TickInterval, cfg.HTTPAddr, cfg.SendWorkers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("fiemail: received signal %v, shutting down", received)

	// Phase 1: Stand down from leadership (stops scheduler and
	// reconciler, no new scheduled dispatches)
	log.Println("fiemail: stopping leader election...")
	cancelElector()
	electorWg.Wait()
	log.Println("fiemail: leader election stopped")

	// Phase 2: Stop executor (drains buffered execute requests)
	log.Println("fiemail: stopping executor (draining requests)...")
	cancelExecutor()
	executorWg.Wait()
	log.Println("fiemail: executor stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("fiemail: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("fiemail: http server shutdown error: %v", err)
	}
	log.Println("fiemail: http server stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("fiemail: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("fiemail: metrics server shutdown error: %v", err)
		}
		log.Println("fiemail: metrics server stopped")
	}

	log.Println("fiemail: stopped")
	return exitSuccess
}

// probeJobsTable verifies the scheduled_jobs table exists before any
// component starts, so a missing migration fails fast instead of
// surfacing as per-request errors.
func probeJobsTable(db *sql.DB) error {
	var one int
	err := db.QueryRow(`SELECT 1 FROM information_schema.tables
		WHERE table_name = 'scheduled_jobs'`).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("table scheduled_jobs not found")
	}
	return err
}

// logConfigWarnings flags configurations that are valid but risky in
// production.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("fiemail: WARNING [P0]: RECONCILE_ENABLED=false - jobs stuck in PROCESSING or SENDING after a crash will never be recovered")
	}
	if !cfg.MetricsEnabled {
		log.Println("fiemail: WARNING [P1]: METRICS_ENABLED=false - no visibility into dispatch lag, delivery failures or leader status")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("fiemail: INFO: CIRCUIT_BREAKER_THRESHOLD=0 - a failing mail endpoint will be retried at full send rate")
	}
	if cfg.SendWorkers == 1 {
		log.Println("fiemail: INFO: SEND_WORKERS=1 - deliveries within an execution are fully serialized")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("fiemail version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
