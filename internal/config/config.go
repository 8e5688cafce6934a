package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the fiemail application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL     string `json:"database_url"`
	RedisAddr       string `json:"redis_addr,omitempty"`
	HTTPAddr        string `json:"http_addr"`
	MailEndpoint    string `json:"mail_endpoint"`
	MailSecret      string `json:"mail_secret"`
	ReportsEndpoint string `json:"reports_endpoint"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout     time.Duration `json:"-"`
	HTTPShutdownTimeoutStr  string        `json:"http_shutdown_timeout"`
	ExecutorDrainTimeout    time.Duration `json:"-"`
	ExecutorDrainTimeoutStr string        `json:"executor_drain_timeout"`

	// CacheTTL is how long generated report artifacts stay reusable.
	CacheTTL    time.Duration `json:"-"`
	CacheTTLStr string        `json:"cache_ttl"`

	GenerationTimeout    time.Duration `json:"-"`
	GenerationTimeoutStr string        `json:"generation_timeout"`
	SendTimeout          time.Duration `json:"-"`
	SendTimeoutStr       string        `json:"send_timeout"`
	SendWorkers          int           `json:"send_workers"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPort    string `json:"metrics_port"`
	MetricsPath    string `json:"metrics_path"`

	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must comfortably exceed GenerationTimeout.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		HTTPAddr:                os.Getenv("HTTP_ADDR"),
		MailEndpoint:            os.Getenv("MAIL_ENDPOINT"),
		MailSecret:              os.Getenv("MAIL_SECRET"),
		ReportsEndpoint:         os.Getenv("REPORTS_ENDPOINT"),
		TickIntervalStr:         os.Getenv("TICK_INTERVAL"),
		DBOpTimeoutStr:          os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:    os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:    os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:  os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		ExecutorDrainTimeoutStr: os.Getenv("EXECUTOR_DRAIN_TIMEOUT"),
		CacheTTLStr:             os.Getenv("CACHE_TTL"),
		GenerationTimeoutStr:    os.Getenv("GENERATION_TIMEOUT"),
		SendTimeoutStr:          os.Getenv("SEND_TIMEOUT"),
		MetricsEnabled:          os.Getenv("METRICS_ENABLED") == "true",
		MetricsPort:             os.Getenv("METRICS_PORT"),
		MetricsPath:             os.Getenv("METRICS_PATH"),
		AnalyticsWindowStr:      os.Getenv("ANALYTICS_WINDOW"),
		AnalyticsRetentionStr:   os.Getenv("ANALYTICS_RETENTION"),
		ReconcileEnabled:        os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:    os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:   os.Getenv("RECONCILE_THRESHOLD"),
	}

	if workersStr := os.Getenv("SEND_WORKERS"); workersStr != "" {
		if n, err := parseInt(workersStr); err == nil && n > 0 {
			cfg.SendWorkers = n
		} else {
			log.Printf("config: invalid SEND_WORKERS %q (must be a positive integer), using default 4", workersStr)
		}
	}
	if cfg.SendWorkers == 0 {
		cfg.SendWorkers = 4
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReconcileBatchSize = batch
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 100
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 421157", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 421157
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.ExecutorDrainTimeoutStr == "" {
		cfg.ExecutorDrainTimeoutStr = "30s"
	}
	if cfg.CacheTTLStr == "" {
		cfg.CacheTTLStr = "24h"
	}
	if cfg.GenerationTimeoutStr == "" {
		cfg.GenerationTimeoutStr = "10m"
	}
	if cfg.SendTimeoutStr == "" {
		cfg.SendTimeoutStr = "30s"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9091"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.AnalyticsWindowStr == "" {
		cfg.AnalyticsWindowStr = "1h"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "30m"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ExecutorDrainTimeoutStr); err == nil {
		cfg.ExecutorDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CacheTTLStr); err == nil {
		cfg.CacheTTL = d
	}
	if d, err := time.ParseDuration(cfg.GenerationTimeoutStr); err == nil {
		cfg.GenerationTimeout = d
	}
	if d, err := time.ParseDuration(cfg.SendTimeoutStr); err == nil {
		cfg.SendTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsWindowStr); err == nil {
		cfg.AnalyticsWindow = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		MailEndpoint            string `json:"mail_endpoint"`
		MailSecret              string `json:"mail_secret"`
		ReportsEndpoint         string `json:"reports_endpoint"`
		TickInterval            string `json:"tick_interval"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		ExecutorDrainTimeout    string `json:"executor_drain_timeout"`
		CacheTTL                string `json:"cache_ttl"`
		GenerationTimeout       string `json:"generation_timeout"`
		SendTimeout             string `json:"send_timeout"`
		SendWorkers             int    `json:"send_workers"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPort             string `json:"metrics_port"`
		MetricsPath             string `json:"metrics_path"`
		AnalyticsWindow         string `json:"analytics_window"`
		AnalyticsRetention      string `json:"analytics_retention"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileThreshold      string `json:"reconcile_threshold"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		MailEndpoint:            c.MailEndpoint,
		MailSecret:              maskSecret(c.MailSecret),
		ReportsEndpoint:         c.ReportsEndpoint,
		TickInterval:            c.TickIntervalStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		ExecutorDrainTimeout:    c.ExecutorDrainTimeoutStr,
		CacheTTL:                c.CacheTTLStr,
		GenerationTimeout:       c.GenerationTimeoutStr,
		SendTimeout:             c.SendTimeoutStr,
		SendWorkers:             c.SendWorkers,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPort:             c.MetricsPort,
		MetricsPath:             c.MetricsPath,
		AnalyticsWindow:         c.AnalyticsWindowStr,
		AnalyticsRetention:      c.AnalyticsRetentionStr,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		EventBusBufferSize:      c.EventBusBufferSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
