package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the lead-analytics service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Archive   ArchiveConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Breaker   BreakerConfig
	Merge     MergeConfig
	Rollup    RollupConfig
	Reports   ReportsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// OpTimeout bounds every counter-store and lead-store call.
	OpTimeout time.Duration
}

// ArchiveConfig configures the optional ClickHouse raw-event archive.
type ArchiveConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled      bool
	SharedSecret string
	SkipPaths    []string
}

type RateLimitConfig struct {
	Enabled     bool
	IngestRPS   float64
	IngestBurst int
	QueryRPS    float64
	QueryBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// BreakerConfig configures the store circuit breaker: after MaxFailures
// consecutive connection failures, calls short-circuit for Cooldown
// before a single probe is attempted.
type BreakerConfig struct {
	MaxFailures int
	Cooldown    time.Duration
}

// MergeConfig tunes the lead merger.
type MergeConfig struct {
	// MaxAttempts bounds optimistic-concurrency retries per event.
	MaxAttempts int
	// DedupWindow is the timestamp granularity of the action fingerprint
	// used when upstream supplies no idempotency token.
	DedupWindow time.Duration
	// LeadTTL bounds how long an unflushed working copy lives in Redis.
	LeadTTL time.Duration
}

// RollupConfig tunes the batch rollup job.
type RollupConfig struct {
	// Interval between scheduled runs. Zero disables the scheduler.
	Interval time.Duration
	// CounterTTL is applied to every counter key at increment time.
	CounterTTL time.Duration
	// InactivityWindow after which a non-terminal lead goes cold_lead,
	// evaluated at rollup time. Policy parameter, not a fixed rule.
	InactivityWindow time.Duration
	// FlushClears deletes counter keys after a durable flush instead of
	// leaving them to passively expire.
	FlushClears bool
}

// ReportsConfig tunes the read-side query engine.
type ReportsConfig struct {
	// HighValueScore is the lead-score threshold for the "high value"
	// share in the channel performance report.
	HighValueScore float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LEADS_HTTP_ADDR", ":8080"),
			Env:             getEnv("LEADS_ENV", "development"),
			ShutdownTimeout: getDurationEnv("LEADS_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("LEADS_DB_HOST", "localhost"),
			Port:     getIntEnv("LEADS_DB_PORT", 5432),
			User:     getEnv("LEADS_DB_USER", "leads"),
			Password: getEnv("LEADS_DB_PASSWORD", "leads_secret"),
			DBName:   getEnv("LEADS_DB_NAME", "leads"),
			SSLMode:  getEnv("LEADS_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LEADS_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("LEADS_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:      getEnv("LEADS_REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("LEADS_REDIS_PASSWORD", ""),
			DB:        getIntEnv("LEADS_REDIS_DB", 0),
			OpTimeout: getDurationEnv("LEADS_REDIS_OP_TIMEOUT", 2*time.Second),
		},
		Archive: ArchiveConfig{
			Enabled:  getBoolEnv("LEADS_ARCHIVE_ENABLED", false),
			Host:     getEnv("LEADS_ARCHIVE_HOST", "localhost"),
			Port:     getEnv("LEADS_ARCHIVE_PORT", "9000"),
			Database: getEnv("LEADS_ARCHIVE_DB", "leads"),
			User:     getEnv("LEADS_ARCHIVE_USER", "default"),
			Password: getEnv("LEADS_ARCHIVE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:      getBoolEnv("LEADS_AUTH_ENABLED", true),
			SharedSecret: getEnv("LEADS_SHARED_SECRET", ""),
			SkipPaths:    getSliceEnv("LEADS_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("LEADS_RATE_LIMIT_ENABLED", true),
			IngestRPS:   getFloatEnv("LEADS_RATE_LIMIT_INGEST_RPS", 1000),
			IngestBurst: getIntEnv("LEADS_RATE_LIMIT_INGEST_BURST", 200),
			QueryRPS:    getFloatEnv("LEADS_RATE_LIMIT_QUERY_RPS", 100),
			QueryBurst:  getIntEnv("LEADS_RATE_LIMIT_QUERY_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("LEADS_LOG_LEVEL", "info"),
			Format: getEnv("LEADS_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LEADS_METRICS_ENABLED", true),
			Path:    getEnv("LEADS_METRICS_PATH", "/metrics"),
		},
		Breaker: BreakerConfig{
			MaxFailures: getIntEnv("LEADS_BREAKER_MAX_FAILURES", 3),
			Cooldown:    getDurationEnv("LEADS_BREAKER_COOLDOWN", 30*time.Second),
		},
		Merge: MergeConfig{
			MaxAttempts: getIntEnv("LEADS_MERGE_MAX_ATTEMPTS", 5),
			DedupWindow: getDurationEnv("LEADS_MERGE_DEDUP_WINDOW", 2*time.Minute),
			LeadTTL:     getDurationEnv("LEADS_MERGE_LEAD_TTL", 30*24*time.Hour),
		},
		Rollup: RollupConfig{
			Interval:         getDurationEnv("LEADS_ROLLUP_INTERVAL", time.Hour),
			CounterTTL:       getDurationEnv("LEADS_ROLLUP_COUNTER_TTL", 72*time.Hour),
			InactivityWindow: getDurationEnv("LEADS_ROLLUP_INACTIVITY_WINDOW", 14*24*time.Hour),
			FlushClears:      getBoolEnv("LEADS_ROLLUP_FLUSH_CLEARS", false),
		},
		Reports: ReportsConfig{
			HighValueScore: getFloatEnv("LEADS_REPORTS_HIGH_VALUE_SCORE", 70),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.SharedSecret == "" {
		return fmt.Errorf("LEADS_SHARED_SECRET is required when auth is enabled")
	}
	if c.Merge.MaxAttempts < 1 {
		return fmt.Errorf("LEADS_MERGE_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
