package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEADS_SHARED_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Breaker.MaxFailures)
	assert.Equal(t, 5, cfg.Merge.MaxAttempts)
	assert.Equal(t, 72*time.Hour, cfg.Rollup.CounterTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.Rollup.InactivityWindow)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Auth.SkipPaths)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEADS_SHARED_SECRET", "test-secret")
	t.Setenv("LEADS_DB_PORT", "5433")
	t.Setenv("LEADS_ROLLUP_INTERVAL", "15m")
	t.Setenv("LEADS_ROLLUP_FLUSH_CLEARS", "true")
	t.Setenv("LEADS_AUTH_SKIP_PATHS", "/health, /metrics ,/debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 15*time.Minute, cfg.Rollup.Interval)
	assert.True(t, cfg.Rollup.FlushClears)
	assert.Equal(t, []string{"/health", "/metrics", "/debug"}, cfg.Auth.SkipPaths)
}

func TestValidateRequiresSecretWhenAuthEnabled(t *testing.T) {
	t.Setenv("LEADS_SHARED_SECRET", "")
	t.Setenv("LEADS_AUTH_ENABLED", "true")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LEADS_AUTH_ENABLED", "false")
	_, err = Load()
	assert.NoError(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p",
		DBName: "leads", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@db:5432/leads?sslmode=disable", d.DSN())
}
