package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "7700", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 5, cfg.Terminal.MaxSessions)
	assert.Equal(t, 150*time.Millisecond, cfg.Terminal.DestroyGrace)
	assert.Equal(t, 80, cfg.Terminal.DefaultCols)
	assert.Equal(t, 24, cfg.Terminal.DefaultRows)

	assert.Equal(t, 700*time.Millisecond, cfg.Watchdog.InitialDelay)
	assert.Equal(t, 4, cfg.Watchdog.MaxAttempts)
	assert.Equal(t, float64(2), cfg.Watchdog.BackoffFactor)
	assert.Equal(t, 6*time.Second, cfg.Watchdog.DelayCeiling)

	assert.Equal(t, 1.0, cfg.Detector.ExactConfidence)
	assert.True(t, cfg.Persist.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TERMINAL_MAX_SESSIONS", "12")
	t.Setenv("WATCHDOG_INITIAL_DELAY", "250ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Terminal.MaxSessions)
	assert.Equal(t, 250*time.Millisecond, cfg.Watchdog.InitialDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("TERMINAL_MAX_SESSIONS", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOrDefault_Fallback(t *testing.T) {
	t.Setenv("WATCHDOG_BACKOFF_FACTOR", "bogus")

	cfg := LoadOrDefault()
	require.NotNil(t, cfg)
	assert.Equal(t, float64(2), cfg.Watchdog.BackoffFactor)
}
