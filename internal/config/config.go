package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration.
type Config struct {
	Server    ServerConfig
	Terminal  TerminalConfig
	Watchdog  WatchdogConfig
	Detector  DetectorConfig
	Persist   PersistConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"7700"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TerminalConfig holds session lifecycle configuration.
type TerminalConfig struct {
	MaxSessions  int           `envconfig:"TERMINAL_MAX_SESSIONS" default:"5"`
	Shell        string        `envconfig:"TERMINAL_SHELL" default:""`
	DestroyGrace time.Duration `envconfig:"TERMINAL_DESTROY_GRACE" default:"150ms"`
	DefaultCols  int           `envconfig:"TERMINAL_COLS" default:"80"`
	DefaultRows  int           `envconfig:"TERMINAL_ROWS" default:"24"`
}

// WatchdogConfig holds initialization retry tuning.
type WatchdogConfig struct {
	InitialDelay  time.Duration `envconfig:"WATCHDOG_INITIAL_DELAY" default:"700ms"`
	MaxAttempts   int           `envconfig:"WATCHDOG_MAX_ATTEMPTS" default:"4"`
	BackoffFactor float64       `envconfig:"WATCHDOG_BACKOFF_FACTOR" default:"2"`
	DelayCeiling  time.Duration `envconfig:"WATCHDOG_DELAY_CEILING" default:"6s"`
}

// DetectorConfig holds agent-detection confidence thresholds.
// These are hand-tuned; they are configuration, not contract.
type DetectorConfig struct {
	ExactConfidence   float64 `envconfig:"DETECTOR_EXACT_CONFIDENCE" default:"1.0"`
	ContextConfidence float64 `envconfig:"DETECTOR_CONTEXT_CONFIDENCE" default:"0.9"`
	MinActivityLength int     `envconfig:"DETECTOR_MIN_ACTIVITY_LENGTH" default:"20"`
}

// PersistConfig holds best-effort session snapshot configuration.
type PersistConfig struct {
	Dir     string `envconfig:"PERSIST_DIR" default:"/tmp/termhost"`
	Enabled bool   `envconfig:"PERSIST_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "7700",
			Host: "0.0.0.0",
		},
		Terminal: TerminalConfig{
			MaxSessions:  5,
			DestroyGrace: 150 * time.Millisecond,
			DefaultCols:  80,
			DefaultRows:  24,
		},
		Watchdog: WatchdogConfig{
			InitialDelay:  700 * time.Millisecond,
			MaxAttempts:   4,
			BackoffFactor: 2,
			DelayCeiling:  6 * time.Second,
		},
		Detector: DetectorConfig{
			ExactConfidence:   1.0,
			ContextConfidence: 0.9,
			MinActivityLength: 20,
		},
		Persist: PersistConfig{
			Dir:     "/tmp/termhost",
			Enabled: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
