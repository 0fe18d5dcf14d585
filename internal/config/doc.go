// Package config provides 12-factor configuration for the terminal host.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP/WebSocket server settings (port, host)
//   - Terminal: session limits, shell defaults, destroy grace period
//   - Watchdog: initialization retry backoff tuning
//   - Detector: agent-detection confidence thresholds
//   - Persist: session snapshot directory
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - TERMINAL_MAX_SESSIONS, TERMINAL_SHELL, TERMINAL_DESTROY_GRACE
//   - WATCHDOG_INITIAL_DELAY, WATCHDOG_MAX_ATTEMPTS, WATCHDOG_BACKOFF_FACTOR, WATCHDOG_DELAY_CEILING
//   - DETECTOR_EXACT_CONFIDENCE, DETECTOR_CONTEXT_CONFIDENCE
//   - PERSIST_DIR, PERSIST_ENABLED
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
