// Package config provides 12-factor configuration management for the
// terminal server.
//
// Configuration is loaded once at startup from environment variables with
// sensible defaults. CLI flags can override environment variables for
// development flexibility.
//
// Configuration Sections:
//   - Server: HTTP listen address, allowed WebSocket origins, shutdown timeout
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Terminal: shell, working directory, idle timeout, session cap, timing
//   - Auth: bcrypt token table and trusted proxy header
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, ALLOWED_ORIGINS, SHUTDOWN_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - TERMINAL_IDLE_TIMEOUT, TERMINAL_MAX_SESSIONS, TERMINAL_SCROLLBACK
//   - TERMINAL_SHELL, TERMINAL_WORKDIR, TERMINAL_POLL_INTERVAL
//   - TERMINAL_RECEIVE_TIMEOUT, TERMINAL_KILL_GRACE
//   - AUTH_TOKENS, AUTH_TRUSTED_HEADER
package config
