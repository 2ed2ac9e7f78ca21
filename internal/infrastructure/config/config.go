package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Terminal  TerminalConfig
	Auth      AuthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// TerminalConfig holds shell session settings.
type TerminalConfig struct {
	// IdleTimeoutSeconds disconnects and reclaims a session after this many
	// seconds without activity. Zero or negative disables idle detection.
	IdleTimeoutSeconds int           `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"1800"`
	MaxSessions        int           `envconfig:"TERMINAL_MAX_SESSIONS" default:"5"`
	Scrollback         int           `envconfig:"TERMINAL_SCROLLBACK" default:"5000"`
	Shell              string        `envconfig:"TERMINAL_SHELL"`
	WorkingDir         string        `envconfig:"TERMINAL_WORKDIR"`
	PollInterval       time.Duration `envconfig:"TERMINAL_POLL_INTERVAL" default:"100ms"`
	ReceiveTimeout     time.Duration `envconfig:"TERMINAL_RECEIVE_TIMEOUT" default:"1s"`
	KillGrace          time.Duration `envconfig:"TERMINAL_KILL_GRACE" default:"1s"`
}

// IdleTimeout returns the idle threshold as a duration.
func (t TerminalConfig) IdleTimeout() time.Duration {
	return time.Duration(t.IdleTimeoutSeconds) * time.Second
}

// AuthConfig holds the identity boundary settings.
type AuthConfig struct {
	// Tokens maps owner to a bcrypt hash: "alice:$2a$10$...,bob:$2a$10$...".
	Tokens map[string]string `envconfig:"AUTH_TOKENS"`
	// TrustedHeader names a header carrying the owner, set by an
	// authenticating reverse proxy.
	TrustedHeader string `envconfig:"AUTH_TRUSTED_HEADER"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Terminal.MaxSessions < 1 {
		return nil, fmt.Errorf("TERMINAL_MAX_SESSIONS must be at least 1, got %d", cfg.Terminal.MaxSessions)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
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
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Terminal: TerminalConfig{
			IdleTimeoutSeconds: 1800,
			MaxSessions:        5,
			Scrollback:         5000,
			PollInterval:       100 * time.Millisecond,
			ReceiveTimeout:     time.Second,
			KillGrace:          time.Second,
		},
	}
}
