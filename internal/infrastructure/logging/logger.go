package logging

import (
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the server's zap logger.
type Logger struct {
	*zap.Logger
}

// Config selects the level and output format.
type Config struct {
	// Level is a zap level name; empty means info.
	Level string
	// Development switches to colored console output with stack traces on
	// warnings. Otherwise entries are JSON, one per line.
	Development bool
	// OutputPaths defaults to stdout.
	OutputPaths []string
}

// New builds a logger from cfg.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		// Session lifecycle lines are low volume and each one matters.
		zc.Sampling = nil
		zc.DisableStacktrace = true
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// Connection returns a child logger carrying the fields that identify one
// terminal connection.
func (l *Logger) Connection(connID, owner string) *zap.Logger {
	return l.With(zap.String("conn_id", connID), zap.String("owner", owner))
}

// Sync flushes buffered entries. fsync on a terminal or pipe fails with
// EINVAL or ENOTTY, which loses nothing and is not reported.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
