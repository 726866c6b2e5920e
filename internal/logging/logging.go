// Package logging provides structured logging for boardfs via zap.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Init builds the global logger. Must be called before any logging;
// until then log calls are no-ops.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "", "console":
		zc = zap.NewDevelopmentConfig()
	case "json":
		zc = zap.NewProductionConfig()
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs at debug level.
func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }

// Info logs at info level.
func Info(msg string, fields ...zap.Field) { get().Info(msg, fields...) }

// Warn logs at warn level.
func Warn(msg string, fields ...zap.Field) { get().Warn(msg, fields...) }

// Error logs at error level.
func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }

// Fatal logs at fatal level and exits.
func Fatal(msg string, fields ...zap.Field) { get().Fatal(msg, fields...) }
