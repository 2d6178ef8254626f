// Package logger provides level-based logging (debug, info, warn, error) on top of zap.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	base  = mustBuild("json")
)

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func build(format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build(zap.AddCallerSkip(1))
}

func mustBuild(format string) *zap.Logger {
	l, err := build(format)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLevel sets the minimum level to log. Default is info.
func SetLevel(s string) {
	level.SetLevel(parseLevel(s))
}

// SetFormat switches the encoder: "json" (default) or "console".
func SetFormat(format string) error {
	l, err := build(format)
	if err != nil {
		return err
	}
	mu.Lock()
	old := base
	base = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// L returns the structured logger for components that take a *zap.Logger.
func L() *zap.Logger {
	return current().WithOptions(zap.AddCallerSkip(-1))
}

// Named returns a child of L with the given name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries.
func Sync() error {
	return current().Sync()
}

// Debug logs if level is debug or lower.
func Debug(format string, v ...interface{}) {
	current().Sugar().Debugf(format, v...)
}

// Info logs if level is info or lower.
func Info(format string, v ...interface{}) {
	current().Sugar().Infof(format, v...)
}

// Warn logs if level is warn or lower.
func Warn(format string, v ...interface{}) {
	current().Sugar().Warnf(format, v...)
}

// Error logs if level is error (always).
func Error(format string, v ...interface{}) {
	current().Sugar().Errorf(format, v...)
}
