package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLogger *zap.Logger
	once          sync.Once
)

// Init initializes the default logger with configuration from environment variables.
// Environment variables:
//   - LOG_LEVEL: Set log level (DEBUG, INFO, WARN, ERROR). Default: INFO
//   - LOG_FORMAT: "json" or "console". Default: console
func Init() {
	once.Do(func() {
		level := zapcore.InfoLevel
		switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
		case "DEBUG":
			level = zapcore.DebugLevel
		case "INFO":
			level = zapcore.InfoLevel
		case "WARN", "WARNING":
			level = zapcore.WarnLevel
		case "ERROR":
			level = zapcore.ErrorLevel
		}

		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		if strings.ToLower(os.Getenv("LOG_FORMAT")) != "json" {
			cfg.Encoding = "console"
			cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		cfg.DisableStacktrace = true

		l, err := cfg.Build(zap.AddCallerSkip(0))
		if err != nil {
			l = zap.NewNop()
		}
		defaultLogger = l
	})
}

// L returns the default logger instance.
func L() *zap.Logger {
	if defaultLogger == nil {
		Init()
	}
	return defaultLogger
}

// Named returns a child logger with the given component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Call returns a child logger carrying the call id, the field every
// per-call log line must have.
func Call(name, callID string) *zap.Logger {
	return L().Named(name).With(zap.String("call_id", callID))
}

// SetLogger replaces the default logger. Intended for tests.
func SetLogger(l *zap.Logger) {
	once.Do(func() {})
	defaultLogger = l
}

// Sync flushes buffered log entries.
func Sync() {
	if defaultLogger != nil {
		_ = defaultLogger.Sync()
	}
}
