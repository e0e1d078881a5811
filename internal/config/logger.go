package config

import (
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// BuildLogger constructs a zap.Logger from a log-level string, exactly as
// cmd/server/main.go's buildLogger does: development config (console,
// colorized) below "info" verbosity is not distinguished from production
// here since acpd has no interactive dev console — debug just lowers the
// level on the same JSON production encoder.
func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

// GormLogLevel maps the daemon's log-level string to a GORM logger
// verbosity, matching cmd/server/main.go's gormLogLevel.
func GormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
