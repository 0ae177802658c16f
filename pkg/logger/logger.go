package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls how application loggers are built.
type LoggerConfig struct {
	Debug bool
}

// NewLogger builds a zap logger. Debug enables development output with
// debug-level logging; otherwise a production JSON logger is returned.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	if cfg != nil && cfg.Debug {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return c.Build()
	}
	return zap.NewProduction()
}
