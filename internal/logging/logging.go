// Package logging builds the zap loggers used by long running components.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger at level (debug|info|warn|error).
// Unknown levels fall back to info, and a logger that cannot be built
// degrades to a no-op rather than failing the program.
func New(level string) *zap.Logger {
	logger, err := Config(level).Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Config is the zap configuration New builds from.
func Config(level string) zap.Config {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
