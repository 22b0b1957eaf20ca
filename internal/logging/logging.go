// Package logging builds the process-wide zap logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger appropriate for the run mode. Serve mode emits
// structured JSON; everything else gets the console encoder.
func New(serveMode, verbose bool) (*zap.Logger, error) {
	if serveMode {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		return cfg.Build()
	}

	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

// Nop returns a no-op logger for tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
