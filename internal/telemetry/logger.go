// Package telemetry wires up the ambient logging and metrics stack: a
// zap logger and a Prometheus-backed implementation of raft.Metrics.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap.Logger appropriate for env: "production" gets the
// JSON encoder and info level, anything else gets the human-readable
// development console encoder and debug level.
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}
