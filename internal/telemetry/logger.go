// Package telemetry provides the engine's structured logging and
// Prometheus metrics, and a thin bridge that turns a strategy's
// types.RunEvent stream into both.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// NewLogger builds a zap.Logger at level, encoding as JSON or console.
func NewLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}

	var zl zapcore.Level
	if err := zl.Set(level); err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)

	return cfg.Build()
}

// LogRunEvent writes ev to logger at a level derived from its severity,
// with its type, cycle, strategy and node identifiers, and any error code
// and chain attached as structured context (spec.md §4.10's
// node_running_log/run_state_log surface).
func LogRunEvent(logger *zap.Logger, ev types.RunEvent) {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.Int32("cycle", int32(ev.CycleId)),
		zap.Int64("strategyId", int64(ev.StrategyId)),
		zap.String("nodeId", string(ev.NodeId)),
		zap.String("nodeName", string(ev.NodeName)),
	}
	if ev.Code != "" {
		fields = append(fields, zap.String("code", ev.Code))
	}
	if len(ev.Chain) > 0 {
		fields = append(fields, zap.Strings("chain", ev.Chain))
	}

	switch ev.Severity {
	case types.SeverityError:
		logger.Error(ev.Message, fields...)
	case types.SeverityWarn:
		logger.Warn(ev.Message, fields...)
	default:
		logger.Info(ev.Message, fields...)
	}
}
