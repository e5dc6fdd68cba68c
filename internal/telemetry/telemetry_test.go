package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zapcore"

	"github.com/quantflow/backtest-engine/pkg/types"
)

func TestNewLoggerLevels(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("warn", format)
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("expected error level enabled at warn threshold")
		}
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger("not-a-level", "json"); err == nil {
		t.Fatalf("expected an error for an invalid log level")
	}
}

func TestObserveRunEventCountsErrors(t *testing.T) {
	ev := types.RunEvent{
		Type: types.EventNodeStateLog, StrategyId: 42, Severity: types.SeverityError,
		Code: "BACKTEST_NODE_0001", Datetime: time.Now(),
	}
	before := testutil.ToFloat64(nodeErrors.WithLabelValues("42", "BACKTEST_NODE_0001"))
	ObserveRunEvent(ev)
	after := testutil.ToFloat64(nodeErrors.WithLabelValues("42", "BACKTEST_NODE_0001"))
	if after != before+1 {
		t.Fatalf("expected nodeErrors to increment by 1, got %v -> %v", before, after)
	}
}

func TestSetRealizedPnl(t *testing.T) {
	SetRealizedPnl(types.StrategyId(7), 123.45)
	if got := testutil.ToFloat64(realizedPnl.WithLabelValues("7")); got != 123.45 {
		t.Fatalf("expected realizedPnl 123.45, got %v", got)
	}
}
