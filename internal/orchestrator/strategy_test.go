package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantflow/backtest-engine/internal/store"
	"github.com/quantflow/backtest-engine/pkg/types"
)

func oneTickConfig(tick time.Time) types.StrategyConfig {
	klineData := map[string]interface{}{
		"exchange": "binance",
		"account":  "backtest",
		"selectedSymbols": []map[string]interface{}{
			{"symbol": "BTCUSDT", "interval": "1m", "handleId": "btc"},
		},
	}
	return types.StrategyConfig{
		StrategyId:     1,
		StrategyName:   "one-tick",
		StartTime:      tick,
		EndTime:        tick,
		InitialBalance: decimal.NewFromInt(10000),
		Leverage:       1,
		FeeRate:        decimal.Zero,
		Nodes: []types.NodeConfig{
			{Id: "start", Name: "start", Type: types.NodeKindStart},
			{Id: "kline", Name: "kline", Type: types.NodeKindKline, Data: klineData},
		},
		Edges: []types.EdgeConfig{
			{Source: "start", SourceHandle: "default", Target: "kline", TargetHandle: "default"},
		},
	}
}

// A single-tick run: Start -> Kline(leaf) should reach StateStopped after
// Init, Check, one PlayOne and Stop, with the barrier unblocking once the
// Kline leaf reports ExecuteOver.
func TestStrategy_SingleTickLifecycle(t *testing.T) {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := oneTickConfig(tick)

	s, err := NewStrategy(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStrategy: %v", err)
	}
	defer s.Shutdown()

	key := types.KlineKey{Exchange: "binance", Symbol: "BTCUSDT", Interval: "1m"}
	s.Store.Init(key.String(), []store.Item{
		types.Kline{Datetime: tick, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
	})

	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}

	cycle, finished, err := s.PlayOne(ctx)
	if err != nil {
		t.Fatalf("PlayOne: %v", err)
	}
	if cycle != 0 {
		t.Fatalf("expected cycle 0, got %d", cycle)
	}
	if !finished {
		t.Fatalf("expected single-tick run to report finished")
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.FSM.State(); got != StateStopped {
		t.Fatalf("expected StateStopped, got %s", got)
	}
}

// Reset must be refused outside StateStopped, and must succeed once
// Stopped, putting the strategy back in StateReady.
func TestStrategy_ResetRequiresStopped(t *testing.T) {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := oneTickConfig(tick)

	s, err := NewStrategy(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStrategy: %v", err)
	}
	defer s.Shutdown()

	key := types.KlineKey{Exchange: "binance", Symbol: "BTCUSDT", Interval: "1m"}
	s.Store.Init(key.String(), []store.Item{
		types.Kline{Datetime: tick, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
	})

	ctx := context.Background()
	if err := s.Reset(ctx); err == nil {
		t.Fatalf("expected Reset to fail before the strategy ever ran")
	}

	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if _, _, err := s.PlayOne(ctx); err != nil {
		t.Fatalf("PlayOne: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	// store/kline data must be re-seeded: Reset clears it along with everything else.
	s.Store.Init(key.String(), []store.Item{
		types.Kline{Datetime: tick, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
	})
	if got := s.FSM.State(); got != StateReady {
		t.Fatalf("expected StateReady after reset, got %s", got)
	}
}

// computeLayers groups a diamond graph (start -> {a, b} -> c) into three
// depth layers, keeping a and b concurrent.
func TestComputeLayers_Diamond(t *testing.T) {
	order := []types.NodeId{"start", "a", "b", "c"}
	edges := []types.EdgeConfig{
		{Source: "start", Target: "a"},
		{Source: "start", Target: "b"},
		{Source: "a", Target: "c"},
		{Source: "b", Target: "c"},
	}

	layers := computeLayers(order, edges)
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d: %v", len(layers), layers)
	}
	if len(layers[0]) != 1 || layers[0][0] != "start" {
		t.Fatalf("expected layer 0 = [start], got %v", layers[0])
	}
	if len(layers[1]) != 2 {
		t.Fatalf("expected layer 1 to hold both a and b, got %v", layers[1])
	}
	if len(layers[2]) != 1 || layers[2][0] != "c" {
		t.Fatalf("expected layer 2 = [c], got %v", layers[2])
	}
}

// A strategy whose Kline node selects no symbols leaves the graph without
// any resolvable minimum interval, so the Start node's step is never set
// and Init must fail rather than silently run with a zero step.
func TestStrategy_InitFailsOnEmptyKlineConfig(t *testing.T) {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := oneTickConfig(tick)
	cfg.Nodes[1].Data = map[string]interface{}{"exchange": "binance", "account": "backtest"}

	s, err := NewStrategy(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStrategy: %v", err)
	}
	defer s.Shutdown()

	if err := s.Init(context.Background()); err == nil {
		t.Fatalf("expected Init to fail when the Start node's step is unresolved")
	}
	if got := s.FSM.State(); got != StateError {
		t.Fatalf("expected StateError after a failed Init, got %s", got)
	}
}
