package trading

import (
	"math"
	"testing"
	"time"

	"github.com/quantflow/backtest-engine/pkg/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// S2 — open/add/close scenario from the engine's testable-properties table.
func TestLedger_OpenAddClose(t *testing.T) {
	ledger := NewLedger(NewDefaultFormula())
	now := time.Now()

	openOrder := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 1, Exchange: "binance", Symbol: "BTCUSDT",
		Side: types.OrderSideOpenLong, Kind: types.OrderKindMarket, Quantity: 1.0, OpenPrice: 100,
	}
	pos, err := ledger.Open(openOrder, 100, 10000, 10, now)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pos.Quantity != 1.0 || pos.OpenPrice != 100 {
		t.Fatalf("unexpected position after open: %+v", pos)
	}

	addOrder := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 1, Exchange: "binance", Symbol: "BTCUSDT",
		Side: types.OrderSideOpenLong, Kind: types.OrderKindMarket, Quantity: 1.0, OpenPrice: 120,
	}
	pos, err = ledger.Open(addOrder, 120, 10000, 10, now)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !almostEqual(pos.Quantity, 2.0) || !almostEqual(pos.OpenPrice, 110.0) {
		t.Fatalf("expected quantity=2.0 open_price=110.0, got %+v", pos)
	}

	tp1 := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 1, Exchange: "binance", Symbol: "BTCUSDT",
		Side: types.OrderSideCloseLong, Kind: types.OrderKindTakeProfit, Quantity: 0.5, OpenPrice: 130,
	}
	fullyClosed, txn, pos, err := ledger.Close(tp1, 10000, now)
	if err != nil {
		t.Fatalf("close1: %v", err)
	}
	if fullyClosed {
		t.Fatalf("expected partial close")
	}
	if !almostEqual(pos.Quantity, 1.5) {
		t.Fatalf("expected quantity=1.5, got %v", pos.Quantity)
	}
	if !almostEqual(txn.RealizedPnl, 10.0) {
		t.Fatalf("expected realized pnl 10, got %v", txn.RealizedPnl)
	}

	tp2 := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 1, Exchange: "binance", Symbol: "BTCUSDT",
		Side: types.OrderSideCloseLong, Kind: types.OrderKindTakeProfit, Quantity: 1.5, OpenPrice: 140,
	}
	fullyClosed, txn, pos, err = ledger.Close(tp2, 10000, now)
	if err != nil {
		t.Fatalf("close2: %v", err)
	}
	if !fullyClosed {
		t.Fatalf("expected full close")
	}
	if pos.State != types.PositionClosed {
		t.Fatalf("expected state closed, got %v", pos.State)
	}
	if !almostEqual(txn.RealizedPnl, 45.0) {
		t.Fatalf("expected realized pnl 45, got %v", txn.RealizedPnl)
	}
	if pos.Quantity != 0 || pos.Margin != 0 || pos.ForcePrice != 0 {
		t.Fatalf("expected zeroed position fields, got %+v", pos)
	}
}

// S3 — opening the opposite side of an existing position must be rejected.
func TestLedger_DirectionMismatch(t *testing.T) {
	ledger := NewLedger(NewDefaultFormula())
	now := time.Now()

	openOrder := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 2, Exchange: "binance", Symbol: "ETHUSDT",
		Side: types.OrderSideOpenLong, Kind: types.OrderKindMarket, Quantity: 1.0, OpenPrice: 100,
	}
	if _, err := ledger.Open(openOrder, 100, 10000, 10, now); err != nil {
		t.Fatalf("open: %v", err)
	}

	openShort := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 2, Exchange: "binance", Symbol: "ETHUSDT",
		Side: types.OrderSideOpenShort, Kind: types.OrderKindMarket, Quantity: 1.0, OpenPrice: 110,
	}
	if _, err := ledger.Open(openShort, 110, 10000, 10, now); err == nil {
		t.Fatalf("expected error opening Short while a Long position is open")
	}
}

func TestLedger_OverQtyLenientClose(t *testing.T) {
	ledger := NewLedger(NewDefaultFormula())
	now := time.Now()

	openOrder := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 3, Exchange: "binance", Symbol: "BTCUSDT",
		Side: types.OrderSideOpenLong, Kind: types.OrderKindMarket, Quantity: 1.0, OpenPrice: 100,
	}
	if _, err := ledger.Open(openOrder, 100, 10000, 10, now); err != nil {
		t.Fatalf("open: %v", err)
	}

	overQty := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 3, Exchange: "binance", Symbol: "BTCUSDT",
		Side: types.OrderSideCloseLong, Kind: types.OrderKindStopLoss, Quantity: 5.0, OpenPrice: 90,
	}
	fullyClosed, _, pos, err := ledger.Close(overQty, 10000, now)
	if err != nil {
		t.Fatalf("lenient over-qty close should not error: %v", err)
	}
	if !fullyClosed || pos.State != types.PositionClosed {
		t.Fatalf("expected lenient full close, got %+v", pos)
	}
}

func TestLedger_MarkToMarket(t *testing.T) {
	ledger := NewLedger(NewDefaultFormula())
	now := time.Now()

	openOrder := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: 4, Exchange: "binance", Symbol: "BTCUSDT",
		Side: types.OrderSideOpenShort, Kind: types.OrderKindMarket, Quantity: 2.0, OpenPrice: 200,
	}
	if _, err := ledger.Open(openOrder, 200, 10000, 5, now); err != nil {
		t.Fatalf("open: %v", err)
	}

	pos := ledger.MarkToMarket(4, "binance", "BTCUSDT", types.PositionSideShort, 180, 10000, now.Add(time.Minute))
	if pos == nil {
		t.Fatalf("expected position")
	}
	wantPnl := 2.0 * (200 - 180)
	if !almostEqual(pos.UnrealizedPnl, wantPnl) {
		t.Fatalf("expected unrealized pnl %v, got %v", wantPnl, pos.UnrealizedPnl)
	}
}
