package interpolate

import (
	"testing"
	"time"

	"github.com/quantflow/backtest-engine/internal/store"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// S1 — interpolation 5m from 1m: 10 one-minute candles with close=1..10,
// volume=1 each, produce exactly 2 five-minute buckets.
func TestEngine_Interpolate5mFrom1m(t *testing.T) {
	s := store.New()
	engine := New(s)
	target := types.KlineKey{Exchange: "binance", Symbol: "BTCUSDT", Interval: "5m"}
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	var last types.Kline
	for i := 0; i < 10; i++ {
		closePrice := float64(i + 1)
		minKline := types.Kline{
			Datetime: base.Add(time.Duration(i) * time.Minute),
			Open:     closePrice, High: closePrice, Low: closePrice, Close: closePrice, Volume: 1,
		}
		var err error
		last, err = engine.Resolve(target, i, minKline)
		if err != nil {
			t.Fatalf("resolve tick %d: %v", i, err)
		}
	}
	_ = last

	out, err := s.Slice(target.String(), nil, nil)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected exactly 2 five-minute buckets, got %d", len(out))
	}

	b1 := out[0].(types.Kline)
	if b1.Open != 1 || b1.High != 5 || b1.Low != 1 || b1.Close != 5 || b1.Volume != 5 {
		t.Fatalf("unexpected first bucket: %+v", b1)
	}
	b2 := out[1].(types.Kline)
	if b2.Open != 6 || b2.High != 10 || b2.Low != 6 || b2.Close != 10 || b2.Volume != 5 {
		t.Fatalf("unexpected second bucket: %+v", b2)
	}
}

func TestTickTracker_DetectsMismatch(t *testing.T) {
	var tt TickTracker
	isNew, err := tt.Observe(1000)
	if err != nil || !isNew {
		t.Fatalf("expected first observe to be a new tick, got isNew=%v err=%v", isNew, err)
	}
	isNew, err = tt.Observe(1000)
	if err != nil || isNew {
		t.Fatalf("expected repeat observe to not be new, got isNew=%v err=%v", isNew, err)
	}
	if _, err := tt.Observe(2000); err == nil {
		t.Fatalf("expected error on mismatched timestamp within the same cycle")
	}
}
