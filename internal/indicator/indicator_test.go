package indicator

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	out, err := SMA([]float64{1, 2, 3, 4, 5}, map[string]float64{"period": 3})
	if err != nil {
		t.Fatalf("sma: %v", err)
	}
	want := (3.0 + 4.0 + 5.0) / 3.0
	if math.Abs(out["value"]-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, out["value"])
	}
}

func TestSMA_InsufficientData(t *testing.T) {
	if _, err := SMA([]float64{1, 2}, map[string]float64{"period": 5}); err == nil {
		t.Fatalf("expected error for insufficient data")
	}
}

func TestEMA_SeededBySMA(t *testing.T) {
	out, err := EMA([]float64{1, 2, 3}, map[string]float64{"period": 3})
	if err != nil {
		t.Fatalf("ema: %v", err)
	}
	if math.Abs(out["value"]-2.0) > 1e-9 {
		t.Fatalf("expected seed ema=2.0, got %v", out["value"])
	}
}

func TestRegister_OverridesBuiltin(t *testing.T) {
	Register("sma", func(series []float64, params map[string]float64) (map[string]float64, error) {
		return map[string]float64{"value": 42}, nil
	})
	defer Register("sma", SMA)

	fn, ok := Lookup("sma")
	if !ok {
		t.Fatalf("expected sma registered")
	}
	out, err := fn(nil, nil)
	if err != nil || out["value"] != 42 {
		t.Fatalf("expected overridden sma to return 42, got %v err=%v", out, err)
	}
}
