// Package indicator provides the pluggable technical-indicator hook named
// in spec.md's Non-goals: a small (series, params) -> series function
// registry, with SMA/EMA shipped as reference implementations.
package indicator

import "fmt"

// Func computes an indicator series from a window of closes and named
// parameters. It returns one output value per named result (e.g. MACD
// returns "macd", "signal", "hist"); simple indicators return one.
type Func func(series []float64, params map[string]float64) (map[string]float64, error)

var registry = map[string]Func{
	"sma": SMA,
	"ema": EMA,
}

// Register adds or replaces a named indicator function.
func Register(name string, fn Func) {
	registry[name] = fn
}

// Lookup returns the registered function for name, if any.
func Lookup(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// SMA computes the simple moving average of the last `period` closes.
func SMA(series []float64, params map[string]float64) (map[string]float64, error) {
	period := int(params["period"])
	if period <= 0 {
		return nil, fmt.Errorf("indicator: sma requires a positive period")
	}
	if len(series) < period {
		return nil, fmt.Errorf("indicator: insufficient data for sma(%d): have %d", period, len(series))
	}
	window := series[len(series)-period:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	return map[string]float64{"value": sum / float64(period)}, nil
}

// EMA computes the exponential moving average of the series using the
// standard smoothing factor alpha = 2 / (period + 1), seeded by the
// simple average of the first `period` values.
func EMA(series []float64, params map[string]float64) (map[string]float64, error) {
	period := int(params["period"])
	if period <= 0 {
		return nil, fmt.Errorf("indicator: ema requires a positive period")
	}
	if len(series) < period {
		return nil, fmt.Errorf("indicator: insufficient data for ema(%d): have %d", period, len(series))
	}
	alpha := 2.0 / (float64(period) + 1.0)
	var sum float64
	for _, v := range series[:period] {
		sum += v
	}
	ema := sum / float64(period)
	for _, v := range series[period:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return map[string]float64{"value": ema}, nil
}
