package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// IndicatorConfig names an indicator function and its parameters. Its
// String form is canonical and stable across process restarts so it can
// key a Series in the value store, e.g. "sma(period=14)".
type IndicatorConfig struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params"`
}

// String renders the canonical form: name(param=value,...) with params
// sorted alphabetically so the same config always produces the same key.
func (c IndicatorConfig) String() string {
	if len(c.Params) == 0 {
		return c.Name + "()"
	}
	names := make([]string, 0, len(c.Params))
	for k := range c.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", n, c.Params[n]))
	}
	return c.Name + "(" + strings.Join(parts, ",") + ")"
}

// IndicatorKey identifies a computed indicator series.
type IndicatorKey struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Interval  Interval        `json:"interval"`
	Config    IndicatorConfig `json:"config"`
	RangeFrom time.Time       `json:"rangeFrom,omitempty"`
	RangeTo   time.Time       `json:"rangeTo,omitempty"`
}

// String is the canonical, stable string form used as a map key.
func (k IndicatorKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Exchange, k.Symbol, k.Interval, k.Config.String())
}

// IndicatorValue is one point of a computed indicator series: the source
// candle's timestamp plus one named output per indicator field (e.g. MACD
// publishes "macd", "signal" and "hist" at the same timestamp).
type IndicatorValue struct {
	Datetime time.Time          `json:"datetime"`
	Values   map[string]float64 `json:"values"`
}

// Timestamp satisfies store.Item so an indicator series can live in the value store.
func (v IndicatorValue) Timestamp() time.Time { return v.Datetime }
