package types

import (
	"fmt"
	"time"
)

// Interval is a candle interval, e.g. "1m", "5m", "1h".
type Interval string

// Kline is an immutable OHLCV candlestick. Ordering within a series is by
// Datetime; duplicate timestamps are deduplicated last-write-wins.
type Kline struct {
	Datetime time.Time `json:"datetime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Timestamp satisfies store.Item so a Kline series can live in the value store.
func (k Kline) Timestamp() time.Time { return k.Datetime }

// WithOHLC returns a copy of k with high/low/close/volume replaced, used by
// the interpolation engine when rolling a bucket forward. Datetime and Open
// are preserved, matching the spec's "datetime, open unchanged" invariant.
func (k Kline) WithOHLC(high, low, close, volume float64) Kline {
	k.High = high
	k.Low = low
	k.Close = close
	k.Volume = volume
	return k
}

// KlineKey identifies a candle series: exchange, symbol, interval, and an
// optional time range used purely as a cache-construction hint.
type KlineKey struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Interval  Interval  `json:"interval"`
	RangeFrom time.Time `json:"rangeFrom,omitempty"`
	RangeTo   time.Time `json:"rangeTo,omitempty"`
}

// String is the canonical, stable string form used as a map key.
func (k KlineKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Exchange, k.Symbol, k.Interval)
}

// SameSymbol reports whether two keys refer to the same (exchange, symbol)
// pair, ignoring interval — used to find a symbol's minimum-interval key.
func (k KlineKey) SameSymbol(other KlineKey) bool {
	return k.Exchange == other.Exchange && k.Symbol == other.Symbol
}
