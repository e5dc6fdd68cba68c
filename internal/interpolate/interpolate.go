// Package interpolate implements the kline interpolation engine (spec.md
// §4.3): it resolves, for every configured (symbol, interval) pair that is
// not itself the strategy's minimum interval, a correctly-bucketed candle
// on every tick of the minimum-interval stream.
package interpolate

import (
	"math"

	"github.com/quantflow/backtest-engine/internal/store"
	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// Engine resolves interpolated candles against a shared value store. One
// Engine serves every Kline node of a strategy run.
type Engine struct {
	store *store.Store
}

// New returns an Engine backed by store.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Resolve produces the candle for targetKey at currentPlayIndex, given the
// latest minimum-interval candle minKline observed for the same symbol.
// On playIndex 0, or whenever minKline's timestamp crosses a new bucket of
// targetKey's interval, a new candle is inserted; otherwise the existing
// bucket is rolled forward (high/low/volume accumulate, close tracks the
// minimum-interval close, datetime/open are preserved).
func (e *Engine) Resolve(targetKey types.KlineKey, currentPlayIndex int, minKline types.Kline) (types.Kline, error) {
	key := targetKey.String()

	if currentPlayIndex == 0 {
		e.store.Update(key, minKline)
		return minKline, nil
	}

	crossed, err := isCrossInterval(targetKey.Interval, minKline.Datetime)
	if err != nil {
		return types.Kline{}, err
	}
	if crossed {
		e.store.Update(key, minKline)
		return minKline, nil
	}

	limit := 1
	items, err := e.store.Slice(key, nil, &limit)
	if err != nil {
		return types.Kline{}, xerrors.Wrap(xerrors.CodePendingUpdateKlineNotExist, err, map[string]string{"key": key})
	}
	if len(items) == 0 {
		return types.Kline{}, xerrors.New(xerrors.CodePendingUpdateKlineNotExist, map[string]string{"key": key})
	}
	last := items[0].(types.Kline)

	rolled := last.WithOHLC(
		math.Max(last.High, minKline.High),
		math.Min(last.Low, minKline.Low),
		minKline.Close,
		last.Volume+minKline.Volume,
	)
	e.store.Update(key, rolled)
	return rolled, nil
}

// TickTracker detects, per minimum-interval symbol, whether a newly
// observed timestamp represents a genuinely new tick (first observation)
// versus a timestamp mismatch against sibling symbols in the same cycle —
// the latter is a hard failure (spec.md's KlineTimestampNotEqual).
type TickTracker struct {
	seenMillis int64
}

// Observe records timestampMillis for this tick. isNewTick is true the
// first time Observe is called since the last Reset. An error is returned
// if a later symbol in the same cycle reports a different timestamp.
func (t *TickTracker) Observe(timestampMillis int64) (isNewTick bool, err error) {
	if t.seenMillis == 0 {
		t.seenMillis = timestampMillis
		return true, nil
	}
	if t.seenMillis != timestampMillis {
		return false, xerrors.New(xerrors.CodeKlineTimestampNotEqual, nil)
	}
	return false, nil
}

// Reset clears the tracked timestamp for the next cycle.
func (t *TickTracker) Reset() {
	t.seenMillis = 0
}
