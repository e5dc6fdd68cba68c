// Package trading implements the simulated leveraged-futures trading core
// (spec.md §4.2): position accounting for orders, fills, and mark-to-market
// under a weighted-average open price and a pluggable margin formula.
package trading

import "github.com/quantflow/backtest-engine/pkg/types"

// Formula computes the margin, margin ratio and forced-liquidation price
// for a position. It is pluggable so exchange-specific margin rules can be
// substituted without touching the position ledger.
type Formula interface {
	Margin(leverage, price, quantity float64) float64
	MarginRatio(availableBalance, leverage, price, quantity float64) float64
	ForcePrice(side types.PositionSide, leverage, price, quantity float64) float64
}

// DefaultFormula implements the textbook isolated-margin formulas of
// spec.md §4.2, parameterized by a maintenance rate left open by the spec.
type DefaultFormula struct {
	// MaintenanceRate is the maintenance margin rate used in the
	// forced-liquidation price formula. Defaults to 0.005 (0.5%) via
	// NewDefaultFormula; the exact constant is left pluggable per spec.
	MaintenanceRate float64
}

// NewDefaultFormula returns a DefaultFormula with the standard 0.5%
// maintenance rate.
func NewDefaultFormula() *DefaultFormula {
	return &DefaultFormula{MaintenanceRate: 0.005}
}

// Margin is (price * quantity) / leverage.
func (f *DefaultFormula) Margin(leverage, price, quantity float64) float64 {
	return (price * quantity) / leverage
}

// MarginRatio is margin / availableBalance.
func (f *DefaultFormula) MarginRatio(availableBalance, leverage, price, quantity float64) float64 {
	if availableBalance == 0 {
		return 0
	}
	return f.Margin(leverage, price, quantity) / availableBalance
}

// ForcePrice is open_price * (1 - 1/leverage + maint_rate) for Long,
// open_price * (1 + 1/leverage - maint_rate) for Short.
func (f *DefaultFormula) ForcePrice(side types.PositionSide, leverage, openPrice, quantity float64) float64 {
	if side == types.PositionSideShort {
		return openPrice * (1 + 1/leverage - f.MaintenanceRate)
	}
	return openPrice * (1 - 1/leverage + f.MaintenanceRate)
}
