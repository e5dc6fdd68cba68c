package trading

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// epsilon mirrors the original f64::EPSILON-based quantity comparisons.
const epsilon = 2.220446049250313e-16

// OverQtyPolicy controls what happens when a TP/SL order's quantity
// exceeds the position's remaining quantity.
type OverQtyPolicy int

const (
	// LenientOverQtyClose closes the position fully, matching spec.md §9's
	// chosen resolution; no warning is logged. This is the default.
	LenientOverQtyClose OverQtyPolicy = iota
	// StrictOverQtyClose rejects the order instead of closing leniently.
	StrictOverQtyClose
)

// positionKey identifies one open position slot: a strategy only ever
// holds one open position per (exchange, symbol, side).
type positionKey struct {
	StrategyId types.StrategyId
	Exchange   string
	Symbol     string
	Side       types.PositionSide
}

func (k positionKey) String() string {
	return fmt.Sprintf("%d:%s:%s:%s", k.StrategyId, k.Exchange, k.Symbol, k.Side)
}

// Ledger tracks simulated positions for one strategy run and applies
// orders to them, producing realized transactions (spec.md §4.2).
type Ledger struct {
	mu        sync.Mutex
	formula   Formula
	overQty   OverQtyPolicy
	positions map[positionKey]*types.VirtualPosition
}

// NewLedger constructs a Ledger using formula for margin accounting.
func NewLedger(formula Formula) *Ledger {
	return &Ledger{
		formula:   formula,
		overQty:   LenientOverQtyClose,
		positions: make(map[positionKey]*types.VirtualPosition),
	}
}

// WithOverQtyPolicy sets the policy for TP/SL orders that exceed the
// position's quantity and returns the ledger for chaining.
func (l *Ledger) WithOverQtyPolicy(p OverQtyPolicy) *Ledger {
	l.overQty = p
	return l
}

// Position returns the current open position for the given key, or nil.
func (l *Ledger) Position(strategyId types.StrategyId, exchange, symbol string, side types.PositionSide) *types.VirtualPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[positionKey{strategyId, exchange, symbol, side}]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Open applies a Market open/add order to the ledger. If no open position
// exists for (strategy, exchange, symbol, side), one is created; otherwise
// the order is merged into the existing position via weighted-average
// open price. An order for the side opposite an open position is rejected
// with CodeOnlyOneDirectionSupported. availableBalance feeds the
// margin-ratio formula.
func (l *Ledger) Open(order types.VirtualOrder, currentPrice, availableBalance, leverage float64, datetime time.Time) (*types.VirtualPosition, error) {
	if !order.Side.IsOpen() {
		return nil, xerrors.New(xerrors.CodeOnlyOneDirectionSupported, map[string]string{"side": string(order.Side)})
	}
	side := order.Side.PositionSideOf()
	key := positionKey{order.StrategyId, order.Exchange, order.Symbol, side}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, exists := l.positions[key]
	if !exists || pos.State != types.PositionOpen {
		opposite := types.PositionSideShort
		if side == types.PositionSideShort {
			opposite = types.PositionSideLong
		}
		if other, ok := l.positions[positionKey{order.StrategyId, order.Exchange, order.Symbol, opposite}]; ok && other.State == types.PositionOpen {
			return nil, xerrors.New(xerrors.CodeOnlyOneDirectionSupported, map[string]string{
				"orderSide": string(order.Side), "positionSide": string(other.Side),
			})
		}
		margin := l.formula.Margin(leverage, currentPrice, order.Quantity)
		marginRatio := l.formula.MarginRatio(availableBalance, leverage, currentPrice, order.Quantity)
		forcePrice := l.formula.ForcePrice(side, leverage, currentPrice, order.Quantity)
		newPos := &types.VirtualPosition{
			PositionId:   types.NextPositionId(),
			StrategyId:   order.StrategyId,
			Exchange:     order.Exchange,
			Symbol:       order.Symbol,
			Side:         side,
			State:        types.PositionOpen,
			Quantity:     order.Quantity,
			OpenPrice:    currentPrice,
			CurrentPrice: currentPrice,
			Leverage:     leverage,
			ForcePrice:   forcePrice,
			Margin:       margin,
			MarginRatio:  marginRatio,
			CreateTime:   datetime,
			UpdateTime:   datetime,
		}
		l.positions[key] = newPos
		cp := *newPos
		return &cp, nil
	}

	newTotalQty := pos.Quantity + order.Quantity
	newOpenPrice := (pos.OpenPrice*pos.Quantity + currentPrice*order.Quantity) / newTotalQty

	pos.Quantity = newTotalQty
	pos.OpenPrice = newOpenPrice
	pos.CurrentPrice = currentPrice
	pos.UpdateTime = datetime
	pos.UnrealizedPnl = types.UnrealizedPnLFor(pos.Side, pos.Quantity, pos.OpenPrice, pos.CurrentPrice)
	pos.ROI = pos.UnrealizedPnl / (pos.OpenPrice * pos.Quantity)
	pos.Margin = l.formula.Margin(leverage, currentPrice, pos.Quantity)
	pos.MarginRatio = l.formula.MarginRatio(availableBalance, leverage, currentPrice, pos.Quantity)
	pos.ForcePrice = l.formula.ForcePrice(pos.Side, leverage, pos.OpenPrice, pos.Quantity)

	cp := *pos
	return &cp, nil
}

// Close applies a take-profit or stop-loss order against the matching open
// position. Returns the fully-closed flag, the resulting transaction, and
// the (possibly still-open) position snapshot after the close.
func (l *Ledger) Close(order types.VirtualOrder, availableBalance float64, datetime time.Time) (fullyClosed bool, txn types.VirtualTransaction, pos *types.VirtualPosition, err error) {
	side := order.Side.PositionSideOf()
	key := positionKey{order.StrategyId, order.Exchange, order.Symbol, side}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, exists := l.positions[key]
	if !exists || p.State != types.PositionOpen {
		return false, types.VirtualTransaction{}, nil, xerrors.New(xerrors.CodePositionNotFound, map[string]string{
			"symbol": order.Symbol, "side": string(side),
		})
	}

	p.CurrentPrice = order.OpenPrice
	p.UpdateTime = datetime

	switch {
	case math.Abs(order.Quantity-p.Quantity) < epsilon:
		fullyClosed = true
		realized := types.UnrealizedPnLFor(p.Side, p.Quantity, p.OpenPrice, p.CurrentPrice)
		txn = newTransaction(order, realized, datetime)
		closePosition(p)
	case order.Quantity < p.Quantity:
		fullyClosed = false
		realized := types.UnrealizedPnLFor(p.Side, order.Quantity, p.OpenPrice, p.CurrentPrice)
		p.Quantity -= order.Quantity
		p.UnrealizedPnl = types.UnrealizedPnLFor(p.Side, p.Quantity, p.OpenPrice, p.CurrentPrice)
		p.ROI = p.UnrealizedPnl / (p.OpenPrice * p.Quantity)
		p.Margin = l.formula.Margin(p.Leverage, p.CurrentPrice, p.Quantity)
		p.MarginRatio = l.formula.MarginRatio(availableBalance, p.Leverage, p.CurrentPrice, p.Quantity)
		p.ForcePrice = l.formula.ForcePrice(p.Side, p.Leverage, p.OpenPrice, p.Quantity)
		txn = newTransaction(order, realized, datetime)
	default:
		// order quantity exceeds the position: lenient policy closes fully
		// and reports the full position's PnL; strict policy rejects.
		if l.overQty == StrictOverQtyClose {
			return false, types.VirtualTransaction{}, nil, xerrors.New(xerrors.CodeCloseQuantityExceedsPosition, map[string]string{
				"orderQuantity": fmt.Sprintf("%v", order.Quantity), "positionQuantity": fmt.Sprintf("%v", p.Quantity),
			})
		}
		fullyClosed = true
		realized := types.UnrealizedPnLFor(p.Side, p.Quantity, p.OpenPrice, p.CurrentPrice)
		txn = newTransaction(order, realized, datetime)
		closePosition(p)
	}

	cp := *p
	return fullyClosed, txn, &cp, nil
}

func closePosition(p *types.VirtualPosition) {
	p.State = types.PositionClosed
	p.UnrealizedPnl = types.UnrealizedPnLFor(p.Side, p.Quantity, p.OpenPrice, p.CurrentPrice)
	if p.OpenPrice != 0 && p.Quantity != 0 {
		p.ROI = p.UnrealizedPnl / (p.OpenPrice * p.Quantity)
	}
	p.ForcePrice = 0
	p.Margin = 0
	p.MarginRatio = 0
	p.Quantity = 0
}

func newTransaction(order types.VirtualOrder, realizedPnl float64, datetime time.Time) types.VirtualTransaction {
	return types.VirtualTransaction{
		OrderId:       order.OrderId,
		PositionId:    order.PositionId,
		StrategyId:    order.StrategyId,
		NodeId:        order.NodeId,
		NodeName:      order.NodeName,
		OrderConfigId: order.OrderConfigId,
		Exchange:      order.Exchange,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         order.OpenPrice,
		RealizedPnl:   realizedPnl,
		Datetime:      datetime,
	}
}

// MarkToMarket updates the open position for (strategy, exchange, symbol,
// side) against a new price tick, recomputing unrealized PnL, ROI, margin,
// margin ratio and forced-liquidation price.
func (l *Ledger) MarkToMarket(strategyId types.StrategyId, exchange, symbol string, side types.PositionSide, price, availableBalance float64, datetime time.Time) *types.VirtualPosition {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, exists := l.positions[positionKey{strategyId, exchange, symbol, side}]
	if !exists || p.State != types.PositionOpen {
		return nil
	}

	p.CurrentPrice = price
	p.UpdateTime = datetime
	p.UnrealizedPnl = types.UnrealizedPnLFor(p.Side, p.Quantity, p.OpenPrice, price)
	p.ROI = p.UnrealizedPnl / (p.OpenPrice * p.Quantity)
	p.Margin = l.formula.Margin(p.Leverage, price, p.Quantity)
	p.MarginRatio = l.formula.MarginRatio(availableBalance, p.Leverage, price, p.Quantity)
	p.ForcePrice = l.formula.ForcePrice(p.Side, p.Leverage, p.OpenPrice, p.Quantity)

	cp := *p
	return &cp
}

// Reset clears all tracked positions, matching a strategy-level reset.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[positionKey]*types.VirtualPosition)
}
