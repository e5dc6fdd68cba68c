package node

import (
	"context"
	"time"

	"github.com/quantflow/backtest-engine/internal/trading"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// FuturesOrderNode creates a market order whenever it observes an inbound
// Trigger/ConditionMatch, optionally attaching take-profit/stop-loss
// children that close the position once price crosses their levels, and
// routes every fill through the trading ledger (spec.md §4.5).
type FuturesOrderNode struct {
	*Base

	StrategyId types.StrategyId
	Exchange   string
	Symbol     string
	Side       types.FuturesOrderSide
	Quantity   float64
	Leverage   float64
	OrderConfigId string

	TakeProfitPrice *float64
	StopLossPrice   *float64

	ledger           *trading.Ledger
	availableBalance func() float64

	latestPrice float64
	openOrderId *types.OrderId
}

// NewFuturesOrderNode constructs a FuturesOrderNode trading Symbol on
// Exchange through ledger, using availableBalance to price margin.
func NewFuturesOrderNode(id types.NodeId, name types.NodeName, cmds CommandSender, ledger *trading.Ledger, availableBalance func() float64, strategyId types.StrategyId, exchange, symbol string, side types.FuturesOrderSide, quantity, leverage float64, orderConfigId string, isLeaf bool) *FuturesOrderNode {
	return &FuturesOrderNode{
		Base:             NewBase(id, name, types.NodeKindFuturesOrder, cmds, isLeaf),
		StrategyId:       strategyId,
		Exchange:         exchange,
		Symbol:           symbol,
		Side:             side,
		Quantity:         quantity,
		Leverage:         leverage,
		OrderConfigId:    orderConfigId,
		ledger:           ledger,
		availableBalance: availableBalance,
	}
}

func (n *FuturesOrderNode) Init(ctx context.Context) error { return nil }
func (n *FuturesOrderNode) Check(ctx context.Context) error { return nil }
func (n *FuturesOrderNode) Stop(ctx context.Context) error  { return nil }
func (n *FuturesOrderNode) Reset(ctx context.Context) error {
	n.openOrderId = nil
	n.latestPrice = 0
	return nil
}

// OnEvent tracks the symbol's latest price from KlineUpdate events, opens
// a market order on an inbound Trigger/ConditionMatch, and closes via
// TP/SL whenever the tracked price crosses a configured level.
func (n *FuturesOrderNode) OnEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventKlineUpdate:
		payload, ok := ev.Payload.(KlineUpdatePayload)
		if !ok || payload.Key.Symbol != n.Symbol {
			return nil
		}
		n.latestPrice = payload.Kline.Close
		n.checkTPSL(ev.CycleId, payload.Kline.Datetime)
	case EventTrigger, EventConditionMatch:
		n.openMarketOrder(ev.CycleId, ev.Datetime)
	}
	return nil
}

func (n *FuturesOrderNode) openMarketOrder(cycle types.SignalIndex, datetime time.Time) {
	if n.latestPrice == 0 {
		return
	}
	order := types.VirtualOrder{
		OrderId: types.NextOrderId(), StrategyId: n.StrategyId, NodeId: n.id, NodeName: n.name,
		OrderConfigId: n.OrderConfigId, Exchange: n.Exchange, Symbol: n.Symbol,
		Side: n.Side, Kind: types.OrderKindMarket, Quantity: n.Quantity, OpenPrice: n.latestPrice, CreateTime: datetime,
	}
	pos, err := n.ledger.Open(order, n.latestPrice, n.availableBalance(), n.Leverage, datetime)
	if err != nil {
		n.publish(Event{Kind: EventRunStateLog, SourceNode: n.id, SourceName: n.name, CycleId: cycle, Payload: err}, "")
		return
	}
	id := pos.PositionId
	n.openOrderId = &id
	n.publish(Event{
		Kind: EventOrderLifecycle, SourceNode: n.id, SourceName: n.name, CycleId: cycle, Symbol: n.Symbol, Datetime: datetime,
		Payload: OrderLifecyclePayload{Order: order, Filled: true},
	}, "")
	if n.IsLeaf() {
		n.publish(Event{Kind: EventExecuteOver, SourceNode: n.id, SourceName: n.name, CycleId: cycle}, "")
	}
}

func (n *FuturesOrderNode) checkTPSL(cycle types.SignalIndex, datetime time.Time) {
	if n.openOrderId == nil {
		return
	}
	pos := n.ledger.Position(n.StrategyId, n.Exchange, n.Symbol, n.Side.PositionSideOf())
	if pos == nil || pos.State != types.PositionOpen {
		n.openOrderId = nil
		return
	}

	closeSide := types.OrderSideCloseLong
	if n.Side.PositionSideOf() == types.PositionSideShort {
		closeSide = types.OrderSideCloseShort
	}

	var kind types.OrderKind
	crossed := false
	switch {
	case n.TakeProfitPrice != nil && tpCrossed(pos.Side, n.latestPrice, *n.TakeProfitPrice):
		kind, crossed = types.OrderKindTakeProfit, true
	case n.StopLossPrice != nil && slCrossed(pos.Side, n.latestPrice, *n.StopLossPrice):
		kind, crossed = types.OrderKindStopLoss, true
	}
	if !crossed {
		return
	}

	closeOrder := types.VirtualOrder{
		OrderId: types.NextOrderId(), PositionId: pos.PositionId, StrategyId: n.StrategyId, NodeId: n.id, NodeName: n.name,
		OrderConfigId: n.OrderConfigId, Exchange: n.Exchange, Symbol: n.Symbol,
		Side: closeSide, Kind: kind, Quantity: pos.Quantity, OpenPrice: n.latestPrice, CreateTime: datetime,
	}
	fullyClosed, txn, _, err := n.ledger.Close(closeOrder, n.availableBalance(), datetime)
	if err != nil {
		n.publish(Event{Kind: EventRunStateLog, SourceNode: n.id, SourceName: n.name, CycleId: cycle, Payload: err}, "")
		return
	}
	if fullyClosed {
		n.openOrderId = nil
	}
	n.publish(Event{
		Kind: EventOrderLifecycle, SourceNode: n.id, SourceName: n.name, CycleId: cycle, Symbol: n.Symbol, Datetime: datetime,
		Payload: OrderLifecyclePayload{Order: closeOrder, Filled: true, Transaction: &txn},
	}, "")
}

func tpCrossed(side types.PositionSide, price, level float64) bool {
	if side == types.PositionSideShort {
		return price <= level
	}
	return price >= level
}

func slCrossed(side types.PositionSide, price, level float64) bool {
	if side == types.PositionSideShort {
		return price >= level
	}
	return price <= level
}
