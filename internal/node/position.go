package node

import (
	"context"

	"github.com/quantflow/backtest-engine/internal/trading"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// PositionNode projects the trading ledger's mark-to-market updates for
// one (exchange, symbol, side) into its downstream fan-out (spec.md
// §4.5), re-pricing on every KlineUpdate tick for its symbol.
type PositionNode struct {
	*Base

	StrategyId       types.StrategyId
	Exchange         string
	Symbol           string
	Side             types.PositionSide
	ledger           *trading.Ledger
	availableBalance func() float64
}

// NewPositionNode constructs a PositionNode tracking (exchange, symbol,
// side)'s open position in ledger.
func NewPositionNode(id types.NodeId, name types.NodeName, cmds CommandSender, ledger *trading.Ledger, availableBalance func() float64, strategyId types.StrategyId, exchange, symbol string, side types.PositionSide, isLeaf bool) *PositionNode {
	return &PositionNode{
		Base: NewBase(id, name, types.NodeKindPosition, cmds, isLeaf),
		StrategyId: strategyId, Exchange: exchange, Symbol: symbol, Side: side,
		ledger: ledger, availableBalance: availableBalance,
	}
}

func (n *PositionNode) Init(ctx context.Context) error  { return nil }
func (n *PositionNode) Check(ctx context.Context) error { return nil }
func (n *PositionNode) Stop(ctx context.Context) error  { return nil }
func (n *PositionNode) Reset(ctx context.Context) error { return nil }

// OnEvent re-prices the tracked position on every KlineUpdate for its
// symbol and republishes its current snapshot.
func (n *PositionNode) OnEvent(ctx context.Context, ev Event) error {
	if ev.Kind != EventKlineUpdate {
		return nil
	}
	payload, ok := ev.Payload.(KlineUpdatePayload)
	if !ok || payload.Key.Symbol != n.Symbol {
		return nil
	}

	pos := n.ledger.MarkToMarket(n.StrategyId, n.Exchange, n.Symbol, n.Side, payload.Kline.Close, n.availableBalance(), payload.Kline.Datetime)
	if pos == nil {
		return nil
	}

	n.publish(Event{
		Kind: EventPositionUpdate, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId, Symbol: n.Symbol, Datetime: payload.Kline.Datetime,
		Payload: PositionLifecyclePayload{Position: *pos},
	}, "")

	if n.IsLeaf() {
		n.publish(Event{Kind: EventExecuteOver, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId}, "")
	}
	return nil
}
