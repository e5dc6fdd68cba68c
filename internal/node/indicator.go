package node

import (
	"context"

	"github.com/quantflow/backtest-engine/internal/indicator"
	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// IndicatorNode computes a pluggable technical indicator over a window of
// the closes it has received from its upstream Kline node and republishes
// the result (spec.md §4.5): extend the in-memory window, invoke Func,
// write back to C1, emit. The window is kept by the node itself; it is not
// read back from C1.
type IndicatorNode struct {
	*Base

	Key    types.IndicatorKey
	Window int
	fn     indicator.Func

	closes []float64
}

// NewIndicatorNode constructs an IndicatorNode computing key.Config's
// function over the last `window` closes it observes.
func NewIndicatorNode(id types.NodeId, name types.NodeName, cmds CommandSender, key types.IndicatorKey, window int, isLeaf bool) *IndicatorNode {
	return &IndicatorNode{
		Base:   NewBase(id, name, types.NodeKindIndicator, cmds, isLeaf),
		Key:    key,
		Window: window,
	}
}

func (n *IndicatorNode) Init(ctx context.Context) error {
	fn, ok := indicator.Lookup(n.Key.Config.Name)
	if !ok {
		return xerrors.New(xerrors.CodeNodeInitFailed, map[string]string{"indicator": n.Key.Config.Name})
	}
	n.fn = fn
	n.closes = n.closes[:0]
	return nil
}

func (n *IndicatorNode) Check(ctx context.Context) error {
	if n.fn == nil {
		return xerrors.New(xerrors.CodeNodeCheckFailed, map[string]string{"node": string(n.id)})
	}
	return nil
}

func (n *IndicatorNode) Stop(ctx context.Context) error { return nil }

func (n *IndicatorNode) Reset(ctx context.Context) error {
	n.closes = n.closes[:0]
	return nil
}

// OnEvent consumes a KlineUpdate from the upstream Kline node, extends the
// close-price window, and — once enough data has accumulated — computes
// and publishes the indicator value.
func (n *IndicatorNode) OnEvent(ctx context.Context, ev Event) error {
	if ev.Kind != EventKlineUpdate {
		return nil
	}
	payload, ok := ev.Payload.(KlineUpdatePayload)
	if !ok {
		return nil
	}
	n.closes = append(n.closes, payload.Kline.Close)
	if n.Window > 0 && len(n.closes) > n.Window {
		n.closes = n.closes[len(n.closes)-n.Window:]
	}

	values, err := n.fn(n.closes, n.Key.Config.Params)
	if err != nil {
		n.publish(Event{Kind: EventRunStateLog, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId, Payload: err}, "")
		return nil
	}

	value := types.IndicatorValue{Datetime: payload.Kline.Datetime, Values: values}

	if _, err := n.SendCommand(ctx, NewCommand(CmdUpdateKlineData, n.id, UpdateIndicatorPayload{Key: n.Key, Value: value})); err != nil {
		return nil
	}

	n.publish(Event{
		Kind:       EventIndicatorUpdate,
		SourceNode: n.id,
		SourceName: n.name,
		CycleId:    ev.CycleId,
		Symbol:     n.Key.Symbol,
		Datetime:   value.Datetime,
		Payload:    IndicatorUpdatePayload{Key: n.Key, Value: value},
	}, "")

	if n.IsLeaf() {
		n.publish(Event{Kind: EventExecuteOver, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId}, "")
	}
	return nil
}

// UpdateIndicatorPayload persists a computed indicator point to C1.
type UpdateIndicatorPayload struct {
	Key   types.IndicatorKey
	Value types.IndicatorValue
}
