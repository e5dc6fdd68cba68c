package node

import (
	"context"

	"github.com/quantflow/backtest-engine/internal/interpolate"
	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// KlineNode runs the interpolation engine (C3): on every tick it resolves
// a candle for each configured (symbol, interval) pair, publishing it on
// that pair's handle, the node's default output, and its strategy output
// (spec.md §4.5).
type KlineNode struct {
	*Base

	Config        types.ExchangeModeConfig
	MinIntervals  map[string]types.Interval // symbol -> minimum configured interval
	engine        *interpolate.Engine
	trackers      map[string]*interpolate.TickTracker // symbol -> tracker
}

// NewKlineNode constructs a KlineNode over config, resolving candles via
// engine. minIntervals maps each selected symbol to its minimum configured
// interval (computed by the orchestrator from the full strategy graph).
func NewKlineNode(id types.NodeId, name types.NodeName, cmds CommandSender, engine *interpolate.Engine, config types.ExchangeModeConfig, minIntervals map[string]types.Interval, isLeaf bool) *KlineNode {
	return &KlineNode{
		Base:         NewBase(id, name, types.NodeKindKline, cmds, isLeaf),
		Config:       config,
		MinIntervals: minIntervals,
		engine:       engine,
		trackers:     make(map[string]*interpolate.TickTracker),
	}
}

func (n *KlineNode) Init(ctx context.Context) error {
	for _, sel := range n.Config.SelectedSymbols {
		if _, ok := n.MinIntervals[sel.Symbol]; !ok {
			return xerrors.New(xerrors.CodeNoMinIntervalSymbol, map[string]string{"symbol": sel.Symbol})
		}
		n.trackers[sel.Symbol] = &interpolate.TickTracker{}
	}
	return nil
}

func (n *KlineNode) Check(ctx context.Context) error {
	if len(n.Config.SelectedSymbols) == 0 {
		return xerrors.New(xerrors.CodeNodeCheckFailed, map[string]string{"node": string(n.id), "reason": "no selected symbols"})
	}
	return nil
}

func (n *KlineNode) Stop(ctx context.Context) error { return nil }

func (n *KlineNode) Reset(ctx context.Context) error {
	for sym := range n.trackers {
		n.trackers[sym].Reset()
	}
	return nil
}

// OnEvent handles the Start node's per-tick trigger, resolving and
// publishing a candle for every configured symbol/interval.
func (n *KlineNode) OnEvent(ctx context.Context, ev Event) error {
	if ev.Kind != EventTrigger {
		return nil
	}
	playIndex := int(ev.CycleId)
	for _, tracker := range n.trackers {
		tracker.Reset()
	}

	for _, sel := range n.Config.SelectedSymbols {
		minInterval := n.MinIntervals[sel.Symbol]
		minKey := types.KlineKey{Exchange: n.Config.Exchange, Symbol: sel.Symbol, Interval: minInterval}

		resp, err := n.SendCommand(ctx, NewCommand(CmdGetKlineData, n.id, GetKlineDataPayload{Key: minKey, Index: intPtr(playIndex), Limit: intPtr(1)}))
		if err != nil || !resp.Success {
			continue
		}
		if len(resp.KlineSeries) == 0 {
			continue
		}
		minKline := resp.KlineSeries[0]

		if sel.Interval == minInterval {
			tracker := n.trackers[sel.Symbol]
			if tracker != nil {
				if _, terr := tracker.Observe(minKline.Datetime.UnixMilli()); terr != nil {
					n.publishRunStateLog(ev.CycleId, terr)
					continue
				}
			}
			n.publishKline(ev.CycleId, sel, minKey, minKline, false)
			continue
		}

		targetKey := types.KlineKey{Exchange: n.Config.Exchange, Symbol: sel.Symbol, Interval: sel.Interval}
		resolved, rerr := n.engine.Resolve(targetKey, playIndex, minKline)
		if rerr != nil {
			n.publishRunStateLog(ev.CycleId, rerr)
			continue
		}
		n.publishKline(ev.CycleId, sel, targetKey, resolved, true)
	}

	if n.IsLeaf() {
		n.publish(Event{Kind: EventExecuteOver, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId}, "")
	}
	return nil
}

func (n *KlineNode) publishKline(cycle types.SignalIndex, sel types.SymbolSelection, key types.KlineKey, k types.Kline, interpolated bool) {
	n.publish(Event{
		Kind:       EventKlineUpdate,
		SourceNode: n.id,
		SourceName: n.name,
		CycleId:    cycle,
		Symbol:     sel.Symbol,
		Datetime:   k.Datetime,
		Payload:    KlineUpdatePayload{Key: key, Kline: k, WasInterpolated: interpolated},
	}, sel.HandleId)
}

func (n *KlineNode) publishRunStateLog(cycle types.SignalIndex, err error) {
	n.publish(Event{
		Kind:       EventRunStateLog,
		SourceNode: n.id,
		SourceName: n.name,
		CycleId:    cycle,
		Payload:    err,
	}, "")
}

func intPtr(i int) *int { return &i }
