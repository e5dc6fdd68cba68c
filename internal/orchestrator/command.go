package orchestrator

import (
	"context"
	"time"

	"github.com/quantflow/backtest-engine/internal/node"
	"github.com/quantflow/backtest-engine/internal/store"
	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// CommandRouter implements node.CommandSender (spec.md §4.4), routing every
// node command to the shared value store (C1), the strategy's resolved
// minimum-interval table, and its node registry (for NodeReset dispatch).
// One CommandRouter serves an entire strategy run.
type CommandRouter struct {
	store        *store.Store
	minIntervals map[string]types.Interval // symbol -> minimum configured interval across the graph
	nodes        map[types.NodeId]node.Node
	now          func() time.Time
}

// NewCommandRouter constructs a CommandRouter over s, resolving a symbol's
// minimum interval from minIntervals and NodeReset targets from nodes.
func NewCommandRouter(s *store.Store, minIntervals map[string]types.Interval, nodes map[types.NodeId]node.Node, now func() time.Time) *CommandRouter {
	return &CommandRouter{store: s, minIntervals: minIntervals, nodes: nodes, now: now}
}

// Send dispatches cmd synchronously and returns its response. Commands are
// strictly request/response (spec.md §4.4): the caller must await this
// result before issuing a dependent follow-up.
func (r *CommandRouter) Send(ctx context.Context, cmd node.Command) (node.CommandResponse, error) {
	if err := ctx.Err(); err != nil {
		return node.CommandResponse{Err: err}, err
	}
	resp := r.handle(cmd)
	if resp.Err != nil {
		return resp, resp.Err
	}
	return resp, nil
}

func (r *CommandRouter) handle(cmd node.Command) node.CommandResponse {
	switch cmd.Kind {
	case node.CmdGetKlineData:
		p, ok := cmd.Payload.(node.GetKlineDataPayload)
		if !ok {
			return node.CommandResponse{Err: xerrors.New(xerrors.CodeNodeNotFound, map[string]string{"command": string(cmd.Kind)})}
		}
		items, err := r.store.Slice(p.Key.String(), p.Index, p.Limit)
		if err != nil {
			return node.CommandResponse{Err: err}
		}
		return node.CommandResponse{Success: true, KlineSeries: toKlines(items)}

	case node.CmdUpdateKlineData:
		switch p := cmd.Payload.(type) {
		case node.UpdateKlineDataPayload:
			r.store.Update(p.Key.String(), p.Kline)
			return node.CommandResponse{Success: true}
		case node.UpdateIndicatorPayload:
			r.store.Update(p.Key.String(), p.Value)
			return node.CommandResponse{Success: true}
		default:
			return node.CommandResponse{Err: xerrors.New(xerrors.CodeNodeNotFound, map[string]string{"command": string(cmd.Kind)})}
		}

	case node.CmdAppendKlineData:
		p, ok := cmd.Payload.(node.AppendKlineDataPayload)
		if !ok {
			return node.CommandResponse{Err: xerrors.New(xerrors.CodeNodeNotFound, map[string]string{"command": string(cmd.Kind)})}
		}
		r.store.Append(p.Key.String(), toItems(p.Klines))
		return node.CommandResponse{Success: true}

	case node.CmdInitKlineData:
		p, ok := cmd.Payload.(node.InitKlineDataPayload)
		if !ok {
			return node.CommandResponse{Err: xerrors.New(xerrors.CodeNodeNotFound, map[string]string{"command": string(cmd.Kind)})}
		}
		r.store.Init(p.Key.String(), toItems(p.Klines))
		return node.CommandResponse{Success: true}

	case node.CmdGetMinInterval:
		p, ok := cmd.Payload.(node.GetMinIntervalPayload)
		if !ok {
			return node.CommandResponse{Err: xerrors.New(xerrors.CodeNoMinIntervalSymbol, nil)}
		}
		interval, ok := r.minIntervals[p.Symbol]
		if !ok {
			return node.CommandResponse{Err: xerrors.New(xerrors.CodeNoMinIntervalSymbol, map[string]string{"symbol": p.Symbol})}
		}
		return node.CommandResponse{Success: true, MinInterval: interval}

	case node.CmdGetMinIntervalSymbols:
		keys := make([]types.KlineKey, 0, len(r.minIntervals))
		for sym, interval := range r.minIntervals {
			keys = append(keys, types.KlineKey{Symbol: sym, Interval: interval})
		}
		return node.CommandResponse{Success: true, MinIntervalKeys: keys}

	case node.CmdGetCurrentTime:
		return node.CommandResponse{Success: true, CurrentTime: r.now()}

	case node.CmdNodeReset:
		target, ok := r.nodes[cmd.NodeId]
		if !ok {
			return node.CommandResponse{Err: xerrors.New(xerrors.CodeNodeNotFound, map[string]string{"node": string(cmd.NodeId)})}
		}
		if err := target.Reset(context.Background()); err != nil {
			return node.CommandResponse{Err: err}
		}
		return node.CommandResponse{Success: true}

	default:
		return node.CommandResponse{Err: xerrors.New(xerrors.CodeNodeNotFound, map[string]string{"command": string(cmd.Kind)})}
	}
}

func toItems(klines []types.Kline) []store.Item {
	items := make([]store.Item, len(klines))
	for i, k := range klines {
		items[i] = k
	}
	return items
}

func toKlines(items []store.Item) []types.Kline {
	out := make([]types.Kline, len(items))
	for i, it := range items {
		out[i] = it.(types.Kline)
	}
	return out
}
