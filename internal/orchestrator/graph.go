package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quantflow/backtest-engine/internal/interpolate"
	"github.com/quantflow/backtest-engine/internal/node"
	"github.com/quantflow/backtest-engine/internal/trading"
	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// Graph is a built strategy run: every node instantiated from a
// types.StrategyConfig, its topological order, and its leaf set (spec.md
// §4.5's node catalogue wired per §4.7's graph-construction rules).
type Graph struct {
	Nodes        map[types.NodeId]node.Node
	Order        []types.NodeId // topological, upstream first
	Leaves       []types.NodeId
	Edges        []types.EdgeConfig
	MinIntervals map[string]types.Interval
	Step         types.Interval
	Start        *node.StartNode
}

func decodeData(data types.RawNodeData, out interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNodeInitFailed, err, nil)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return xerrors.Wrap(xerrors.CodeNodeInitFailed, err, nil)
	}
	return nil
}

type klineNodeData struct {
	Exchange        string                   `json:"exchange"`
	Account         string                   `json:"account"`
	SelectedSymbols []types.SymbolSelection `json:"selectedSymbols"`
}

type operandData struct {
	UpstreamNode types.NodeId `json:"upstreamNode"`
	Field        string       `json:"field"`
	Literal      *float64     `json:"literal"`
}

func (o operandData) toOperand() node.Operand {
	return node.Operand{UpstreamNode: o.UpstreamNode, Field: o.Field, Literal: o.Literal}
}

type conditionData struct {
	Operator node.Operator `json:"operator"`
	Lhs      operandData   `json:"lhs"`
	Rhs      operandData   `json:"rhs"`
}

type caseData struct {
	CaseId     string          `json:"caseId"`
	Logic      node.Logic      `json:"logic"`
	Conditions []conditionData `json:"conditions"`
}

type ifElseNodeData struct {
	Upstreams []types.NodeId `json:"upstreams"`
	Cases     []caseData     `json:"cases"`
}

type indicatorNodeData struct {
	Exchange      string             `json:"exchange"`
	Symbol        string             `json:"symbol"`
	Interval      types.Interval     `json:"interval"`
	IndicatorName string             `json:"indicatorName"`
	Params        map[string]float64 `json:"params"`
	Window        int                `json:"window"`
}

type futuresOrderNodeData struct {
	Exchange        string                 `json:"exchange"`
	Symbol          string                 `json:"symbol"`
	Side            types.FuturesOrderSide `json:"side"`
	Quantity        float64                `json:"quantity"`
	Leverage        float64                `json:"leverage"`
	OrderConfigId   string                 `json:"orderConfigId"`
	TakeProfitPrice *float64               `json:"takeProfitPrice"`
	StopLossPrice   *float64               `json:"stopLossPrice"`
}

type positionNodeData struct {
	Exchange string             `json:"exchange"`
	Symbol   string             `json:"symbol"`
	Side     types.PositionSide `json:"side"`
}

type variableNodeData struct {
	Variable types.CustomVariable `json:"variable"`
	Op       node.VarOp           `json:"op"`
	Operand  operandData          `json:"operand"`
}

// BuildGraph constructs every node in cfg, resolving each Kline node's
// per-symbol minimum interval across the whole graph before wiring any
// node that depends on it (spec.md §4.3's "minimum interval" concept).
func BuildGraph(cfg types.StrategyConfig, cmds node.CommandSender, ledger *trading.Ledger, availableBalance func() float64, engine *interpolate.Engine) (*Graph, error) {
	hasOutgoing := make(map[types.NodeId]bool, len(cfg.Nodes))
	for _, e := range cfg.Edges {
		hasOutgoing[e.Source] = true
	}
	isLeaf := func(id types.NodeId) bool { return !hasOutgoing[id] }

	minIntervals, step, err := resolveMinIntervals(cfg.Nodes)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Nodes:        make(map[types.NodeId]node.Node, len(cfg.Nodes)),
		Edges:        cfg.Edges,
		MinIntervals: minIntervals,
		Step:         step,
	}

	stepDuration, err := interpolate.Duration(step)
	if err != nil && step != "" {
		return nil, xerrors.Wrap(xerrors.CodeTimeRangeNotConfigured, err, nil)
	}

	for _, nc := range cfg.Nodes {
		leaf := isLeaf(nc.Id)
		n, err := buildOne(nc, cfg, leaf, cmds, ledger, availableBalance, engine, minIntervals, stepDuration)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}
		g.Nodes[nc.Id] = n
		if nc.Type == types.NodeKindStart {
			g.Start = n.(*node.StartNode)
		}
		if leaf {
			g.Leaves = append(g.Leaves, nc.Id)
		}
	}

	order, err := topoSort(cfg.Nodes, cfg.Edges)
	if err != nil {
		return nil, err
	}
	g.Order = order
	return g, nil
}

func buildOne(nc types.NodeConfig, cfg types.StrategyConfig, leaf bool, cmds node.CommandSender, ledger *trading.Ledger, availableBalance func() float64, engine *interpolate.Engine, minIntervals map[string]types.Interval, step time.Duration) (node.Node, error) {
	switch nc.Type {
	case types.NodeKindStart:
		return node.NewStartNode(nc.Id, nc.Name, cmds, cfg.StartTime, cfg.EndTime, step), nil

	case types.NodeKindKline:
		var data klineNodeData
		if err := decodeData(nc.Data, &data); err != nil {
			return nil, err
		}
		config := types.ExchangeModeConfig{
			Exchange: data.Exchange, Account: data.Account,
			SelectedSymbols: data.SelectedSymbols,
			StartTime:       cfg.StartTime, EndTime: cfg.EndTime,
		}
		return node.NewKlineNode(nc.Id, nc.Name, cmds, engine, config, minIntervals, leaf), nil

	case types.NodeKindIndicator:
		var data indicatorNodeData
		if err := decodeData(nc.Data, &data); err != nil {
			return nil, err
		}
		key := types.IndicatorKey{
			Exchange: data.Exchange, Symbol: data.Symbol, Interval: data.Interval,
			Config: types.IndicatorConfig{Name: data.IndicatorName, Params: data.Params},
		}
		return node.NewIndicatorNode(nc.Id, nc.Name, cmds, key, data.Window, leaf), nil

	case types.NodeKindIfElse:
		var data ifElseNodeData
		if err := decodeData(nc.Data, &data); err != nil {
			return nil, err
		}
		cases := make([]node.Case, len(data.Cases))
		for i, c := range data.Cases {
			conds := make([]node.Condition, len(c.Conditions))
			for j, cond := range c.Conditions {
				conds[j] = node.Condition{Operator: cond.Operator, Lhs: cond.Lhs.toOperand(), Rhs: cond.Rhs.toOperand()}
			}
			cases[i] = node.Case{CaseId: c.CaseId, Logic: c.Logic, Conditions: conds}
		}
		return node.NewIfElseNode(nc.Id, nc.Name, cmds, data.Upstreams, cases, leaf), nil

	case types.NodeKindFuturesOrder:
		var data futuresOrderNodeData
		if err := decodeData(nc.Data, &data); err != nil {
			return nil, err
		}
		n := node.NewFuturesOrderNode(nc.Id, nc.Name, cmds, ledger, availableBalance, cfg.StrategyId, data.Exchange, data.Symbol, data.Side, data.Quantity, data.Leverage, data.OrderConfigId, leaf)
		n.TakeProfitPrice = data.TakeProfitPrice
		n.StopLossPrice = data.StopLossPrice
		return n, nil

	case types.NodeKindPosition:
		var data positionNodeData
		if err := decodeData(nc.Data, &data); err != nil {
			return nil, err
		}
		return node.NewPositionNode(nc.Id, nc.Name, cmds, ledger, availableBalance, cfg.StrategyId, data.Exchange, data.Symbol, data.Side, leaf), nil

	case types.NodeKindVariable:
		var data variableNodeData
		if err := decodeData(nc.Data, &data); err != nil {
			return nil, err
		}
		return node.NewVariableNode(nc.Id, nc.Name, cmds, data.Variable, data.Op, data.Operand.toOperand(), leaf), nil

	default:
		return nil, xerrors.New(xerrors.CodeNodeInitFailed, map[string]string{"kind": string(nc.Type)})
	}
}

// resolveMinIntervals scans every Kline node's selected symbols and returns,
// per symbol, the shortest configured interval, plus the strategy-wide
// minimum (the Start node's tick step).
func resolveMinIntervals(nodes []types.NodeConfig) (map[string]types.Interval, types.Interval, error) {
	min := make(map[string]types.Interval)
	minDur := make(map[string]time.Duration)
	var globalMin types.Interval
	var globalMinDur time.Duration

	for _, nc := range nodes {
		if nc.Type != types.NodeKindKline {
			continue
		}
		var data klineNodeData
		if err := decodeData(nc.Data, &data); err != nil {
			return nil, "", err
		}
		for _, sel := range data.SelectedSymbols {
			d, err := interpolate.Duration(sel.Interval)
			if err != nil {
				return nil, "", xerrors.Wrap(xerrors.CodeNoMinIntervalSymbol, err, map[string]string{"symbol": sel.Symbol})
			}
			if cur, ok := minDur[sel.Symbol]; !ok || d < cur {
				minDur[sel.Symbol] = d
				min[sel.Symbol] = sel.Interval
			}
			if globalMinDur == 0 || d < globalMinDur {
				globalMinDur = d
				globalMin = sel.Interval
			}
		}
	}
	return min, globalMin, nil
}

// topoSort orders nodes upstream-first via Kahn's algorithm, returning
// CodeNodeCycleDetected if the edge set contains a cycle.
func topoSort(nodes []types.NodeConfig, edges []types.EdgeConfig) ([]types.NodeId, error) {
	indegree := make(map[types.NodeId]int, len(nodes))
	adj := make(map[types.NodeId][]types.NodeId, len(nodes))
	for _, nc := range nodes {
		indegree[nc.Id] = 0
	}
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
		indegree[e.Target]++
	}

	queue := make([]types.NodeId, 0, len(nodes))
	for _, nc := range nodes {
		if indegree[nc.Id] == 0 {
			queue = append(queue, nc.Id)
		}
	}

	order := make([]types.NodeId, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, xerrors.New(xerrors.CodeNodeCycleDetected, nil)
	}
	return order, nil
}

// Wire subscribes every edge's target to its source's named output handle,
// forwarding events until ctx is canceled. Each edge runs its own forwarder
// goroutine so a slow target never blocks its siblings (spec.md §4.4's
// fan-out contract).
func (g *Graph) Wire(ctx context.Context) {
	for _, e := range g.Edges {
		source, ok := g.Nodes[e.Source]
		if !ok {
			continue
		}
		target, ok := g.Nodes[e.Target]
		if !ok {
			continue
		}
		handleId := e.SourceHandle
		if handleId == "" {
			handleId = "default"
		}
		recv := source.Output(handleId).Subscribe()
		go forwardEdge(ctx, recv, target)
	}
}

func forwardEdge(ctx context.Context, recv *node.Receiver, target node.Node) {
	defer recv.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-recv.C():
			_ = target.OnEvent(ctx, ev)
		}
	}
}
