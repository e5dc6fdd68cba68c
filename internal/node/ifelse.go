package node

import (
	"context"
	"math"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// Operator is a condition's comparison operator (spec.md §4.5).
type Operator string

const (
	OpLT Operator = "<"
	OpGT Operator = ">"
	OpEQ Operator = "="
	OpNE Operator = "≠"
	OpLE Operator = "≤"
	OpGE Operator = "≥"
)

// Logic combines a case's conditions.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Operand is either a named field on the latest value from a specific
// upstream node, or a literal constant.
type Operand struct {
	UpstreamNode types.NodeId
	Field        string
	Literal      *float64
}

// resolve returns operand's numeric value given the node's latest observed
// upstream values, or ok=false if unresolved (e.g. upstream hasn't
// reported yet, or the named field is absent) — per spec.md §4.5, an
// unresolved operand makes its condition (and thus its case) false.
func (o Operand) resolve(latest map[types.NodeId]map[string]float64) (float64, bool) {
	if o.Literal != nil {
		return *o.Literal, true
	}
	fields, ok := latest[o.UpstreamNode]
	if !ok {
		return 0, false
	}
	v, ok := fields[o.Field]
	return v, ok
}

// Condition is one comparison within a Case.
type Condition struct {
	Operator Operator
	Lhs      Operand
	Rhs      Operand
}

func (c Condition) eval(latest map[types.NodeId]map[string]float64) bool {
	lhs, lok := c.Lhs.resolve(latest)
	rhs, rok := c.Rhs.resolve(latest)
	if !lok || !rok {
		return false
	}
	const epsilon = 2.220446049250313e-16
	switch c.Operator {
	case OpLT:
		return lhs < rhs
	case OpGT:
		return lhs > rhs
	case OpEQ:
		return math.Abs(lhs-rhs) < epsilon
	case OpNE:
		return math.Abs(lhs-rhs) >= epsilon
	case OpLE:
		return lhs < rhs || math.Abs(lhs-rhs) < epsilon
	case OpGE:
		return lhs > rhs || math.Abs(lhs-rhs) < epsilon
	default:
		return false
	}
}

// Case is one branch of an IfElse node: its Logic combines its Conditions
// with short-circuit And/Or semantics.
type Case struct {
	CaseId     string
	Logic      Logic
	Conditions []Condition
}

func (c Case) eval(latest map[types.NodeId]map[string]float64) bool {
	if len(c.Conditions) == 0 {
		return false
	}
	if c.Logic == LogicOr {
		for _, cond := range c.Conditions {
			if cond.eval(latest) {
				return true
			}
		}
		return false
	}
	// And short-circuits on first false.
	for _, cond := range c.Conditions {
		if !cond.eval(latest) {
			return false
		}
	}
	return true
}

// IfElseNode waits for a value from every declared upstream on the
// current tick, then evaluates its cases in declared order; the first
// matching case fires, all others (including else) are silent for that
// tick (spec.md §4.5).
type IfElseNode struct {
	*Base

	Upstreams []types.NodeId
	Cases     []Case

	latest    map[types.NodeId]map[string]float64
	seenCycle map[types.NodeId]types.SignalIndex
}

// NewIfElseNode constructs an IfElseNode waiting on upstreams and
// evaluating cases in order, falling through to "else" if none match.
func NewIfElseNode(id types.NodeId, name types.NodeName, cmds CommandSender, upstreams []types.NodeId, cases []Case, isLeaf bool) *IfElseNode {
	n := &IfElseNode{
		Base:      NewBase(id, name, types.NodeKindIfElse, cmds, isLeaf),
		Upstreams: upstreams,
		Cases:     cases,
		latest:    make(map[types.NodeId]map[string]float64),
		seenCycle: make(map[types.NodeId]types.SignalIndex),
	}
	n.resetSeen()
	return n
}

// resetSeen seeds seenCycle at NotPlayed for every declared upstream. A
// bare zero value collides with cycle 0 (the first tick) and would let
// the "all upstreams reported" gate in OnEvent pass before every
// upstream has actually delivered that cycle.
func (n *IfElseNode) resetSeen() {
	n.seenCycle = make(map[types.NodeId]types.SignalIndex, len(n.Upstreams))
	for _, up := range n.Upstreams {
		n.seenCycle[up] = types.NotPlayed
	}
}

func (n *IfElseNode) Init(ctx context.Context) error {
	n.latest = make(map[types.NodeId]map[string]float64)
	n.resetSeen()
	return nil
}

func (n *IfElseNode) Check(ctx context.Context) error { return nil }
func (n *IfElseNode) Stop(ctx context.Context) error  { return nil }

func (n *IfElseNode) Reset(ctx context.Context) error {
	n.latest = make(map[types.NodeId]map[string]float64)
	n.resetSeen()
	return nil
}

// OnEvent records the latest numeric fields published by an upstream node
// and, once every declared upstream has reported for this cycle,
// evaluates the cases and publishes a single ConditionMatch.
func (n *IfElseNode) OnEvent(ctx context.Context, ev Event) error {
	fields := fieldsOf(ev)
	if fields == nil {
		return nil
	}
	n.latest[ev.SourceNode] = fields
	n.seenCycle[ev.SourceNode] = ev.CycleId

	for _, up := range n.Upstreams {
		if n.seenCycle[up] != ev.CycleId {
			return nil
		}
	}

	for _, c := range n.Cases {
		if c.eval(n.latest) {
			n.emit(ev.CycleId, c.CaseId)
			if n.IsLeaf() {
				n.publish(Event{Kind: EventExecuteOver, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId}, "")
			}
			return nil
		}
	}
	n.emit(ev.CycleId, "else")
	if n.IsLeaf() {
		n.publish(Event{Kind: EventExecuteOver, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId}, "")
	}
	return nil
}

func (n *IfElseNode) emit(cycle types.SignalIndex, caseId string) {
	n.publish(Event{
		Kind:       EventConditionMatch,
		SourceNode: n.id,
		SourceName: n.name,
		CycleId:    cycle,
		Payload:    ConditionMatchPayload{CaseId: caseId},
	}, types.HandleId(caseId))
}

// fieldsOf extracts a {field: value} map from ev's payload so IfElse
// conditions can reference it by name, e.g. "close" on a KlineUpdate or
// "value" on an IndicatorUpdate/VariableUpdate.
func fieldsOf(ev Event) map[string]float64 {
	switch p := ev.Payload.(type) {
	case KlineUpdatePayload:
		return map[string]float64{
			"open": p.Kline.Open, "high": p.Kline.High, "low": p.Kline.Low,
			"close": p.Kline.Close, "volume": p.Kline.Volume,
		}
	case IndicatorUpdatePayload:
		return p.Value.Values
	case VariableUpdatePayload:
		if f, ok := p.Variable.AsFloat(); ok {
			return map[string]float64{"value": f}
		}
		return nil
	default:
		return nil
	}
}
