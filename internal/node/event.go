// Package node implements the node runtime (spec.md §4.4) and the seven
// node kinds of the catalogue (spec.md §4.5): the per-node FSM, broadcast
// input/output handles, the command/response protocol to the orchestrator,
// and Start/Kline/Indicator/IfElse/FuturesOrder/Position/Variable.
package node

import (
	"time"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// EventKind categorizes payloads carried on a node's output handles,
// matching spec.md §4.4's "data" and "control" event categories.
type EventKind string

const (
	EventKlineUpdate    EventKind = "kline_update"
	EventIndicatorUpdate EventKind = "indicator_update"
	EventVariableUpdate EventKind = "variable_update"
	EventConditionMatch EventKind = "condition_match"
	EventOrderLifecycle EventKind = "order_lifecycle"
	EventPositionUpdate EventKind = "position_update"
	EventTrigger        EventKind = "trigger"
	EventExecuteOver    EventKind = "execute_over"
	EventNodeRunningLog EventKind = "node_running_log"
	EventRunStateLog    EventKind = "run_state_log"
)

// Event is the envelope broadcast on a node's output handles. Payload's
// concrete type depends on Kind (e.g. types.Kline for EventKlineUpdate).
type Event struct {
	Kind       EventKind
	SourceNode types.NodeId
	SourceName types.NodeName
	HandleId   types.HandleId
	CycleId    types.SignalIndex
	Symbol     string
	Datetime   time.Time
	Payload    interface{}
}

// KlineUpdatePayload carries a resolved candle plus whether it required
// interpolation (should_calculate in the original).
type KlineUpdatePayload struct {
	Key             types.KlineKey
	Kline           types.Kline
	WasInterpolated bool
}

// IndicatorUpdatePayload carries a computed indicator point.
type IndicatorUpdatePayload struct {
	Key   types.IndicatorKey
	Value types.IndicatorValue
}

// VariableUpdatePayload carries the new state of a custom variable.
type VariableUpdatePayload struct {
	Variable types.CustomVariable
}

// ConditionMatchPayload names which IfElse case (or "else") fired.
type ConditionMatchPayload struct {
	CaseId string
}

// OrderLifecyclePayload carries an order and, if it produced a fill, a
// transaction.
type OrderLifecyclePayload struct {
	Order      types.VirtualOrder
	Filled     bool
	Transaction *types.VirtualTransaction
}

// PositionLifecyclePayload carries a position snapshot after an update.
type PositionLifecyclePayload struct {
	Position types.VirtualPosition
}
