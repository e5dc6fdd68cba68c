// Package types provides the shared data model for the backtest strategy engine:
// identifiers, klines, indicator keys, custom variables, virtual positions/orders,
// strategy configuration, and the external event schema.
package types

import "sync/atomic"

// StrategyId identifies a strategy definition.
type StrategyId int64

// NodeId, NodeName and HandleId are unique within a single strategy graph.
type NodeId string
type NodeName string
type HandleId string

// SignalIndex is the monotonic tick counter driven by the orchestrator.
// -1 means "not yet played".
type SignalIndex int32

// NotPlayed is the sentinel SignalIndex before the first tick.
const NotPlayed SignalIndex = -1

var (
	positionIDCounter int64
	orderIDCounter    int64
)

// PositionId and OrderId are process-global monotonic integers. They are
// never reset alongside a strategy reset.
type PositionId int64
type OrderId int64

// NextPositionId returns the next process-wide position id.
func NextPositionId() PositionId {
	return PositionId(atomic.AddInt64(&positionIDCounter, 1))
}

// NextOrderId returns the next process-wide order id.
func NextOrderId() OrderId {
	return OrderId(atomic.AddInt64(&orderIDCounter, 1))
}
