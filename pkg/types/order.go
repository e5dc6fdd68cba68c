package types

import "time"

// FuturesOrderSide is the effect an order has on a position.
type FuturesOrderSide string

const (
	OrderSideOpenLong   FuturesOrderSide = "open_long"
	OrderSideOpenShort  FuturesOrderSide = "open_short"
	OrderSideCloseLong  FuturesOrderSide = "close_long"
	OrderSideCloseShort FuturesOrderSide = "close_short"
)

// OrderKind distinguishes market entries from TP/SL exit orders.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "market"
	OrderKindTakeProfit OrderKind = "take_profit"
	OrderKindStopLoss   OrderKind = "stop_loss"
)

// VirtualOrder is a simulated futures order submitted by a FuturesOrder
// node. PositionId is 0 until the order has been matched to a position.
type VirtualOrder struct {
	OrderId       OrderId          `json:"orderId"`
	PositionId    PositionId       `json:"positionId,omitempty"`
	StrategyId    StrategyId       `json:"strategyId"`
	NodeId        NodeId           `json:"nodeId"`
	NodeName      NodeName         `json:"nodeName"`
	OrderConfigId string           `json:"orderConfigId"`
	Exchange      string           `json:"exchange"`
	Symbol        string           `json:"symbol"`
	Side          FuturesOrderSide `json:"side"`
	Kind          OrderKind        `json:"kind"`
	Quantity      float64          `json:"quantity"`
	OpenPrice     float64          `json:"openPrice"`
	CreateTime    time.Time        `json:"createTime"`
	LinkedTPId    *OrderId         `json:"linkedTpId,omitempty"`
	LinkedSLId    *OrderId         `json:"linkedSlId,omitempty"`
}

// PositionSideOf maps an order side to the position side it targets.
func (s FuturesOrderSide) PositionSideOf() PositionSide {
	if s == OrderSideOpenShort || s == OrderSideCloseShort {
		return PositionSideShort
	}
	return PositionSideLong
}

// IsOpen reports whether the order side opens/adds to a position, as
// opposed to closing one.
func (s FuturesOrderSide) IsOpen() bool {
	return s == OrderSideOpenLong || s == OrderSideOpenShort
}

// VirtualTransaction is a single fill record. A TP/SL order that only
// partially closes a position still produces exactly one transaction; a
// TP/SL pair attached to the same entry may each produce their own.
type VirtualTransaction struct {
	OrderId       OrderId          `json:"orderId"`
	PositionId    PositionId       `json:"positionId"`
	StrategyId    StrategyId       `json:"strategyId"`
	NodeId        NodeId           `json:"nodeId"`
	NodeName      NodeName         `json:"nodeName"`
	OrderConfigId string           `json:"orderConfigId"`
	Exchange      string           `json:"exchange"`
	Symbol        string           `json:"symbol"`
	Side          FuturesOrderSide `json:"side"`
	Quantity      float64          `json:"quantity"`
	Price         float64          `json:"price"`
	RealizedPnl   float64          `json:"realizedPnl"`
	Datetime      time.Time        `json:"datetime"`
}
