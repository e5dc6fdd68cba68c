// Package types provides configuration and wire-format types for the
// backtest strategy engine's external interfaces (spec.md §6).
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// NodeKind enumerates the seven node kinds of the node catalogue (C5).
type NodeKind string

const (
	NodeKindStart        NodeKind = "start"
	NodeKindKline        NodeKind = "kline"
	NodeKindIndicator    NodeKind = "indicator"
	NodeKindIfElse       NodeKind = "if_else"
	NodeKindFuturesOrder NodeKind = "futures_order"
	NodeKindPosition     NodeKind = "position"
	NodeKindVariable     NodeKind = "variable"
)

// SymbolSelection configures one tracked (symbol, interval) pair on a
// Kline node, including the per-symbol output handle id it publishes on.
type SymbolSelection struct {
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval"`
	HandleId HandleId `json:"handleId"`
}

// ExchangeModeConfig selects the account and symbols a Kline node tracks.
type ExchangeModeConfig struct {
	Exchange        string            `json:"exchange"`
	Account         string            `json:"account"`
	SelectedSymbols []SymbolSelection `json:"selectedSymbols"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         time.Time         `json:"endTime"`
}

// NodeConfig describes one node in a strategy graph. Data is kind-specific
// and decoded lazily by the node constructor for that kind.
type NodeConfig struct {
	Id   NodeId      `json:"id"`
	Name NodeName    `json:"name"`
	Type NodeKind    `json:"type"`
	Data RawNodeData `json:"data"`
}

// RawNodeData defers decoding of the kind-specific node payload.
type RawNodeData = map[string]interface{}

// EdgeConfig wires one node's output handle to another node's input handle.
type EdgeConfig struct {
	Source       NodeId   `json:"source"`
	SourceHandle HandleId `json:"sourceHandle"`
	Target       NodeId   `json:"target"`
	TargetHandle HandleId `json:"targetHandle"`
}

// StrategyConfig is the external, JSON-encoded description of a strategy
// graph plus its run-level parameters (spec.md §6).
type StrategyConfig struct {
	StrategyId     StrategyId      `json:"strategyId"`
	StrategyName   string          `json:"strategyName"`
	PlaySpeed      float64         `json:"playSpeed"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        time.Time       `json:"endTime"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	Leverage       float64         `json:"leverage"`
	FeeRate        decimal.Decimal `json:"feeRate"`
	Nodes          []NodeConfig    `json:"nodes"`
	Edges          []EdgeConfig    `json:"edges"`
}

// ServerConfig configures the HTTP/WS control surface (internal/api).
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}
