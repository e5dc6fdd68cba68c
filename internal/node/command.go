package node

import (
	"github.com/quantflow/backtest-engine/pkg/types"
)

// CommandKind enumerates the MPSC command-channel commands a node may send
// to the orchestrator (spec.md §4.4), each paired with a single-shot
// response slot.
type CommandKind string

const (
	CmdGetKlineData          CommandKind = "get_kline_data"
	CmdUpdateKlineData       CommandKind = "update_kline_data"
	CmdAppendKlineData       CommandKind = "append_kline_data"
	CmdInitKlineData         CommandKind = "init_kline_data"
	CmdGetMinInterval        CommandKind = "get_min_interval"
	CmdGetMinIntervalSymbols CommandKind = "get_min_interval_symbols"
	CmdGetCurrentTime        CommandKind = "get_current_time"
	CmdNodeReset             CommandKind = "node_reset"
)

// Command is passed to the strategy's CommandSender. Resp is a channel of
// capacity 1 (Go's oneshot equivalent); the orchestrator's CommandRouter
// answers synchronously through Send's return value and does not write to
// Resp. The sender MUST await the response before issuing a dependent
// follow-up command, per spec.md §4.4's ordering contract.
type Command struct {
	Kind     CommandKind
	NodeId   types.NodeId
	Payload  interface{}
	Resp     chan CommandResponse
}

// CommandResponse is the single reply to a Command.
type CommandResponse struct {
	Success bool
	Err     error

	KlineSeries []types.Kline
	MinInterval types.Interval
	MinIntervalKeys []types.KlineKey
	CurrentTime interface{}
}

// NewCommand allocates a Command with a fresh one-shot response channel.
func NewCommand(kind CommandKind, nodeId types.NodeId, payload interface{}) Command {
	return Command{Kind: kind, NodeId: nodeId, Payload: payload, Resp: make(chan CommandResponse, 1)}
}

// GetKlineDataPayload requests a window of key's series.
type GetKlineDataPayload struct {
	Key   types.KlineKey
	Index *int
	Limit *int
}

// UpdateKlineDataPayload replaces/creates the tail item of key's series.
type UpdateKlineDataPayload struct {
	Key   types.KlineKey
	Kline types.Kline
}

// AppendKlineDataPayload inserts items into key's series.
type AppendKlineDataPayload struct {
	Key     types.KlineKey
	Klines  []types.Kline
}

// InitKlineDataPayload sets key's series if absent/empty.
type InitKlineDataPayload struct {
	Key    types.KlineKey
	Klines []types.Kline
}

// GetMinIntervalPayload requests the strategy's minimum-interval symbol
// matching symbol.
type GetMinIntervalPayload struct {
	Symbol string
}
