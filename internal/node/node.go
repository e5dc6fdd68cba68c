package node

import (
	"context"
	"time"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// Node is implemented by every entry of the node catalogue (spec.md §4.5).
// Init/Check are invoked by the orchestrator in topological order and
// Stop in reverse topological order (spec.md §4.7); OnEvent drives the
// node's per-tick behavior.
type Node interface {
	Id() types.NodeId
	Name() types.NodeName
	Kind() types.NodeKind
	FSM() *FSM

	Init(ctx context.Context) error
	Check(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error

	// OnEvent is called by the orchestrator/upstream fan-out whenever an
	// Event arrives on one of this node's input handles.
	OnEvent(ctx context.Context, ev Event) error

	DefaultOutput() *Handle
	StrategyOutput() *Handle
	Output(id types.HandleId) *Handle
	IsLeaf() bool
}

// CommandSender is how a node issues a Command and awaits its single-shot
// response, matching spec.md §4.4's MPSC command channel contract.
type CommandSender interface {
	Send(ctx context.Context, cmd Command) (CommandResponse, error)
}

// Base provides the shared bookkeeping every node kind embeds: identity,
// FSM, output handles, and a command sender to reach the orchestrator.
type Base struct {
	id       types.NodeId
	name     types.NodeName
	kind     types.NodeKind
	fsm      *FSM
	cmds     CommandSender
	outputs  map[types.HandleId]*Handle
	defaultH *Handle
	strategyH *Handle
	leaf     bool
}

// NewBase constructs a Base with default and strategy-bound output handles
// pre-registered, matching spec.md §4.4's "every node has at least a
// strategy-bound output ... and a default output".
func NewBase(id types.NodeId, name types.NodeName, kind types.NodeKind, cmds CommandSender, isLeaf bool) *Base {
	b := &Base{
		id: id, name: name, kind: kind, fsm: NewFSM(), cmds: cmds,
		outputs: make(map[types.HandleId]*Handle),
		leaf:    isLeaf,
	}
	b.defaultH = b.Output("default")
	b.strategyH = b.Output("strategy")
	return b
}

func (b *Base) Id() types.NodeId      { return b.id }
func (b *Base) Name() types.NodeName  { return b.name }
func (b *Base) Kind() types.NodeKind  { return b.kind }
func (b *Base) FSM() *FSM             { return b.fsm }
func (b *Base) IsLeaf() bool          { return b.leaf }
func (b *Base) DefaultOutput() *Handle  { return b.defaultH }
func (b *Base) StrategyOutput() *Handle { return b.strategyH }

// Output returns (creating if necessary) the named output handle.
func (b *Base) Output(id types.HandleId) *Handle {
	if h, ok := b.outputs[id]; ok {
		return h
	}
	h := NewHandle(id)
	b.outputs[id] = h
	return h
}

// SendCommand forwards cmd to the orchestrator's command channel and
// awaits the single-shot response, honoring ctx cancellation.
func (b *Base) SendCommand(ctx context.Context, cmd Command) (CommandResponse, error) {
	return b.cmds.Send(ctx, cmd)
}

// publish sends ev on every handle that should carry it: the node's
// default output, its strategy output, and (if non-empty) a named extra
// handle, matching spec.md §4.4's fan-out rule.
func (b *Base) publish(ev Event, extra types.HandleId) {
	if extra != "" {
		h := b.Output(extra)
		if h.IsConnected() {
			h.Send(ev)
		}
	}
	if b.defaultH.IsConnected() {
		b.defaultH.Send(ev)
	}
	b.strategyH.Send(ev)
}

func now() time.Time { return time.Now() }
