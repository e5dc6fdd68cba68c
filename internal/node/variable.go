package node

import (
	"context"

	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// VarOp is one of the update operators a Variable node applies to its
// custom variable (spec.md §4.5).
type VarOp string

const (
	VarOpAddAssign VarOp = "+="
	VarOpSubAssign VarOp = "-="
	VarOpMulAssign VarOp = "*="
	VarOpDivAssign VarOp = "/="
	VarOpAssign    VarOp = ":="
)

// VariableNode reads an upstream data value, applies a configured
// operation to its custom variable, and republishes the new state
// (spec.md §4.5).
type VariableNode struct {
	*Base

	Variable types.CustomVariable
	Op       VarOp
	Operand  Operand // literal or an upstream field reference
}

// NewVariableNode constructs a VariableNode over variable, applying op
// with operand on every qualifying upstream event.
func NewVariableNode(id types.NodeId, name types.NodeName, cmds CommandSender, variable types.CustomVariable, op VarOp, operand Operand, isLeaf bool) *VariableNode {
	return &VariableNode{
		Base:     NewBase(id, name, types.NodeKindVariable, cmds, isLeaf),
		Variable: variable,
		Op:       op,
		Operand:  operand,
	}
}

func (n *VariableNode) Init(ctx context.Context) error {
	n.Variable.Reset()
	return nil
}

func (n *VariableNode) Check(ctx context.Context) error { return nil }
func (n *VariableNode) Stop(ctx context.Context) error  { return nil }

func (n *VariableNode) Reset(ctx context.Context) error {
	n.Variable.Reset()
	return nil
}

// OnEvent applies the configured operation using ev's upstream fields as
// the Operand's source, then publishes the variable's new state.
func (n *VariableNode) OnEvent(ctx context.Context, ev Event) error {
	fields := fieldsOf(ev)
	if fields == nil {
		return nil
	}
	latest := map[types.NodeId]map[string]float64{ev.SourceNode: fields}
	operandValue, ok := n.Operand.resolve(latest)
	if !ok {
		return nil
	}

	if err := n.apply(operandValue); err != nil {
		n.publish(Event{Kind: EventRunStateLog, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId, Payload: err}, "")
		return nil
	}

	n.publish(Event{
		Kind:       EventVariableUpdate,
		SourceNode: n.id,
		SourceName: n.name,
		CycleId:    ev.CycleId,
		Datetime:   ev.Datetime,
		Payload:    VariableUpdatePayload{Variable: n.Variable},
	}, "")

	if n.IsLeaf() {
		n.publish(Event{Kind: EventExecuteOver, SourceNode: n.id, SourceName: n.name, CycleId: ev.CycleId}, "")
	}
	return nil
}

func (n *VariableNode) apply(operand float64) error {
	if n.Variable.VarType != types.VarTypeNumber && n.Op != VarOpAssign {
		return xerrors.New(xerrors.CodeUnsupportedVariableOperation, map[string]string{
			"operation": string(n.Op), "varType": string(n.Variable.VarType),
		})
	}

	current, _ := n.Variable.AsFloat()
	switch n.Op {
	case VarOpAssign:
		n.Variable.Previous = n.Variable.Current
		n.Variable.Current = operand
		return nil
	case VarOpAddAssign:
		n.Variable.Previous = n.Variable.Current
		n.Variable.Current = current + operand
	case VarOpSubAssign:
		n.Variable.Previous = n.Variable.Current
		n.Variable.Current = current - operand
	case VarOpMulAssign:
		n.Variable.Previous = n.Variable.Current
		n.Variable.Current = current * operand
	case VarOpDivAssign:
		if operand == 0 {
			return xerrors.New(xerrors.CodeDivideByZero, map[string]string{"variable": n.Variable.Name})
		}
		n.Variable.Previous = n.Variable.Current
		n.Variable.Current = current / operand
	default:
		return xerrors.New(xerrors.CodeUnsupportedVariableOperation, map[string]string{"operation": string(n.Op)})
	}
	return nil
}
