package node

import (
	"context"
	"testing"
	"time"

	"github.com/quantflow/backtest-engine/pkg/types"
)

type fakeCommandSender struct{}

func (fakeCommandSender) Send(ctx context.Context, cmd Command) (CommandResponse, error) {
	return CommandResponse{Success: true}, nil
}

func lit(v float64) Operand { return Operand{Literal: &v} }

func fieldOperand(upstream types.NodeId, field string) Operand {
	return Operand{UpstreamNode: upstream, Field: field}
}

func variableEvent(upstream types.NodeId, cycle types.SignalIndex, value float64) Event {
	return Event{
		Kind: EventVariableUpdate, SourceNode: upstream, CycleId: cycle,
		Payload: VariableUpdatePayload{Variable: types.CustomVariable{VarType: types.VarTypeNumber, Current: value}},
	}
}

// S4 — condition first-match wins: cases [c1: x>10, c2: x>5], else.
func TestIfElseNode_FirstMatchWins(t *testing.T) {
	const upstream types.NodeId = "source"
	cases := []Case{
		{CaseId: "c1", Logic: LogicAnd, Conditions: []Condition{{Operator: OpGT, Lhs: fieldOperand(upstream, "value"), Rhs: lit(10)}}},
		{CaseId: "c2", Logic: LogicAnd, Conditions: []Condition{{Operator: OpGT, Lhs: fieldOperand(upstream, "value"), Rhs: lit(5)}}},
	}

	matchedCase := func(value float64, cycle types.SignalIndex) string {
		n := NewIfElseNode("ifelse", "ifelse", fakeCommandSender{}, []types.NodeId{upstream}, cases, false)
		if err := n.Init(context.Background()); err != nil {
			t.Fatalf("init: %v", err)
		}
		recv := n.StrategyOutput().Subscribe()
		defer recv.Close()
		if err := n.OnEvent(context.Background(), variableEvent(upstream, cycle, value)); err != nil {
			t.Fatalf("onEvent: %v", err)
		}
		select {
		case ev := <-recv.C():
			return ev.Payload.(ConditionMatchPayload).CaseId
		case <-time.After(time.Second):
			t.Fatalf("expected a ConditionMatch event")
			return ""
		}
	}

	if got := matchedCase(7, 0); got != "c2" {
		t.Fatalf("x=7: expected c2 to fire, got %q", got)
	}
	if got := matchedCase(11, 1); got != "c1" {
		t.Fatalf("x=11: expected c1 to fire, got %q", got)
	}
	if got := matchedCase(0, 2); got != "else" {
		t.Fatalf("x=0: expected else to fire, got %q", got)
	}
}

func TestVariableNode_DivideByZero(t *testing.T) {
	variable := types.CustomVariable{Name: "v", VarType: types.VarTypeNumber, InitialValue: 10.0, Current: 10.0}
	n := NewVariableNode("var", "var", fakeCommandSender{}, variable, VarOpDivAssign, lit(0), false)
	if err := n.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := n.apply(0); err == nil {
		t.Fatalf("expected DivideByZero error")
	}
}
