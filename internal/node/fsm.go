package node

import (
	"sync"

	"github.com/quantflow/backtest-engine/internal/xerrors"
)

// State is one stage of the node runtime FSM (spec.md §4.4):
// Created -> Initializing -> Initialized -> Checking -> Running -> Stopping -> Stopped,
// with an absorbing Error state reachable from any state.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateInitialized  State = "initialized"
	StateChecking     State = "checking"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// Trigger names a transition-driving event.
type Trigger string

const (
	TriggerInit         Trigger = "init"
	TriggerInitComplete Trigger = "init_complete"
	TriggerCheck        Trigger = "check"
	TriggerCheckPass    Trigger = "check_pass"
	TriggerStart        Trigger = "start"
	TriggerStop         Trigger = "stop"
	TriggerStopComplete Trigger = "stop_complete"
	TriggerFail         Trigger = "fail"
)

// transitions maps (state, trigger) to the resulting state. Any state
// accepts TriggerFail, unconditionally moving to StateError.
var transitions = map[State]map[Trigger]State{
	StateCreated:      {TriggerInit: StateInitializing},
	StateInitializing: {TriggerInitComplete: StateInitialized},
	StateInitialized:  {TriggerCheck: StateChecking},
	StateChecking:     {TriggerCheckPass: StateRunning},
	StateRunning:      {TriggerStop: StateStopping},
	StateStopping:     {TriggerStopComplete: StateStopped},
	StateStopped:      {TriggerInit: StateInitializing},
}

// FSM is a concurrency-safe node lifecycle state machine.
type FSM struct {
	mu    sync.Mutex
	state State
}

// NewFSM returns an FSM in StateCreated.
func NewFSM() *FSM {
	return &FSM{state: StateCreated}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Fire applies trigger, returning the resulting state or a
// CodeNodeStateNotReady error if the transition is not valid from the
// current state.
func (f *FSM) Fire(trigger Trigger) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if trigger == TriggerFail {
		f.state = StateError
		return f.state, nil
	}

	next, ok := transitions[f.state][trigger]
	if !ok {
		return f.state, xerrors.New(xerrors.CodeNodeStateNotReady, map[string]string{
			"state": string(f.state), "trigger": string(trigger),
		})
	}
	f.state = next
	return f.state, nil
}
