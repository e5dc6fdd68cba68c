package orchestrator

import (
	"sync"

	"github.com/quantflow/backtest-engine/internal/xerrors"
)

// RunState is one stage of the strategy-level lifecycle FSM (spec.md §4.7):
// Created -> Initializing -> Ready -> Checking -> CheckPassed -> Playing,
// with Pausing looping back to Playing and Stopping draining to Stopped.
// Error is reachable from any state.
type RunState string

const (
	StateCreated      RunState = "created"
	StateInitializing RunState = "initializing"
	StateReady        RunState = "ready"
	StateChecking     RunState = "checking"
	StateCheckPassed  RunState = "check_passed"
	StatePlaying      RunState = "playing"
	StatePausing      RunState = "pausing"
	StateStopping     RunState = "stopping"
	StateStopped      RunState = "stopped"
	StateError        RunState = "error"
)

// RunTrigger names a transition-driving event on the strategy FSM.
type RunTrigger string

const (
	TriggerInitialize       RunTrigger = "initialize"
	TriggerInitializeDone   RunTrigger = "initialize_complete"
	TriggerCheck            RunTrigger = "check"
	TriggerCheckComplete    RunTrigger = "check_complete"
	TriggerPlay             RunTrigger = "play"
	TriggerPause            RunTrigger = "pause"
	TriggerResume           RunTrigger = "resume"
	TriggerStop             RunTrigger = "stop"
	TriggerStopComplete     RunTrigger = "stop_complete"
	TriggerFail             RunTrigger = "fail"
)

var runTransitions = map[RunState]map[RunTrigger]RunState{
	StateCreated:      {TriggerInitialize: StateInitializing},
	StateInitializing: {TriggerInitializeDone: StateReady},
	StateReady:        {TriggerCheck: StateChecking, TriggerStop: StateStopping},
	StateChecking:     {TriggerCheckComplete: StateCheckPassed},
	StateCheckPassed:  {TriggerPlay: StatePlaying, TriggerStop: StateStopping},
	StatePlaying:      {TriggerPause: StatePausing, TriggerStop: StateStopping},
	StatePausing:      {TriggerResume: StatePlaying, TriggerStop: StateStopping},
	StateStopping:     {TriggerStopComplete: StateStopped},
	StateStopped:      {TriggerInitialize: StateInitializing},
}

// RunFSM is the strategy-level lifecycle state machine, guarding every
// control-surface command (play/pause/reset/play_one/stop) against being
// issued from an invalid state.
type RunFSM struct {
	mu    sync.Mutex
	state RunState
}

// NewRunFSM returns a RunFSM in StateCreated.
func NewRunFSM() *RunFSM {
	return &RunFSM{state: StateCreated}
}

// State returns the current run state.
func (f *RunFSM) State() RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Fire applies trigger, returning the resulting state or CodeNodeStateNotReady
// if the transition is invalid from the current state.
func (f *RunFSM) Fire(trigger RunTrigger) (RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if trigger == TriggerFail {
		f.state = StateError
		return f.state, nil
	}

	next, ok := runTransitions[f.state][trigger]
	if !ok {
		return f.state, xerrors.New(xerrors.CodeNodeStateNotReady, map[string]string{
			"state": string(f.state), "trigger": string(trigger),
		})
	}
	f.state = next
	return f.state, nil
}
