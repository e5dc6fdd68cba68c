package orchestrator

import (
	"context"
	"sync"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// Barrier gates the play loop between ticks: the orchestrator advances the
// signal index and then blocks until every leaf node has reported
// EventExecuteOver for that cycle, matching the original's
// execute_over_notify.notified() rendezvous (spec.md §4.6).
type Barrier struct {
	mu       sync.Mutex
	leafIds  map[types.NodeId]struct{}
	reported map[types.NodeId]types.SignalIndex
	cycle    types.SignalIndex
	satCh    chan struct{} // closed when the armed cycle becomes satisfied
}

// NewBarrier constructs a Barrier expecting ExecuteOver from every node in
// leafIds before each cycle is considered complete.
func NewBarrier(leafIds []types.NodeId) *Barrier {
	b := &Barrier{
		leafIds:  make(map[types.NodeId]struct{}, len(leafIds)),
		reported: make(map[types.NodeId]types.SignalIndex, len(leafIds)),
		cycle:    types.NotPlayed,
	}
	for _, id := range leafIds {
		b.leafIds[id] = struct{}{}
		// Seed every leaf at NotPlayed rather than the map's zero value: a
		// bare zero value collides with cycle 0 (the first tick) and would
		// make satisfiedLocked report an un-reported leaf as done.
		b.reported[id] = types.NotPlayed
	}
	return b
}

// Arm resets the barrier for a newly-dispatched cycle.
func (b *Barrier) Arm(cycle types.SignalIndex) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cycle = cycle
	b.satCh = make(chan struct{})
	if b.satisfiedLocked() {
		close(b.satCh)
	}
}

// Report records that leaf has finished executing cycle. A report for a
// node not in the leaf set, or for a stale cycle, is ignored.
func (b *Barrier) Report(leaf types.NodeId, cycle types.SignalIndex) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.leafIds[leaf]; !ok || cycle != b.cycle {
		return
	}
	b.reported[leaf] = cycle
	if b.satisfiedLocked() && b.satCh != nil {
		select {
		case <-b.satCh:
		default:
			close(b.satCh)
		}
	}
}

func (b *Barrier) satisfiedLocked() bool {
	if len(b.leafIds) == 0 {
		return true
	}
	for id := range b.leafIds {
		if b.reported[id] != b.cycle {
			return false
		}
	}
	return true
}

// Wait blocks until every leaf has reported the current cycle or ctx is
// done, whichever happens first.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	ch := b.satCh
	b.mu.Unlock()
	if ch == nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
