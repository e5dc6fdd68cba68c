package node

import (
	"context"
	"time"

	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// StartNode seeds every tick: it owns the signal generator, enumerating
// discrete tick times between StartTime and EndTime at the strategy's
// minimum-interval cadence (spec.md §4.5).
type StartNode struct {
	*Base

	StartTime time.Time
	EndTime   time.Time
	Step      time.Duration

	ticks     []time.Time
	cursor    int
}

// NewStartNode constructs a StartNode over [startTime, endTime] stepping
// by step (the strategy's minimum kline interval duration).
func NewStartNode(id types.NodeId, name types.NodeName, cmds CommandSender, startTime, endTime time.Time, step time.Duration) *StartNode {
	return &StartNode{
		Base:      NewBase(id, name, types.NodeKindStart, cmds, false),
		StartTime: startTime,
		EndTime:   endTime,
		Step:      step,
		cursor:    -1,
	}
}

func (n *StartNode) Init(ctx context.Context) error {
	if n.Step <= 0 {
		return xerrors.New(xerrors.CodeTimeRangeNotConfigured, map[string]string{"node": string(n.id)})
	}
	n.ticks = n.ticks[:0]
	for t := n.StartTime; !t.After(n.EndTime); t = t.Add(n.Step) {
		n.ticks = append(n.ticks, t)
	}
	n.cursor = -1
	return nil
}

func (n *StartNode) Check(ctx context.Context) error {
	if len(n.ticks) == 0 {
		return xerrors.New(xerrors.CodeTimeRangeNotConfigured, map[string]string{"node": string(n.id)})
	}
	return nil
}

func (n *StartNode) Stop(ctx context.Context) error { return nil }

func (n *StartNode) Reset(ctx context.Context) error {
	n.cursor = -1
	return nil
}

// Len reports the total number of ticks this run will produce.
func (n *StartNode) Len() int { return len(n.ticks) }

// PlayOne advances the cursor by one and publishes the KlinePlay trigger
// for the new tick, returning the new signal index and whether the run
// has finished (the tick just played was the last one). Called again
// after the last tick, it returns CodePlayFinished.
func (n *StartNode) PlayOne(ctx context.Context) (types.SignalIndex, bool, error) {
	if n.cursor+1 >= len(n.ticks) {
		return types.SignalIndex(n.cursor), true, xerrors.New(xerrors.CodePlayFinished, nil)
	}
	n.cursor++
	tickTime := n.ticks[n.cursor]
	n.publish(Event{
		Kind:       EventTrigger,
		SourceNode: n.id,
		SourceName: n.name,
		CycleId:    types.SignalIndex(n.cursor),
		Datetime:   tickTime,
		Payload:    tickTime,
	}, "")
	return types.SignalIndex(n.cursor), n.cursor+1 >= len(n.ticks), nil
}

// CurrentIndex returns the signal index of the most recently played tick.
func (n *StartNode) CurrentIndex() types.SignalIndex {
	if n.cursor < 0 {
		return types.NotPlayed
	}
	return types.SignalIndex(n.cursor)
}

// CurrentTime returns the datetime of the most recently played tick, or
// the zero time if no tick has played yet.
func (n *StartNode) CurrentTime() time.Time {
	if n.cursor < 0 || n.cursor >= len(n.ticks) {
		return time.Time{}
	}
	return n.ticks[n.cursor]
}

func (n *StartNode) OnEvent(ctx context.Context, ev Event) error { return nil }
