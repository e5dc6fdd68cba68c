// Package orchestrator wires the node runtime, the value store, the
// trading ledger and the interpolation engine into one strategy run
// (spec.md §4.6-4.7): graph construction, topological init/check/stop,
// the tick barrier, and the external play/pause/reset/play_one/stop
// control surface.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantflow/backtest-engine/internal/interpolate"
	"github.com/quantflow/backtest-engine/internal/node"
	"github.com/quantflow/backtest-engine/internal/store"
	"github.com/quantflow/backtest-engine/internal/trading"
	"github.com/quantflow/backtest-engine/internal/workers"
	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

// defaultStopTimeout bounds how long Stop waits for every node to report
// Stopped before failing with CodeWaitAllNodesStoppedTimeout.
const defaultStopTimeout = 20 * time.Second

// Strategy is one running instance of a strategy graph: the node catalogue
// instantiated from a types.StrategyConfig, the shared C1/C2/C3 engines
// backing it, and the play/pause/reset/play_one/stop control surface.
type Strategy struct {
	mu sync.RWMutex

	Config types.StrategyConfig
	Graph  *Graph
	Router *CommandRouter
	Ledger *trading.Ledger
	Store  *store.Store
	Engine *interpolate.Engine
	Barrier *Barrier
	FSM    *RunFSM

	pool   *workers.Pool
	logger *zap.Logger

	initialBalance float64
	balance        float64
	playIndex      types.SignalIndex
	lastTickTime   time.Time

	runCtx     context.Context
	runCancel  context.CancelFunc
	playCancel context.CancelFunc

	events chan types.RunEvent
}

// NewStrategy builds every node in cfg and wires the shared engines behind
// it, but does not yet run Init/Check/Play — the caller drives those
// explicitly (spec.md §4.7's lifecycle).
func NewStrategy(cfg types.StrategyConfig, logger *zap.Logger) (*Strategy, error) {
	s := &Strategy{
		Config:         cfg,
		FSM:            NewRunFSM(),
		Store:          store.New(),
		Ledger:         trading.NewLedger(trading.NewDefaultFormula()),
		logger:         logger,
		events:         make(chan types.RunEvent, 1024),
		initialBalance: cfg.InitialBalance.InexactFloat64(),
		playIndex:      types.NotPlayed,
	}
	s.balance = s.initialBalance
	s.Engine = interpolate.New(s.Store)
	s.Router = NewCommandRouter(s.Store, nil, nil, s.currentTime)

	graph, err := BuildGraph(cfg, s.Router, s.Ledger, s.AvailableBalance, s.Engine)
	if err != nil {
		return nil, err
	}
	s.Graph = graph
	s.Router.minIntervals = graph.MinIntervals
	s.Router.nodes = graph.Nodes
	s.Barrier = NewBarrier(graph.Leaves)

	poolCfg := workers.DefaultPoolConfig(fmt.Sprintf("strategy-%d", cfg.StrategyId))
	s.pool = workers.NewPool(logger, poolCfg)
	s.pool.Start()

	return s, nil
}

// AvailableBalance returns the strategy's current wallet balance: the
// initial balance plus every realized transaction's PnL so far.
func (s *Strategy) AvailableBalance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// Events returns the channel of RunEvents published for external
// consumers (internal/api); it is never closed.
func (s *Strategy) Events() <-chan types.RunEvent { return s.events }

func (s *Strategy) currentTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.playIndex == types.NotPlayed {
		return s.Config.StartTime
	}
	return s.lastTickTime
}

// Init runs Init over every node of the graph, one topological layer at a
// time, with nodes in the same layer initialized concurrently via the
// worker pool (spec.md §4.7's parallel topological init).
func (s *Strategy) Init(ctx context.Context) error {
	if _, err := s.FSM.Fire(TriggerInitialize); err != nil {
		return err
	}

	layers := computeLayers(s.Graph.Order, s.Graph.Edges)
	for _, layer := range layers {
		if err := s.runLayer(layer, func(n node.Node) error { return initNode(ctx, n) }); err != nil {
			s.FSM.Fire(TriggerFail)
			return err
		}
	}

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.Graph.Wire(s.runCtx)
	s.subscribeAll(s.runCtx)

	_, err := s.FSM.Fire(TriggerInitializeDone)
	return err
}

// Check runs Check over every node in topological order, failing fast on
// the first node that reports itself unready.
func (s *Strategy) Check(ctx context.Context) error {
	if _, err := s.FSM.Fire(TriggerCheck); err != nil {
		return err
	}
	for _, id := range s.Graph.Order {
		n := s.Graph.Nodes[id]
		if err := checkNode(ctx, n); err != nil {
			s.FSM.Fire(TriggerFail)
			return err
		}
	}
	_, err := s.FSM.Fire(TriggerCheckComplete)
	return err
}

// Play starts (or resumes) the tick loop, advancing the Start node's
// signal index once per iteration and waiting for the leaf barrier before
// moving on, until Pause/Stop is called or the run finishes.
func (s *Strategy) Play(ctx context.Context) error {
	state := s.FSM.State()
	switch state {
	case StatePlaying:
		return xerrors.New(xerrors.CodeAlreadyPlaying, nil)
	case StatePausing:
		if _, err := s.FSM.Fire(TriggerResume); err != nil {
			return err
		}
	case StateCheckPassed:
		if _, err := s.FSM.Fire(TriggerPlay); err != nil {
			return err
		}
	default:
		return xerrors.New(xerrors.CodeNodeStateNotReady, map[string]string{"state": string(state)})
	}

	s.mu.Lock()
	playCtx, cancel := context.WithCancel(s.runCtx)
	s.playCancel = cancel
	s.mu.Unlock()

	go s.playLoop(playCtx)
	return nil
}

// Pause cancels the running play loop without resetting any state;
// Play resumes from the next tick.
func (s *Strategy) Pause() error {
	state := s.FSM.State()
	if state == StatePausing {
		return xerrors.New(xerrors.CodeAlreadyPausing, nil)
	}
	if state != StatePlaying {
		return xerrors.New(xerrors.CodeNodeStateNotReady, map[string]string{"state": string(state)})
	}

	s.mu.Lock()
	if s.playCancel != nil {
		s.playCancel()
	}
	s.mu.Unlock()

	_, err := s.FSM.Fire(TriggerPause)
	return err
}

// PlayOne advances exactly one tick and returns its signal index and
// whether the run has finished. It is refused while the play loop is
// already running.
func (s *Strategy) PlayOne(ctx context.Context) (types.SignalIndex, bool, error) {
	state := s.FSM.State()
	if state == StatePlaying {
		return types.NotPlayed, false, xerrors.New(xerrors.CodeAlreadyPlaying, nil)
	}
	if state != StateCheckPassed && state != StatePausing {
		return types.NotPlayed, false, xerrors.New(xerrors.CodeNodeStateNotReady, map[string]string{"state": string(state)})
	}

	cycle, finished, err := s.tick(ctx)
	if err != nil {
		return cycle, finished, err
	}
	if finished {
		s.publishFinished(cycle)
	} else {
		s.publishProgress(cycle)
	}
	return cycle, finished, nil
}

// Reset clears the run state (store, ledger, balance, every node) and
// re-initializes the graph for another play-through, matching the
// original's reset-then-replay lifecycle. Only valid once Stopped.
func (s *Strategy) Reset(ctx context.Context) error {
	if s.FSM.State() != StateStopped {
		return xerrors.New(xerrors.CodeNodeStateNotReady, map[string]string{"state": string(s.FSM.State())})
	}

	for _, id := range s.Graph.Order {
		if _, err := s.Router.Send(ctx, node.NewCommand(node.CmdNodeReset, id, nil)); err != nil {
			return err
		}
	}
	s.Store.Reset()
	s.Ledger.Reset()

	s.mu.Lock()
	s.balance = s.initialBalance
	s.playIndex = types.NotPlayed
	s.lastTickTime = time.Time{}
	s.mu.Unlock()

	return s.Init(ctx)
}

// Stop transitions every node through Stop, in reverse topological order,
// bounded by defaultStopTimeout.
func (s *Strategy) Stop(ctx context.Context) error {
	if _, err := s.FSM.Fire(TriggerStop); err != nil {
		return err
	}

	s.mu.Lock()
	if s.playCancel != nil {
		s.playCancel()
	}
	if s.runCancel != nil {
		s.runCancel()
	}
	s.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
	defer cancel()

	layers := computeLayers(s.Graph.Order, s.Graph.Edges)
	for i := len(layers) - 1; i >= 0; i-- {
		done := make(chan error, 1)
		go func(layer []types.NodeId) {
			done <- s.runLayer(layer, func(n node.Node) error { return stopNode(stopCtx, n) })
		}(layers[i])

		select {
		case err := <-done:
			if err != nil {
				s.logger.Warn("node stop failed", zap.Error(err))
			}
		case <-stopCtx.Done():
			s.FSM.Fire(TriggerFail)
			return xerrors.New(xerrors.CodeWaitAllNodesStoppedTimeout, nil)
		}
	}

	_, err := s.FSM.Fire(TriggerStopComplete)
	return err
}

// Shutdown releases the worker pool. Call once the Strategy is no longer
// needed, after Stop.
func (s *Strategy) Shutdown() error {
	return s.pool.Stop()
}

func (s *Strategy) tick(ctx context.Context) (types.SignalIndex, bool, error) {
	next := s.Graph.Start.CurrentIndex() + 1
	s.Barrier.Arm(next)

	cycle, finished, err := s.Graph.Start.PlayOne(ctx)
	if err != nil {
		return cycle, finished, err
	}
	if err := s.Barrier.Wait(ctx); err != nil {
		return cycle, finished, err
	}

	s.mu.Lock()
	s.playIndex = cycle
	s.lastTickTime = s.Graph.Start.CurrentTime()
	s.mu.Unlock()
	return cycle, finished, nil
}

func (s *Strategy) playLoop(ctx context.Context) {
	delay := s.playDelay()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cycle, finished, err := s.tick(ctx)
		if err != nil {
			if xe, ok := err.(*xerrors.Error); ok && xe.Code() == xerrors.CodePlayFinished {
				s.publishFinished(cycle)
				return
			}
			s.publishError(err)
			return
		}
		s.publishProgress(cycle)
		if finished {
			s.publishFinished(cycle)
			return
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Strategy) playDelay() time.Duration {
	if s.Config.PlaySpeed <= 0 {
		return 0
	}
	step, err := interpolate.Duration(s.Graph.Step)
	if err != nil || step <= 0 {
		return 0
	}
	return time.Duration(float64(step) / s.Config.PlaySpeed)
}

func (s *Strategy) subscribeAll(ctx context.Context) {
	for _, id := range s.Graph.Order {
		n := s.Graph.Nodes[id]
		recv := n.StrategyOutput().Subscribe()
		go s.consumeStrategyOutput(ctx, n, recv)
	}
}

func (s *Strategy) consumeStrategyOutput(ctx context.Context, n node.Node, recv *node.Receiver) {
	defer recv.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-recv.C():
			s.handleNodeEvent(n, ev)
		}
	}
}

func (s *Strategy) handleNodeEvent(n node.Node, ev node.Event) {
	switch ev.Kind {
	case node.EventExecuteOver:
		if n.IsLeaf() {
			s.Barrier.Report(n.Id(), ev.CycleId)
		}
	case node.EventOrderLifecycle:
		if p, ok := ev.Payload.(node.OrderLifecyclePayload); ok && p.Transaction != nil {
			s.mu.Lock()
			s.balance += p.Transaction.RealizedPnl
			s.mu.Unlock()
		}
	}
	s.publish(toRunEvent(n, ev))
}

func (s *Strategy) publish(ev types.RunEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Strategy) publishProgress(cycle types.SignalIndex) {
	s.publish(types.RunEvent{
		Type: types.EventPlayProgress, CycleId: cycle, StrategyId: s.Config.StrategyId,
		Severity: types.SeverityInfo, Message: "tick played", Datetime: time.Now(),
	})
}

func (s *Strategy) publishFinished(cycle types.SignalIndex) {
	s.publish(types.RunEvent{
		Type: types.EventPlayFinished, CycleId: cycle, StrategyId: s.Config.StrategyId,
		Severity: types.SeverityInfo, Message: "play finished", Datetime: time.Now(),
	})
}

func (s *Strategy) publishError(err error) {
	ev := types.RunEvent{
		Type: types.EventNodeStateLog, StrategyId: s.Config.StrategyId,
		Severity: types.SeverityError, Datetime: time.Now(),
	}
	if xe, ok := err.(*xerrors.Error); ok {
		ev.Message, ev.MessageZH, ev.Code = xe.Message(), xe.MessageZH(), string(xe.Code())
	} else {
		ev.Message = err.Error()
	}
	s.publish(ev)
}

func toRunEvent(n node.Node, ev node.Event) types.RunEvent {
	out := types.RunEvent{
		CycleId: ev.CycleId, NodeId: n.Id(), NodeName: n.Name(), HandleId: ev.HandleId,
		Datetime: ev.Datetime, Severity: types.SeverityInfo, Detail: ev.Payload,
	}
	switch ev.Kind {
	case node.EventKlineUpdate:
		out.Type = types.EventKlineUpdate
	case node.EventIndicatorUpdate:
		out.Type = types.EventIndicatorUpdate
	case node.EventOrderLifecycle:
		out.Type = types.EventOrderLifecycle
	case node.EventPositionUpdate:
		out.Type = types.EventPositionUpdate
	case node.EventRunStateLog:
		out.Type = types.EventNodeStateLog
		out.Severity = types.SeverityWarn
		if xe, ok := ev.Payload.(*xerrors.Error); ok {
			out.Message, out.MessageZH, out.Code = xe.Message(), xe.MessageZH(), string(xe.Code())
			chain := xe.Chain()
			codes := make([]string, len(chain))
			for i, c := range chain {
				codes[i] = string(c)
			}
			out.Chain = codes
		}
	default:
		out.Type = types.EventNodeStateLog
	}
	return out
}

// computeLayers groups order into topological layers (a node's layer is
// one more than the deepest layer among its predecessors, 0 for a node
// with none) so same-layer nodes can be processed concurrently
// while cross-layer dependencies are respected.
func computeLayers(order []types.NodeId, edges []types.EdgeConfig) [][]types.NodeId {
	preds := make(map[types.NodeId][]types.NodeId)
	for _, e := range edges {
		preds[e.Target] = append(preds[e.Target], e.Source)
	}

	depth := make(map[types.NodeId]int, len(order))
	maxDepth := 0
	for _, id := range order {
		d := 0
		for _, p := range preds[id] {
			if depth[p]+1 > d {
				d = depth[p] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]types.NodeId, maxDepth+1)
	for _, id := range order {
		layers[depth[id]] = append(layers[depth[id]], id)
	}
	return layers
}

// runLayer runs fn over every node id in layer concurrently via the
// strategy's worker pool, returning the first error observed (all tasks
// still run to completion before returning).
func (s *Strategy) runLayer(layer []types.NodeId, fn func(node.Node) error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(layer))

	for _, id := range layer {
		n := s.Graph.Nodes[id]
		wg.Add(1)
		task := func() error {
			defer wg.Done()
			err := fn(n)
			errCh <- err
			return err
		}
		if err := s.pool.SubmitFunc(task); err != nil {
			wg.Done()
			errCh <- err
		}
	}

	wg.Wait()
	close(errCh)

	var first error
	for err := range errCh {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func initNode(ctx context.Context, n node.Node) error {
	if _, err := n.FSM().Fire(node.TriggerInit); err != nil {
		return err
	}
	if err := n.Init(ctx); err != nil {
		n.FSM().Fire(node.TriggerFail)
		return err
	}
	_, err := n.FSM().Fire(node.TriggerInitComplete)
	return err
}

func checkNode(ctx context.Context, n node.Node) error {
	if _, err := n.FSM().Fire(node.TriggerCheck); err != nil {
		return err
	}
	if err := n.Check(ctx); err != nil {
		n.FSM().Fire(node.TriggerFail)
		return err
	}
	_, err := n.FSM().Fire(node.TriggerCheckPass)
	return err
}

func stopNode(ctx context.Context, n node.Node) error {
	if _, err := n.FSM().Fire(node.TriggerStop); err != nil {
		return err
	}
	if err := n.Stop(ctx); err != nil {
		n.FSM().Fire(node.TriggerFail)
		return err
	}
	_, err := n.FSM().Fire(node.TriggerStopComplete)
	return err
}
