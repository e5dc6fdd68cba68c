package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantflow/backtest-engine/internal/node"
	"github.com/quantflow/backtest-engine/pkg/types"
)

var (
	ticksPlayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_ticks_played_total",
			Help: "Number of ticks played, per strategy.",
		},
		[]string{"strategy_id"},
	)

	ordersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_orders_filled_total",
			Help: "Number of futures orders filled, per strategy and side.",
		},
		[]string{"strategy_id", "side"},
	)

	realizedPnl = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backtest_realized_pnl",
			Help: "Cumulative realized PnL per strategy.",
		},
		[]string{"strategy_id"},
	)

	nodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_node_errors_total",
			Help: "Node-level run_state_log errors, per strategy and error code.",
		},
		[]string{"strategy_id", "code"},
	)

	activeStrategies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backtest_active_strategies",
			Help: "Number of strategies currently in the Playing state.",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksPlayed, ordersFilled, realizedPnl, nodeErrors, activeStrategies)
}

// ObserveRunEvent updates the relevant counters/gauges for one RunEvent
// published by a running strategy.
func ObserveRunEvent(ev types.RunEvent) {
	strategyId := strategyIdLabel(ev.StrategyId)

	switch ev.Type {
	case types.EventPlayProgress:
		ticksPlayed.WithLabelValues(strategyId).Inc()
	case types.EventOrderLifecycle:
		side := ""
		if p, ok := ev.Detail.(node.OrderLifecyclePayload); ok {
			side = string(p.Order.Side)
		}
		ordersFilled.WithLabelValues(strategyId, side).Inc()
	case types.EventNodeStateLog:
		if ev.Severity == types.SeverityError || ev.Severity == types.SeverityWarn {
			nodeErrors.WithLabelValues(strategyId, ev.Code).Inc()
		}
	}
}

// SetRealizedPnl records strategyId's cumulative realized PnL.
func SetRealizedPnl(strategyId types.StrategyId, pnl float64) {
	realizedPnl.WithLabelValues(strategyIdLabel(strategyId)).Set(pnl)
}

// IncActiveStrategies/DecActiveStrategies track how many strategies are
// currently in the Playing state.
func IncActiveStrategies() { activeStrategies.Inc() }
func DecActiveStrategies() { activeStrategies.Dec() }

func strategyIdLabel(id types.StrategyId) string {
	return strconv.FormatInt(int64(id), 10)
}
