// Package metrics exposes a private Prometheus registry of gauges and
// counters describing the live trading state, namespaced "warden".
// Uses promauto over a private registry rather than the global default,
// narrowed to this system's single portfolio.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the private registry every gauge/counter below is
// registered against; the control API's /metrics handler serves it
// rather than the global default registry.
var Registry = prometheus.NewRegistry()

var (
	PortfolioValue = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "portfolio", Name: "value_usd",
		Help: "Current total portfolio value in quote currency.",
	})

	PortfolioCash = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "portfolio", Name: "cash_usd",
		Help: "Current uncommitted cash.",
	})

	PortfolioPnLPct = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "portfolio", Name: "pnl_percent",
		Help: "P&L percentage against initial capital.",
	})

	DrawdownPct = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "portfolio", Name: "drawdown_percent",
		Help: "Maximum drawdown from the portfolio's peak value seen this session, in percent.",
	})

	OpenPositions = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "portfolio", Name: "open_positions",
		Help: "Number of currently open positions.",
	})

	TotalFeesPaid = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "portfolio", Name: "total_fees_usd",
		Help: "Cumulative fees paid.",
	})

	TradesTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "warden", Subsystem: "trader", Name: "trades_total",
		Help: "Total number of executed fills (opens and closes).",
	})

	FillsBySide = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden", Subsystem: "trader", Name: "fills_total",
		Help: "Executed fills partitioned by side and action.",
	}, []string{"side", "action"})

	ExitReasons = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden", Subsystem: "trader", Name: "exits_total",
		Help: "Closed positions partitioned by exit reason.",
	}, []string{"reason"})

	RiskLevel = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "risk", Name: "level",
		Help: "1 if the risk controller currently reports this level, else 0.",
	}, []string{"level"})

	RiskEventsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden", Subsystem: "risk", Name: "events_total",
		Help: "Risk events recorded, partitioned by trigger.",
	}, []string{"trigger"})

	KillSwitchActive = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "warden", Subsystem: "risk", Name: "kill_switch_active",
		Help: "1 if new entries are currently denied, else 0.",
	})

	QuoteSourceFailuresTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden", Subsystem: "quote", Name: "source_failures_total",
		Help: "Price-source fetch failures, partitioned by source.",
	}, []string{"source"})

	TickDurationSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "warden", Subsystem: "scheduler", Name: "tick_duration_seconds",
		Help:    "Wall-clock duration of one control-loop tick.",
		Buckets: prometheus.DefBuckets,
	})
)

var allRiskLevels = []string{"OK", "WARNING", "CRITICAL", "EMERGENCY", "BLACK_SWAN_FREEZE", "CIRCUIT_BREAKER"}

// SetRiskLevel sets the single active level to 1 and every other
// tracked level to 0, so a Prometheus query for the active level is a
// simple equality match rather than a label-existence check.
func SetRiskLevel(active string) {
	for _, level := range allRiskLevels {
		value := 0.0
		if level == active {
			value = 1.0
		}
		RiskLevel.WithLabelValues(level).Set(value)
	}
}
