package supervision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus collectors the orchestrator updates once
// per tick and the control surface exposes on /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	TickCount     prometheus.Counter
	OpenPositions prometheus.Gauge
	CircuitState  prometheus.Gauge
	// SlTpFailures/SlTpRecovered mirror the execution engine's own
	// cumulative counters (Set, not Add — the engine already totals
	// them across its lifetime).
	SlTpFailures  prometheus.Gauge
	SlTpRecovered prometheus.Gauge
	PendingSlTp   prometheus.Gauge
	DrawdownPct   prometheus.Gauge
}

// NewMetrics builds and registers every collector against a fresh
// registry, so tests can spin up independent instances without
// colliding on prometheus's global default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TickCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_core_tick_count_total",
			Help: "Total number of orchestrator tick cycles completed.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_core_open_positions",
			Help: "Number of currently open positions.",
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_core_circuit_state",
			Help: "Broker circuit breaker state (0=closed, 1=half_open, 2=open).",
		}),
		SlTpFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_core_sltp_failures_total",
			Help: "Total failed SL/TP attach attempts (each unverified attempt counts once).",
		}),
		SlTpRecovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_core_sltp_recovered_total",
			Help: "Total SL/TP attachments that succeeded only after a retry.",
		}),
		PendingSlTp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_core_pending_sltp",
			Help: "Number of SL/TP updates currently queued for background retry.",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_core_drawdown_pct",
			Help: "Current drawdown from peak equity, as a fraction.",
		}),
	}
	reg.MustRegister(m.TickCount, m.OpenPositions, m.CircuitState, m.SlTpFailures, m.SlTpRecovered, m.PendingSlTp, m.DrawdownPct)
	return m
}

// CircuitStateValue maps a CircuitState to the numeric value CircuitState
// gauge expects.
func CircuitStateValue(s CircuitState) float64 {
	switch s {
	case CircuitClosed:
		return 0
	case CircuitHalfOpen:
		return 1
	case CircuitOpen:
		return 2
	default:
		return -1
	}
}
