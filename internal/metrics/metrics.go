// Package metrics exposes the engine's Prometheus instrumentation.
//
// Primary series:
//   - engine_orders_total{side,outcome}      – order lifecycles by terminal state
//   - engine_decisions_total{action}         – admission-policy decisions
//   - engine_risk_rejections_total{reason}   – risk-gate rejections by rule
//   - engine_stops_active                    – armed protective stops (gauge)
//   - engine_circuit_state                   – 0 closed, 1 open, 2 half-open
//   - engine_cash                            – available cash (gauge)
//   - engine_realized_pnl                    – cumulative realized PnL (gauge)
//   - engine_open_positions                  – open position count (gauge)
//   - engine_iteration_seconds               – control-loop iteration latency
//   - engine_gateway_retries_total           – retried gateway calls
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rxtech-lab/argo-execution/internal/breaker"
)

// Metrics holds the engine's instruments, registered against a caller-owned
// registry so tests can use isolated registries.
type Metrics struct {
	Orders         *prometheus.CounterVec
	Decisions      *prometheus.CounterVec
	RiskRejections *prometheus.CounterVec
	StopsActive    prometheus.Gauge
	CircuitState   prometheus.Gauge
	Cash           prometheus.Gauge
	RealizedPnL    prometheus.Gauge
	OpenPositions  prometheus.Gauge
	Iterations     prometheus.Histogram
	GatewayRetries prometheus.Counter
}

// NewMetrics creates and registers the engine's instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_orders_total",
				Help: "Order lifecycles by side and terminal outcome",
			},
			[]string{"side", "outcome"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_decisions_total",
				Help: "Admission-policy decisions by action",
			},
			[]string{"action"},
		),
		RiskRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_risk_rejections_total",
				Help: "Risk-gate rejections by rule",
			},
			[]string{"reason"},
		),
		StopsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_stops_active",
				Help: "Armed protective stops",
			},
		),
		CircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_circuit_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
		),
		Cash: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_cash",
				Help: "Available cash",
			},
		),
		RealizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_realized_pnl",
				Help: "Cumulative realized PnL",
			},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_open_positions",
				Help: "Open positions",
			},
		),
		Iterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_iteration_seconds",
				Help:    "Control-loop iteration latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		GatewayRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_gateway_retries_total",
				Help: "Retried gateway calls",
			},
		),
	}

	reg.MustRegister(
		m.Orders,
		m.Decisions,
		m.RiskRejections,
		m.StopsActive,
		m.CircuitState,
		m.Cash,
		m.RealizedPnL,
		m.OpenPositions,
		m.Iterations,
		m.GatewayRetries,
	)

	return m
}

// SetCircuitState records a breaker state as a numeric gauge value.
func (m *Metrics) SetCircuitState(state breaker.State) {
	switch state {
	case breaker.StateClosed:
		m.CircuitState.Set(0)
	case breaker.StateOpen:
		m.CircuitState.Set(1)
	case breaker.StateHalfOpen:
		m.CircuitState.Set(2)
	}
}
