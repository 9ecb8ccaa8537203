// Package metrics exposes Prometheus collectors for the risk services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskguard"

type Metrics struct {
	TicksProcessed  *prometheus.CounterVec
	TicksDropped    *prometheus.CounterVec
	Liquidations    *prometheus.CounterVec
	StopLossActive  prometheus.Gauge
	CircuitBreaker  prometheus.Gauge
	DailyPnL        prometheus.Gauge
	PnLUpdatesDrop  prometheus.Counter
	OrderDecisions  *prometheus.CounterVec
	AuditWritten    prometheus.Counter
	AuditFailed     prometheus.Counter
	AuditDropped    prometheus.Counter
	AuditQueueDepth prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stoploss", Name: "ticks_processed_total",
			Help: "Ticks evaluated by the stop-loss monitor.",
		}, []string{"symbol"}),
		TicksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stoploss", Name: "ticks_dropped_total",
			Help: "Ticks dropped because a decision for the symbol was in flight.",
		}, []string{"symbol"}),
		Liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stoploss", Name: "liquidations_total",
			Help: "Stop-loss liquidations by result.",
		}, []string{"result"}),
		StopLossActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stoploss", Name: "active",
			Help: "Active stop-loss configurations.",
		}),
		CircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "risk", Name: "circuit_breaker_open",
			Help: "1 when the circuit breaker is open.",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "risk", Name: "daily_pnl",
			Help: "Realized plus unrealized P&L for the day.",
		}),
		PnLUpdatesDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "risk", Name: "pnl_updates_rejected_total",
			Help: "P&L updates rejected because another update was in flight.",
		}),
		OrderDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "risk", Name: "order_decisions_total",
			Help: "Order admission decisions by code.",
		}, []string{"code"}),
		AuditWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "entries_written_total",
			Help: "Audit entries durably written.",
		}),
		AuditFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "append_failures_total",
			Help: "Failed audit appends.",
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "entries_dropped_total",
			Help: "Audit entries dropped from a full retry queue.",
		}),
		AuditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "audit", Name: "retry_queue_depth",
			Help: "Audit entries waiting for retry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TicksProcessed, m.TicksDropped, m.Liquidations, m.StopLossActive,
			m.CircuitBreaker, m.DailyPnL, m.PnLUpdatesDrop, m.OrderDecisions,
			m.AuditWritten, m.AuditFailed, m.AuditDropped, m.AuditQueueDepth,
		)
	}
	return m
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) TickProcessed(symbol string) {
	if m != nil {
		m.TicksProcessed.WithLabelValues(symbol).Inc()
	}
}

func (m *Metrics) TickDropped(symbol string) {
	if m != nil {
		m.TicksDropped.WithLabelValues(symbol).Inc()
	}
}

func (m *Metrics) Liquidation(result string) {
	if m != nil {
		m.Liquidations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetActiveStopLosses(n int) {
	if m != nil {
		m.StopLossActive.Set(float64(n))
	}
}

func (m *Metrics) SetCircuitBreaker(open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitBreaker.Set(v)
}

func (m *Metrics) SetDailyPnL(v float64) {
	if m != nil {
		m.DailyPnL.Set(v)
	}
}

func (m *Metrics) PnLUpdateRejected() {
	if m != nil {
		m.PnLUpdatesDrop.Inc()
	}
}

func (m *Metrics) OrderDecision(code string) {
	if m != nil {
		m.OrderDecisions.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) AuditWrite(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.AuditWritten.Inc()
	} else {
		m.AuditFailed.Inc()
	}
}

func (m *Metrics) AuditDrop() {
	if m != nil {
		m.AuditDropped.Inc()
	}
}

func (m *Metrics) SetAuditQueueDepth(n int) {
	if m != nil {
		m.AuditQueueDepth.Set(float64(n))
	}
}
