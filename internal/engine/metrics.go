package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полная обработка запроса, включая вызов коннектора
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Решения пайплайна по исходам и кодам (allowed/blocked/held)
	GateDecisions *prometheus.CounterVec

	// Saturation: очередь HITL и остановленные агенты
	PendingHolds prometheus.Gauge
	HaltedAgents prometheus.Gauge

	// Состояние предохранителя внешнего SAP-коннектора (0 - ок, 1 - выбило)
	ConnectorBreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pmgate_request_duration_seconds",
			Help:    "Histogram of request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"agent_id", "tool", "outcome"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pmgate_requests_total",
			Help: "Total number of processed requests.",
		}, []string{"agent_id", "tool"}),

		GateDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pmgate_gate_decisions_total",
			Help: "Governance pipeline decisions by outcome and code.",
		}, []string{"outcome", "code"}), // коды: agent_halted, invalid_frame, forbidden_mode, ...

		PendingHolds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmgate_pending_holds",
			Help: "Number of hold requests awaiting a human decision.",
		}),

		HaltedAgents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmgate_halted_agents",
			Help: "Number of agents with an open circuit.",
		}),

		ConnectorBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmgate_connector_breaker_state",
			Help: "Current state of the SAP connector circuit breaker (0=closed, 1=open).",
		}),
	}
}
