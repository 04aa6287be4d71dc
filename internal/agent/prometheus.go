package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsPrefix = "lunge_fleet_agent_"

// agentMetrics exports the live state of an agent. Each Server owns its
// registry so several agents can run in one process (and in tests).
type agentMetrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   prometheus.Histogram
	activeVUs prometheus.Gauge
	runs      *prometheus.CounterVec
	busy      prometheus.Gauge
}

func newAgentMetrics() *agentMetrics {
	m := &agentMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricsPrefix + "requests_total",
				Help: "Number of requests sent to the target",
			},
			[]string{"outcome"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricsPrefix + "request_duration_seconds",
				Help:    "Latency of requests sent to the target",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		activeVUs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricsPrefix + "active_vus",
				Help: "Number of virtual users currently running",
			},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricsPrefix + "runs_total",
				Help: "Number of load runs by status",
			},
			[]string{"status"},
		),
		busy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricsPrefix + "busy",
				Help: "1 while a load run is in progress",
			},
		),
	}

	m.registry.MustRegister(m.requests, m.latency, m.activeVUs, m.runs, m.busy)
	return m
}

func (m *agentMetrics) ObserveRequest(latency time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.latency.Observe(latency.Seconds())
}

func (m *agentMetrics) SetActiveVUs(count int) {
	m.activeVUs.Set(float64(count))
}

func (m *agentMetrics) recordRun(status string) {
	m.runs.WithLabelValues(status).Inc()
}

func (m *agentMetrics) setBusy(busy bool) {
	if busy {
		m.busy.Set(1)
		return
	}
	m.busy.Set(0)
}
