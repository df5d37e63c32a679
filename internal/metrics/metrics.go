// Package metrics exposes Prometheus counters for the governance pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every recording method is a no-op on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	Requests         *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	PolicyDecisions  *prometheus.CounterVec
	Anomalies        *prometheus.CounterVec
	BusMessages      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_requests_total",
				Help: "Total number of orchestrated requests by final state",
			},
			[]string{"state"},
		),
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_dispatches_total",
				Help: "Total number of tool dispatch attempts",
			},
			[]string{"tool", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_dispatch_duration_milliseconds",
				Help:    "Tool dispatch duration in milliseconds",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
			},
			[]string{"tool"},
		),
		PolicyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_policy_decisions_total",
				Help: "Total number of policy decisions by action and result",
			},
			[]string{"action", "decision"},
		),
		Anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_anomalies_total",
				Help: "Total number of anomaly alerts raised",
			},
			[]string{"tool", "role"},
		),
		BusMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_bus_messages_total",
				Help: "Total number of message bus submissions by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(m.Requests)
	m.registry.MustRegister(m.Dispatches)
	m.registry.MustRegister(m.DispatchDuration)
	m.registry.MustRegister(m.PolicyDecisions)
	m.registry.MustRegister(m.Anomalies)
	m.registry.MustRegister(m.BusMessages)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(state string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveDispatch(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(tool, outcome).Inc()
	m.DispatchDuration.WithLabelValues(tool).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) ObservePolicyDecision(action, decision string) {
	if m == nil {
		return
	}
	m.PolicyDecisions.WithLabelValues(action, decision).Inc()
}

func (m *Metrics) ObserveAnomaly(tool, role string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(tool, role).Inc()
}

func (m *Metrics) ObserveBusMessage(outcome string) {
	if m == nil {
		return
	}
	m.BusMessages.WithLabelValues(outcome).Inc()
}
