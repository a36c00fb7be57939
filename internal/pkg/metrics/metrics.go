package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Throttle decision outcomes
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeBypass  = "bypass"
)

// Metrics holds the service's prometheus collectors on a private registry.
// All methods are safe on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	throttleDecisions *prometheus.CounterVec
	burstDenied       prometheus.Counter
	messagesSent      prometheus.Counter

	wsConnections  prometheus.Gauge
	wsEventsSent   prometheus.Counter
	wsEventsDropped prometheus.Counter
}

// New returns a fresh registry with go/process collectors and the private message metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		throttleDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pm_throttle_decisions_total",
			Help: "Private message send-throttle decisions by outcome",
		}, []string{"outcome"}),
		burstDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pm_burst_denied_total",
			Help: "Private message sends rejected by the per-user burst guard",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pm_messages_sent_total",
			Help: "Private messages stored",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open websocket connections on this instance",
		}),
		wsEventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_events_sent_total",
			Help: "Websocket events queued to local connections",
		}),
		wsEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_events_dropped_total",
			Help: "Websocket events dropped because a connection buffer was full",
		}),
	}

	reg.MustRegister(
		m.throttleDecisions,
		m.burstDenied,
		m.messagesSent,
		m.wsConnections,
		m.wsEventsSent,
		m.wsEventsDropped,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	})

	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

func (m *Metrics) ObserveThrottle(outcome string) {
	if m == nil {
		return
	}
	m.throttleDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncBurstDenied() {
	if m == nil {
		return
	}
	m.burstDenied.Inc()
}

func (m *Metrics) IncMessagesSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) AddWSConnections(delta float64) {
	if m == nil {
		return
	}
	m.wsConnections.Add(delta)
}

func (m *Metrics) IncWSEventSent() {
	if m == nil {
		return
	}
	m.wsEventsSent.Inc()
}

func (m *Metrics) IncWSEventDropped() {
	if m == nil {
		return
	}
	m.wsEventsDropped.Inc()
}
