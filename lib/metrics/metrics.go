// Package metrics exposes the handful of Prometheus counters/gauges the
// dispatcher and event bus maintain, in the manner of the teacher's
// lib/services/local/usagereporter.go (package-level prometheus.Collector
// values registered into a private registry rather than the global default
// one, so that multiple *Registry instances never collide in tests).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parsec"

// Registry collects every metric this server exports and serves them at
// GET /metrics (spec §2 lists "metrics" only implicitly via the teacher's
// ambient stack; the spec's Non-goals exclude a *full observability layer*,
// not bare request counters).
type Registry struct {
	reg *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	sseSubscribers  prometheus.Gauge
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "a count of dispatched RPC requests by command family and outcome",
		}, []string{"family", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "a histogram of RPC handler durations by command family",
		}, []string{"family"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "a count of events published on the bus by event type",
		}, []string{"type"}),
		sseSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_subscribers",
			Help:      "the current number of connected authenticated SSE subscribers",
		}),
	}

	reg.MustRegister(m.requestsTotal, m.requestDuration, m.eventsPublished, m.sseSubscribers)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one dispatched request's family, final status label
// ("ok" for HTTP 200, otherwise the numeric HTTP status such as "401") and
// handler duration.
func (m *Registry) ObserveRequest(family, status string, d time.Duration) {
	m.requestsTotal.WithLabelValues(family, status).Inc()
	m.requestDuration.WithLabelValues(family).Observe(d.Seconds())
}

// ObserveEvent records one event published on the bus.
func (m *Registry) ObserveEvent(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// SSESubscriberConnected/Disconnected track the live authenticated SSE
// subscriber gauge.
func (m *Registry) SSESubscriberConnected()    { m.sseSubscribers.Inc() }
func (m *Registry) SSESubscriberDisconnected() { m.sseSubscribers.Dec() }
