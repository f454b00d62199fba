package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
)

const metricsNamespace = "mcpgw"

// Metrics holds the gateway's prometheus collectors. It observes calls for
// the dispatcher, sessions for the manager and rejected frames for the
// exchange.
type Metrics struct {
	registry       *prometheus.Registry
	sessions       *prometheus.GaugeVec
	sessionsClosed *prometheus.CounterVec
	sessionLife    *prometheus.HistogramVec
	calls          *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	framesRejected *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions by transport",
		}, []string{"transport"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions closed by transport and reason",
		}, []string{"transport", "reason"}),
		sessionLife: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "session_lifetime_seconds",
			Help:      "How long sessions stayed open",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
		}, []string{"transport"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "calls_total",
			Help:      "Dispatched calls by method and JSON-RPC error code, 0 on success",
		}, []string{"method", "code"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "call_duration_seconds",
			Help:      "Time spent dispatching a call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_rejected_total",
			Help:      "Inbound frames that could not be decoded",
		}, []string{"transport", "code"}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.sessionsClosed,
		m.sessionLife,
		m.calls,
		m.callDuration,
		m.framesRejected,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall implements usecases.Observer.
func (m *Metrics) ObserveCall(method string, code int, elapsed time.Duration) {
	m.calls.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.callDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SessionOpened implements session.Observer.
func (m *Metrics) SessionOpened(kind domain.TransportKind) {
	m.sessions.WithLabelValues(string(kind)).Inc()
}

// SessionClosed implements session.Observer.
func (m *Metrics) SessionClosed(kind domain.TransportKind, reason string, lifetime time.Duration) {
	m.sessions.WithLabelValues(string(kind)).Dec()
	m.sessionsClosed.WithLabelValues(string(kind), reason).Inc()
	m.sessionLife.WithLabelValues(string(kind)).Observe(lifetime.Seconds())
}

// FrameRejected implements FrameObserver.
func (m *Metrics) FrameRejected(kind domain.TransportKind, code int) {
	m.framesRejected.WithLabelValues(string(kind), strconv.Itoa(code)).Inc()
}
