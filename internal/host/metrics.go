package host

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "remotepad"

// Metrics holds the host's Prometheus collectors. It observes the registry and
// is fed by the dispatcher.
type Metrics struct {
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter
	messagesTotal  *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
	batchSize      prometheus.Histogram
	replayDuration *prometheus.HistogramVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of connected pads",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Total number of accepted pad connections",
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Inbound messages by kind",
		}, []string{"kind"}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Replayed input events by type and outcome",
		}, []string{"type", "status"}),

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_size",
			Help:      "Events per inbound message",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),

		replayDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "replay_duration_seconds",
			Help:      "Time spent in the input simulator per event",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"type"}),
	}
}

func (m *Metrics) SessionOpened(context.Context, *Session) {
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) SessionClosed(context.Context, *Session) {
	m.activeSessions.Dec()
}

func (m *Metrics) MessageReceived(context.Context, *Session) {}

func (m *Metrics) message(kind string) {
	m.messagesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) batch(n int) {
	m.batchSize.Observe(float64(n))
}

func (m *Metrics) event(typ, status string) {
	m.eventsTotal.WithLabelValues(typ, status).Inc()
}

func (m *Metrics) replay(typ string, seconds float64) {
	m.replayDuration.WithLabelValues(typ).Observe(seconds)
}
