package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks call activity for the /metrics endpoint.
type Metrics struct {
	activeSessions prometheus.Gauge
	callsTotal     *prometheus.CounterVec
	callDuration   prometheus.Histogram
	ringTimeouts   prometheus.Counter
}

// NewMetrics creates and registers the call metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxcall",
			Name:      "active_sessions",
			Help:      "Number of non-terminal call sessions.",
		}),
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxcall",
			Name:      "calls_total",
			Help:      "Completed call attempts by direction and outcome.",
		}, []string{"direction", "outcome"}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxcall",
			Name:      "call_duration_seconds",
			Help:      "Talk time of connected calls.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ringTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voxcall",
			Name:      "ring_timeouts_total",
			Help:      "Inbound calls that expired unanswered.",
		}),
	}
}

// sessionStarted records a new live session.
func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// sessionEnded records a session reaching a terminal state.
func (m *Metrics) sessionEnded(direction Direction, terminal SessionState, talkSeconds float64) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.callsTotal.WithLabelValues(direction.String(), terminal.String()).Inc()
	if terminal == StateEnded && talkSeconds > 0 {
		m.callDuration.Observe(talkSeconds)
	}
	if terminal == StateMissed {
		m.ringTimeouts.Inc()
	}
}
