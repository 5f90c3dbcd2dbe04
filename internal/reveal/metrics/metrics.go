package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reveal protocol.
type Metrics struct {
	RevealsRequested prometheus.Counter
	Callbacks        *prometheus.CounterVec
	RevealLatency    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		RevealsRequested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrep_reveals_requested_total",
			Help: "Total number of reveal requests submitted to the oracle",
		}),
		Callbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrep_reveal_callbacks_total",
			Help: "Reveal callbacks by outcome code",
		}, []string{"outcome"}),
		RevealLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credrep_reveal_latency_seconds",
			Help:    "Time from the first reveal request to the accepted callback",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) IncrementRequested() {
	m.RevealsRequested.Inc()
}

func (m *Metrics) IncrementCallback(outcome string) {
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// ObserveRevealLatency records the delay between requestedAt and revealedAt.
func (m *Metrics) ObserveRevealLatency(requestedAt, revealedAt time.Time) {
	m.RevealLatency.Observe(revealedAt.Sub(requestedAt).Seconds())
}
