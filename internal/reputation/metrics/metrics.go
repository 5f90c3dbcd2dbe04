package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for profile recomputation and derived metrics.
type Metrics struct {
	Recomputes         prometheus.Counter
	RecomputeDuration  prometheus.Histogram
	FoldedCredentials  prometheus.Histogram
	MetricComputations *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Recomputes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrep_profile_recomputes_total",
			Help: "Total number of profile recomputations",
		}),
		RecomputeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credrep_profile_recompute_duration_seconds",
			Help:    "Duration of a full profile refold",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		FoldedCredentials: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credrep_profile_folded_credentials",
			Help:    "Number of credentials scanned per recomputation, active or not",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		MetricComputations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrep_reputation_metric_computations_total",
			Help: "Derived metric computations by metric name",
		}, []string{"metric"}),
	}
}

// ObserveRecompute records one recomputation over scanned credentials.
func (m *Metrics) ObserveRecompute(start time.Time, scanned int) {
	m.Recomputes.Inc()
	m.RecomputeDuration.Observe(time.Since(start).Seconds())
	m.FoldedCredentials.Observe(float64(scanned))
}

func (m *Metrics) IncrementMetric(name string) {
	m.MetricComputations.WithLabelValues(name).Inc()
}
