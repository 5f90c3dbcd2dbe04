package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the proof ledger.
type Metrics struct {
	ProofsGenerated   *prometheus.CounterVec
	ProofsInvalidated prometheus.Counter
	CompositeSize     prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ProofsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrep_proofs_generated_total",
			Help: "Total number of proofs generated by kind",
		}, []string{"kind"}),
		ProofsInvalidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrep_proofs_invalidated_total",
			Help: "Total number of proofs invalidated",
		}),
		CompositeSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credrep_composite_proof_thresholds",
			Help:    "Number of thresholds per composite proof",
			Buckets: []float64{1, 2, 4, 8, 16},
		}),
	}
}

func (m *Metrics) IncrementGenerated(kind string) {
	m.ProofsGenerated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementInvalidated() {
	m.ProofsInvalidated.Inc()
}

func (m *Metrics) ObserveCompositeSize(n int) {
	m.CompositeSize.Observe(float64(n))
}
