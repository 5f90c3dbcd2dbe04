package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected      *prometheus.CounterVec
	CircuitOpen   prometheus.Gauge
	StoreFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrep_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter, by endpoint class",
		}, []string{"class"}),
		CircuitOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credrep_ratelimit_circuit_open",
			Help: "1 while the rate limiter runs on its in-memory fallback",
		}),
		StoreFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrep_ratelimit_store_failures_total",
			Help: "Rate limit checks that failed against the primary store",
		}),
	}
}

func (m *Metrics) IncrementRejected(class string) {
	m.Rejected.WithLabelValues(class).Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}

func (m *Metrics) IncrementStoreFailures() {
	m.StoreFailures.Inc()
}
