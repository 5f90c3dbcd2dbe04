package oracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks decryption throughput and callback outcomes.
type Metrics struct {
	Requested        prometheus.Counter
	Delivered        *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Requested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrep_oracle_requests_total",
			Help: "Total number of decryption requests accepted by the oracle",
		}),
		Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrep_oracle_deliveries_total",
			Help: "Callback deliveries by outcome (ok, retry, dropped)",
		}, []string{"outcome"}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credrep_oracle_delivery_duration_seconds",
			Help:    "Time from request acceptance to successful callback",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncRequested() {
	m.Requested.Inc()
}

func (m *Metrics) IncDelivered(outcome string) {
	m.Delivered.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDelivery(start time.Time) {
	m.DeliveryDuration.Observe(time.Since(start).Seconds())
}
