package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the credential store.
type Metrics struct {
	CredentialsIssued  prometheus.Counter
	CredentialsRevoked prometheus.Counter
	IssuerChanges      *prometheus.CounterVec
	IssueDuration      prometheus.Histogram
}

// New creates and registers the credential store metrics.
func New() *Metrics {
	return &Metrics{
		CredentialsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrep_credentials_issued_total",
			Help: "Total number of credentials issued",
		}),
		CredentialsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credrep_credentials_revoked_total",
			Help: "Total number of credential revocations, including repeats",
		}),
		IssuerChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credrep_issuer_changes_total",
			Help: "Trusted issuer allow-list changes by action",
		}, []string{"action"}),
		IssueDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credrep_issue_credential_duration_seconds",
			Help:    "Duration of credential issuance including encryption",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	m.CredentialsIssued.Inc()
}

func (m *Metrics) IncrementRevoked() {
	m.CredentialsRevoked.Inc()
}

func (m *Metrics) IncrementIssuerChange(action string) {
	m.IssuerChanges.WithLabelValues(action).Inc()
}

// ObserveIssue records the duration of an issuance. Call with time.Now() at
// the start of the operation.
func (m *Metrics) ObserveIssue(start time.Time) {
	m.IssueDuration.Observe(time.Since(start).Seconds())
}
