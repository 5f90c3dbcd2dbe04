package models

import (
	"time"

	"credrep/internal/fhe"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
)

// Profile is the per-subject aggregate. It is derived state: the credential
// list is authoritative and a recompute rebuilds every field from it.
type Profile struct {
	Subject         id.Address
	TotalScore      fhe.Ciphertext
	TrustLevel      fhe.Ciphertext
	CredentialCount fhe.Ciphertext
	Initialized     bool
	UpdatedAt       time.Time
	RecomputedAt    *time.Time
}

// Aggregate is the output of one recomputation fold.
type Aggregate struct {
	TotalScore      fhe.Ciphertext
	TrustLevel      fhe.Ciphertext
	CredentialCount fhe.Ciphertext
}

// NewProfile creates the lazily-initialized profile with zeroed fields.
func NewProfile(subject id.Address, zero fhe.Ciphertext, now time.Time) *Profile {
	return &Profile{
		Subject:         subject,
		TotalScore:      zero,
		TrustLevel:      zero,
		CredentialCount: zero,
		Initialized:     true,
		UpdatedAt:       now,
	}
}

// ApplyAggregate replaces all derived fields at once.
func (p *Profile) ApplyAggregate(a Aggregate, now time.Time) {
	p.TotalScore = a.TotalScore
	p.TrustLevel = a.TrustLevel
	p.CredentialCount = a.CredentialCount
	p.UpdatedAt = now
	t := now
	p.RecomputedAt = &t
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	if p.RecomputedAt != nil {
		t := *p.RecomputedAt
		out.RecomputedAt = &t
	}
	return &out
}

// Metric names a derived read-only reputation metric.
type Metric string

const (
	MetricDiversity             Metric = "diversity"
	MetricConsistency           Metric = "consistency"
	MetricVelocity              Metric = "velocity"
	MetricDecay                 Metric = "decay"
	MetricSybilResistance       Metric = "sybil_resistance"
	MetricSocialCapital         Metric = "social_capital"
	MetricStability             Metric = "stability"
	MetricGovernanceWeight      Metric = "governance_weight"
	MetricEcosystemContribution Metric = "ecosystem_contribution"
	MetricWeb3Index             Metric = "web3_index"
)

// AllMetrics lists every metric in a stable order.
var AllMetrics = []Metric{
	MetricDiversity,
	MetricConsistency,
	MetricVelocity,
	MetricDecay,
	MetricSybilResistance,
	MetricSocialCapital,
	MetricStability,
	MetricGovernanceWeight,
	MetricEcosystemContribution,
	MetricWeb3Index,
}

// ParseMetric validates a metric name from a path segment.
func ParseMetric(s string) (Metric, error) {
	for _, m := range AllMetrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", dErrors.New(dErrors.CodeNotFound, "unknown metric "+s)
}

// MetricValue is one derived metric for a subject. Value is an euint32
// ciphertext; metrics are never computed over plaintexts.
type MetricValue struct {
	Subject id.Address
	Metric  Metric
	Value   fhe.Ciphertext
}
