package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	credmodels "credrep/internal/credential/models"
	"credrep/internal/fhe"
	"credrep/internal/ledger"
	"credrep/internal/platform/tracing"
	"credrep/internal/reputation/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/requestcontext"
)

const day = 24 * time.Hour

// snapshot is the read set every metric is computed from: the stored profile
// plus a fresh scan of the subject's credentials. Plaintext metadata (active
// flag, issuer, timestamps) may steer control flow; ciphertexts never do.
type snapshot struct {
	profile *models.Profile
	all     []*credmodels.Credential
	active  []*credmodels.Credential
	now     time.Time
}

func (s *Service) snapshot(ctx context.Context, subject id.Address) (*snapshot, error) {
	snap := &snapshot{now: requestcontext.Now(ctx)}
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		p, err := loadProfile(ctx, st, subject)
		if err != nil {
			return err
		}
		creds, err := st.Credentials.ListBySubject(ctx, subject)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credentials")
		}
		snap.profile = p
		snap.all = creds
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range snap.all {
		if c.Active {
			snap.active = append(snap.active, c)
		}
	}
	return snap, nil
}

// Metric computes one derived metric from scratch.
func (s *Service) Metric(ctx context.Context, subject id.Address, metric models.Metric) (_ *models.MetricValue, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "reputation.metric",
		attribute.String("subject", subject.Hex()),
		attribute.String("metric", string(metric)))
	defer func() { tracing.End(span, err) }()

	snap, err := s.snapshot(ctx, subject)
	if err != nil {
		return nil, err
	}
	v, err := s.evaluate(ctx, snap, metric)
	if err != nil {
		return nil, err
	}
	return &models.MetricValue{Subject: subject, Metric: metric, Value: v}, nil
}

// AllMetrics computes every metric over one snapshot, evaluating them
// concurrently. Results follow models.AllMetrics order.
func (s *Service) AllMetrics(ctx context.Context, subject id.Address) (_ []*models.MetricValue, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "reputation.all_metrics",
		attribute.String("subject", subject.Hex()))
	defer func() { tracing.End(span, err) }()

	snap, err := s.snapshot(ctx, subject)
	if err != nil {
		return nil, err
	}

	out := make([]*models.MetricValue, len(models.AllMetrics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, m := range models.AllMetrics {
		g.Go(func() error {
			v, err := s.evaluate(gctx, snap, m)
			if err != nil {
				return err
			}
			out[i] = &models.MetricValue{Subject: subject, Metric: m, Value: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) evaluate(ctx context.Context, snap *snapshot, metric models.Metric) (fhe.Ciphertext, error) {
	fn, ok := calculators[metric]
	if !ok {
		return fhe.Ciphertext{}, dErrors.New(dErrors.CodeNotFound, "unknown metric "+string(metric))
	}
	p := fhe.NewProgram(ctx, s.engine)
	v := fn(p, snap)
	if err := p.Err(); err != nil {
		return fhe.Ciphertext{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute "+string(metric))
	}
	if s.metrics != nil {
		s.metrics.IncrementMetric(string(metric))
	}
	return v, nil
}

type calculator func(p *fhe.Program, snap *snapshot) fhe.Ciphertext

var calculators = map[models.Metric]calculator{
	models.MetricDiversity:             diversity,
	models.MetricConsistency:           consistency,
	models.MetricVelocity:              velocity,
	models.MetricDecay:                 decay,
	models.MetricSybilResistance:       sybilResistance,
	models.MetricSocialCapital:         socialCapital,
	models.MetricStability:             stability,
	models.MetricGovernanceWeight:      governanceWeight,
	models.MetricEcosystemContribution: ecosystemContribution,
	models.MetricWeb3Index:             web3Index,
}

// diversity is distinct credential types ×100 / n. A type counts as new when
// it differs from every earlier type, decided encrypted-wise.
func diversity(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	n := len(snap.active)
	if n < 2 {
		return p.Const(0)
	}
	zero, one := p.Const(0), p.Const(1)
	distinct := one
	for i := 1; i < n; i++ {
		isNew := p.Ne(snap.active[i].Type, snap.active[0].Type)
		for j := 1; j < i; j++ {
			isNew = p.And(isNew, p.Ne(snap.active[i].Type, snap.active[j].Type))
		}
		distinct = p.Add(distinct, p.Select(isNew, one, zero))
	}
	return p.Div(p.Mul(distinct, p.Const(100)), p.Const(uint64(n)))
}

// consistency is 100 − min(maxScore − minScore, 100).
func consistency(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	if len(snap.active) < 2 {
		return p.Const(100)
	}
	hi, lo := snap.active[0].Score, snap.active[0].Score
	for _, c := range snap.active[1:] {
		hi = p.Max(hi, c.Score)
		lo = p.Min(lo, c.Score)
	}
	hundred := p.Const(100)
	return p.Sub(hundred, p.Min(p.Sub(hi, lo), hundred))
}

// velocity is (n−1)·30 / max(spanDays, 1), span measured between the first and
// last active credential.
func velocity(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	n := len(snap.active)
	if n < 2 {
		return p.Const(0)
	}
	span := snap.active[n-1].CreatedAt.Sub(snap.active[0].CreatedAt)
	spanDays := uint64(max(span/day, 1))
	return p.Div(p.Mul(p.Const(uint64(n-1)), p.Const(30)), p.Const(spanDays))
}

// decay weights each score by freshness f = max(0, 100 − ageDays):
// Σ score·weight·f / max(Σ weight·100, 1).
func decay(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	if len(snap.active) == 0 {
		return p.Const(0)
	}
	zero, hundred := p.Const(0), p.Const(100)
	num, den := zero, zero
	for _, c := range snap.active {
		age := int64(snap.now.Sub(c.CreatedAt) / day)
		freshness := uint64(max(100-age, 0))
		num = p.Add(num, p.Mul(p.Mul(c.Score, c.Weight), p.Const(freshness)))
		den = p.Add(den, p.Mul(c.Weight, hundred))
	}
	return p.DivFloor1(num, den)
}

// sybilResistance is min(distinctIssuers·25, 75) + min(trustLevel, 25).
func sybilResistance(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	issuers := uint64(distinctIssuers(snap.active))
	return p.Add(p.Const(min(issuers*25, 75)), p.Min(snap.profile.TrustLevel, p.Const(25)))
}

// socialCapital is trustLevel·distinctIssuers + credentialCount.
func socialCapital(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	issuers := uint64(distinctIssuers(snap.active))
	return p.Add(p.Mul(snap.profile.TrustLevel, p.Const(issuers)), snap.profile.CredentialCount)
}

// stability is the active share of all credentials ever issued, in percent.
func stability(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	total := uint64(len(snap.all))
	if total == 0 {
		return p.Const(0)
	}
	return p.Div(p.Const(uint64(len(snap.active))*100), p.Const(total))
}

// governanceWeight is totalScore·min(n, 10) / 10.
func governanceWeight(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	n := uint64(min(len(snap.active), 10))
	return p.Div(p.Mul(snap.profile.TotalScore, p.Const(n)), p.Const(10))
}

// ecosystemContribution sums the weights of credentials scoring at least 50.
func ecosystemContribution(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	zero, fifty := p.Const(0), p.Const(50)
	sum := zero
	for _, c := range snap.active {
		sum = p.Add(sum, p.Select(p.Gte(c.Score, fifty), c.Weight, zero))
	}
	return sum
}

// web3Index is (4·totalScore + 3·trustLevel + 2·diversity + consistency) / 10,
// forced to zero by select when the profile counts no credentials.
func web3Index(p *fhe.Program, snap *snapshot) fhe.Ciphertext {
	weighted := p.Add(
		p.Add(p.Mul(snap.profile.TotalScore, p.Const(4)), p.Mul(snap.profile.TrustLevel, p.Const(3))),
		p.Add(p.Mul(diversity(p, snap), p.Const(2)), consistency(p, snap)),
	)
	index := p.Div(weighted, p.Const(10))
	zero := p.Const(0)
	return p.Select(p.Eq(snap.profile.CredentialCount, zero), zero, index)
}

func distinctIssuers(creds []*credmodels.Credential) int {
	seen := make(map[id.Address]struct{}, len(creds))
	for _, c := range creds {
		seen[c.Issuer] = struct{}{}
	}
	return len(seen)
}
