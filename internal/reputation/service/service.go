package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	credmodels "credrep/internal/credential/models"
	"credrep/internal/events"
	"credrep/internal/fhe"
	"credrep/internal/ledger"
	"credrep/internal/platform/tracing"
	"credrep/internal/reputation/metrics"
	"credrep/internal/reputation/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/sentinel"
	"credrep/pkg/requestcontext"
)

// Service maintains reputation profiles and computes derived metrics from a
// subject's credential history.
type Service struct {
	ledger      ledger.Ledger
	engine      fhe.Engine
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	parallelism int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithParallelism bounds how many metrics AllMetrics evaluates concurrently.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

func New(l ledger.Ledger, engine fhe.Engine, opts ...Option) (*Service, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if engine == nil {
		return nil, errors.New("fhe engine is required")
	}
	s := &Service{
		ledger:      l,
		engine:      engine,
		tracer:      tracing.Tracer("reputation"),
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Recompute refolds every credential ever issued to subject and replaces the
// profile's derived fields in one transaction. Only active credentials
// contribute. With no credential change in between, two calls produce
// identical ciphertext handles.
func (s *Service) Recompute(ctx context.Context, subject id.Address) (_ *models.Profile, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, s.tracer, "reputation.recompute",
		attribute.String("subject", subject.Hex()))
	defer func() { tracing.End(span, err) }()

	now := requestcontext.Now(ctx)
	var (
		out     *models.Profile
		ev      events.Event
		scanned int
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		p, err := loadProfile(ctx, st, subject)
		if err != nil {
			return err
		}
		creds, err := st.Credentials.ListBySubject(ctx, subject)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credentials")
		}
		scanned = len(creds)

		agg, err := Fold(ctx, s.engine, creds)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to fold credentials")
		}
		p.ApplyAggregate(agg, now)
		if err := st.Profiles.Save(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save profile")
		}
		out = p

		attrs := []string{events.AttrSubject, subject.Hex()}
		if rid := requestcontext.RequestID(ctx); rid != "" {
			attrs = append(attrs, events.AttrHTTPRequest, rid)
		}
		ev = events.New(events.ProfileRecomputed, subject.Hex(), now, attrs...)
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		args := append(ev.LogArgs(), "scanned", scanned, "log_type", "audit")
		s.logger.InfoContext(ctx, string(ev.Type), args...)
	}
	if s.metrics != nil {
		s.metrics.ObserveRecompute(start, scanned)
	}
	return out, nil
}

// Fold computes the profile aggregate over creds:
//
//	totalScore      = Σ score·weight / max(Σ weight, 1)
//	trustLevel      = totalScore/10 + count/5
//	credentialCount = count
//
// Inactive credentials are skipped. Every constant is a trivial encryption,
// so the result handles depend only on the credential ciphertexts.
func Fold(ctx context.Context, engine fhe.Engine, creds []*credmodels.Credential) (models.Aggregate, error) {
	p := fhe.NewProgram(ctx, engine)
	zero, one := p.Const(0), p.Const(1)

	sumWS, sumW, count := zero, zero, zero
	for _, c := range creds {
		if !c.Active {
			continue
		}
		sumWS = p.Add(sumWS, p.Mul(c.Score, c.Weight))
		sumW = p.Add(sumW, c.Weight)
		count = p.Add(count, one)
	}

	total := p.DivFloor1(sumWS, sumW)
	trust := p.Add(p.Div(total, p.Const(10)), p.Div(count, p.Const(5)))
	if err := p.Err(); err != nil {
		return models.Aggregate{}, err
	}
	return models.Aggregate{TotalScore: total, TrustLevel: trust, CredentialCount: count}, nil
}

// Get returns the stored profile without recomputing it.
func (s *Service) Get(ctx context.Context, subject id.Address) (out *models.Profile, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "reputation.get",
		attribute.String("subject", subject.Hex()))
	defer func() { tracing.End(span, err) }()

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		p, err := loadProfile(ctx, st, subject)
		out = p
		return err
	})
	return out, err
}

func loadProfile(ctx context.Context, st ledger.Stores, subject id.Address) (*models.Profile, error) {
	p, err := st.Profiles.FindBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeProfileUninitialized, "subject has no reputation profile")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	if !p.Initialized {
		return nil, dErrors.New(dErrors.CodeProfileUninitialized, "subject has no reputation profile")
	}
	return p, nil
}
