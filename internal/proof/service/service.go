package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"credrep/internal/events"
	"credrep/internal/fhe"
	"credrep/internal/ledger"
	"credrep/internal/platform/tracing"
	"credrep/internal/proof/metrics"
	"credrep/internal/proof/models"
	repmodels "credrep/internal/reputation/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/sentinel"
	"credrep/pkg/requestcontext"
)

// Service is the proof ledger. Proofs snapshot the stored profile at
// generation time; later credential changes never alter them.
type Service struct {
	ledger        ledger.Ledger
	engine        fhe.Engine
	timeBoundMode models.TimeBoundMode
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
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

// WithTimeBoundMode overrides the default literal time-bound behavior.
func WithTimeBoundMode(mode models.TimeBoundMode) Option {
	return func(s *Service) {
		s.timeBoundMode = mode
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
		ledger:        l,
		engine:        engine,
		timeBoundMode: models.TimeBoundLiteral,
		tracer:        tracing.Tracer("proof"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate asserts totalScore ≥ threshold. The stored proof value is
// select(meets, totalScore, 0); the predicate is never branched on.
func (s *Service) Generate(ctx context.Context, subject id.Address, threshold uint32) (_ *models.ProofRecord, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "proof.generate",
		attribute.String("subject", subject.Hex()))
	defer func() { tracing.End(span, err) }()

	var (
		rec     *models.ProofRecord
		emitted []events.Event
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		profile, err := loadProfile(ctx, st, subject)
		if err != nil {
			return err
		}
		p := fhe.NewProgram(ctx, s.engine)
		thr := p.Encrypt(fhe.EUint32, uint64(threshold))
		value := p.Select(p.Gte(profile.TotalScore, thr), profile.TotalScore, p.Const(0))
		if err := p.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to evaluate proof")
		}
		rec, emitted, err = s.store(ctx, st, subject, models.KindSingle, thr, value, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.after(ctx, rec, emitted)
	return rec, nil
}

// GenerateComposite asserts totalScore ≥ t for every threshold. The proof value
// is Σ select(mᵢ, tᵢ, 0) and MinScoreThreshold holds the AND of all predicates
// as 0/1. The proof is stored whatever the outcome.
func (s *Service) GenerateComposite(ctx context.Context, subject id.Address, thresholds []uint32) (_ *models.ProofRecord, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "proof.generate_composite",
		attribute.String("subject", subject.Hex()),
		attribute.Int("thresholds", len(thresholds)))
	defer func() { tracing.End(span, err) }()

	if len(thresholds) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "thresholds must not be empty")
	}
	if len(thresholds) > models.MaxCompositeThresholds {
		return nil, dErrors.New(dErrors.CodeBadRequest,
			"at most "+strconv.Itoa(models.MaxCompositeThresholds)+" thresholds are allowed")
	}

	var (
		rec     *models.ProofRecord
		emitted []events.Event
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		profile, err := loadProfile(ctx, st, subject)
		if err != nil {
			return err
		}
		p := fhe.NewProgram(ctx, s.engine)
		zero := p.Const(0)
		value := zero
		var all fhe.Ciphertext
		for i, t := range thresholds {
			thr := p.Encrypt(fhe.EUint32, uint64(t))
			meets := p.Gte(profile.TotalScore, thr)
			value = p.Add(value, p.Select(meets, thr, zero))
			if i == 0 {
				all = meets
			} else {
				all = p.And(all, meets)
			}
		}
		allFlag := p.Select(all, p.Const(1), zero)
		if err := p.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to evaluate composite proof")
		}
		rec, emitted, err = s.store(ctx, st, subject, models.KindComposite, allFlag, value, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveCompositeSize(len(thresholds))
	}
	s.after(ctx, rec, emitted)
	return rec, nil
}

// GenerateTimeBound creates a single-threshold proof bounded by validity. In
// literal mode the proof is invalidated in the same transaction and can never
// be revealed; in expiring mode it stays valid until CreatedAt+validity.
func (s *Service) GenerateTimeBound(ctx context.Context, subject id.Address, threshold uint32, validity time.Duration) (_ *models.ProofRecord, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "proof.generate_time_bound",
		attribute.String("subject", subject.Hex()),
		attribute.String("mode", string(s.timeBoundMode)))
	defer func() { tracing.End(span, err) }()

	if validity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "validity must be positive")
	}

	now := requestcontext.Now(ctx)
	var (
		rec     *models.ProofRecord
		emitted []events.Event
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		profile, err := loadProfile(ctx, st, subject)
		if err != nil {
			return err
		}
		p := fhe.NewProgram(ctx, s.engine)
		thr := p.Encrypt(fhe.EUint32, uint64(threshold))
		value := p.Select(p.Gte(profile.TotalScore, thr), profile.TotalScore, p.Const(0))
		if err := p.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to evaluate proof")
		}

		var expiresAt *time.Time
		if s.timeBoundMode == models.TimeBoundExpiring {
			t := now.Add(validity)
			expiresAt = &t
		}
		rec, emitted, err = s.store(ctx, st, subject, models.KindTimeBound, thr, value, expiresAt)
		if err != nil {
			return err
		}
		if s.timeBoundMode != models.TimeBoundLiteral {
			return nil
		}

		rec.Proof.ApplyInvalidation(now)
		if err := st.Proofs.Update(ctx, rec.Proof); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to invalidate proof")
		}
		ev := newEvent(ctx, events.ProofInvalidated, rec.Proof, now)
		emitted = append(emitted, ev)
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil && !rec.Proof.Valid {
		s.metrics.IncrementInvalidated()
	}
	s.after(ctx, rec, emitted)
	return rec, nil
}

// Get returns a proof with its plaintext companion.
func (s *Service) Get(ctx context.Context, proofID id.ProofID) (out *models.ProofRecord, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "proof.get",
		attribute.String("proof_id", proofID.String()))
	defer func() { tracing.End(span, err) }()

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		rec, err := st.Proofs.FindByID(ctx, proofID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "proof not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proof")
		}
		out = rec
		return nil
	})
	return out, err
}

// ListBySubject returns a subject's proofs in creation order.
func (s *Service) ListBySubject(ctx context.Context, subject id.Address) (out []*models.ProofRecord, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "proof.list_by_subject",
		attribute.String("subject", subject.Hex()))
	defer func() { tracing.End(span, err) }()

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		list, err := st.Proofs.ListBySubject(ctx, subject)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proofs")
		}
		out = list
		return nil
	})
	return out, err
}

func (s *Service) store(ctx context.Context, st ledger.Stores, subject id.Address, kind models.Kind, threshold, value fhe.Ciphertext, expiresAt *time.Time) (*models.ProofRecord, []events.Event, error) {
	seq, err := st.Sequence.Next(ctx)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate proof id")
	}
	now := requestcontext.Now(ctx)
	proof := &models.Proof{
		ID:                id.ProofID(seq),
		Subject:           subject,
		Kind:              kind,
		MinScoreThreshold: threshold,
		ProofValue:        value,
		Valid:             true,
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
	}
	decrypted := models.NewDecryptedProof(proof.ID)
	if err := st.Proofs.Create(ctx, proof, decrypted); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proof")
	}
	ev := newEvent(ctx, events.ProofGenerated, proof, now)
	if err := st.Events.Append(ctx, ev); err != nil {
		return nil, nil, err
	}
	return &models.ProofRecord{Proof: proof, Decrypted: decrypted}, []events.Event{ev}, nil
}

func (s *Service) after(ctx context.Context, rec *models.ProofRecord, emitted []events.Event) {
	if s.metrics != nil {
		s.metrics.IncrementGenerated(string(rec.Proof.Kind))
	}
	if s.logger == nil {
		return
	}
	for _, ev := range emitted {
		args := append(ev.LogArgs(), "log_type", "audit")
		s.logger.InfoContext(ctx, string(ev.Type), args...)
	}
}

func newEvent(ctx context.Context, typ events.Type, p *models.Proof, now time.Time) events.Event {
	attrs := []string{
		events.AttrProofID, p.ID.String(),
		events.AttrSubject, p.Subject.Hex(),
		events.AttrKind, string(p.Kind),
	}
	if rid := requestcontext.RequestID(ctx); rid != "" {
		attrs = append(attrs, events.AttrHTTPRequest, rid)
	}
	return events.New(typ, p.ID.String(), now, attrs...)
}

func loadProfile(ctx context.Context, st ledger.Stores, subject id.Address) (*repmodels.Profile, error) {
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
