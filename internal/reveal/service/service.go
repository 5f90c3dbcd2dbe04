package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"credrep/internal/events"
	"credrep/internal/fhe"
	"credrep/internal/fhe/oracle"
	"credrep/internal/ledger"
	"credrep/internal/platform/tracing"
	proofmodels "credrep/internal/proof/models"
	"credrep/internal/reveal/metrics"
	"credrep/internal/reveal/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/sentinel"
	"credrep/pkg/requestcontext"
)

// Oracle accepts ciphertexts for asynchronous decryption. It must not block
// on the decryption itself. Cancel withdraws a request whose id could not be
// recorded.
type Oracle interface {
	RequestDecryption(ctx context.Context, handles []fhe.Ciphertext) (id.RequestID, error)
	Cancel(requestID id.RequestID)
}

// Verifier authenticates cleartexts delivered for a request id and the
// handles that were submitted under it.
type Verifier interface {
	Verify(requestID id.RequestID, handles []fhe.Ciphertext, cleartexts, attestation []byte) error
}

// Service routes reveal requests to the oracle and resolves its callbacks
// back to proofs. Per proof: sealed → reveal_requested → revealed.
type Service struct {
	ledger   ledger.Ledger
	oracle   Oracle
	verifier Verifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
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

func New(l ledger.Ledger, o Oracle, v Verifier, opts ...Option) (*Service, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if o == nil {
		return nil, errors.New("decryption oracle is required")
	}
	if v == nil {
		return nil, errors.New("attestation verifier is required")
	}
	s := &Service{
		ledger:   l,
		oracle:   o,
		verifier: v,
		tracer:   tracing.Tracer("reveal"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestReveal submits the proof's threshold and value ciphertexts for
// decryption and records the returned request id. It returns as soon as the
// oracle has accepted the job. Requesting again while a reveal is pending is
// allowed and yields a new request id. When the transaction does not commit
// the oracle job is withdrawn.
func (s *Service) RequestReveal(ctx context.Context, proofID id.ProofID) (_ *models.RevealReceipt, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "reveal.request",
		attribute.String("proof_id", proofID.String()))
	defer func() { tracing.End(span, err) }()

	now := requestcontext.Now(ctx)
	var (
		receipt *models.RevealReceipt
		ev      events.Event
		issued  id.RequestID
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		rec, err := st.Proofs.FindByID(ctx, proofID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "proof not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proof")
		}
		if err := rec.Proof.CanReveal(now); err != nil {
			return err
		}
		if err := rec.Decrypted.CanRequestReveal(); err != nil {
			return err
		}

		handles := []fhe.Ciphertext{rec.Proof.MinScoreThreshold, rec.Proof.ProofValue}
		reqID, err := s.oracle.RequestDecryption(ctx, handles)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "decryption oracle rejected the request")
		}
		if reqID == 0 {
			return dErrors.New(dErrors.CodeInternal, "decryption oracle returned no request id")
		}
		issued = reqID

		req := &models.RevealRequest{RequestID: reqID, ProofID: proofID, Handles: handles, CreatedAt: now}
		if err := st.Requests.Create(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record reveal request")
		}
		rec.Decrypted.ApplyRevealRequested(now)
		if err := st.Proofs.UpdateDecrypted(ctx, rec.Decrypted); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update proof reveal state")
		}

		receipt = &models.RevealReceipt{RequestID: reqID, ProofID: proofID}
		ev = newEvent(ctx, events.RevealRequested, proofID, reqID, rec.Proof)
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		if issued != 0 {
			s.oracle.Cancel(issued)
		}
		return nil, err
	}

	s.logAudit(ctx, ev)
	if s.metrics != nil {
		s.metrics.IncrementRequested()
	}
	return receipt, nil
}

// OnRevealCallback accepts the oracle's delivery for requestID. The
// attestation is verified before the cleartexts are decoded. A repeated
// delivery for an already revealed proof fails with AlreadyRevealed and leaves
// the revealed values untouched.
func (s *Service) OnRevealCallback(ctx context.Context, requestID id.RequestID, cleartexts, attestation []byte) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "reveal.callback",
		attribute.String("request_id", requestID.String()))
	defer func() {
		s.countCallback(err)
		tracing.End(span, err)
	}()

	if requestID == 0 {
		return dErrors.New(dErrors.CodeUnknownRequest, "unknown decryption request")
	}

	now := requestcontext.Now(ctx)
	var (
		ev      events.Event
		decided *proofmodels.DecryptedProof
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		req, err := st.Requests.FindByID(ctx, requestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeUnknownRequest, "unknown decryption request")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reveal request")
		}

		if err := s.verifier.Verify(requestID, req.Handles, cleartexts, attestation); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidAttestation, "attestation does not authenticate the cleartexts")
		}

		rec, err := st.Proofs.FindByID(ctx, req.ProofID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proof for reveal request")
		}
		if err := rec.Decrypted.CanApplyReveal(); err != nil {
			return err
		}

		values, err := oracle.DecodeCleartexts(cleartexts, 2)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "cleartexts must be two 32-byte words")
		}
		rec.Decrypted.ApplyReveal(values[0], values[1], now)
		if err := st.Proofs.UpdateDecrypted(ctx, rec.Decrypted); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store revealed values")
		}
		req.ApplyConsumed(now)
		if err := st.Requests.Update(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume reveal request")
		}

		decided = rec.Decrypted
		ev = newEvent(ctx, events.ProofDecrypted, req.ProofID, requestID, rec.Proof)
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, ev)
	if s.metrics != nil && decided.RequestedAt != nil {
		s.metrics.ObserveRevealLatency(*decided.RequestedAt, now)
	}
	return nil
}

func newEvent(ctx context.Context, typ events.Type, proofID id.ProofID, reqID id.RequestID, p *proofmodels.Proof) events.Event {
	attrs := []string{
		events.AttrProofID, proofID.String(),
		events.AttrRequestID, reqID.String(),
		events.AttrSubject, p.Subject.Hex(),
	}
	if rid := requestcontext.RequestID(ctx); rid != "" {
		attrs = append(attrs, events.AttrHTTPRequest, rid)
	}
	return events.New(typ, proofID.String(), requestcontext.Now(ctx), attrs...)
}

func (s *Service) logAudit(ctx context.Context, ev events.Event) {
	if s.logger == nil {
		return
	}
	args := append(ev.LogArgs(), "log_type", "audit")
	s.logger.InfoContext(ctx, string(ev.Type), args...)
}

func (s *Service) countCallback(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	s.metrics.IncrementCallback(outcome)
}
