package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"credrep/internal/credential/metrics"
	"credrep/internal/credential/models"
	"credrep/internal/events"
	"credrep/internal/fhe"
	"credrep/internal/ledger"
	"credrep/internal/platform/tracing"
	repmodels "credrep/internal/reputation/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/sentinel"
	"credrep/pkg/requestcontext"
)

// Service is the credential store: the trusted-issuer allow-list plus the
// append-only credential registry.
type Service struct {
	ledger  ledger.Ledger
	engine  fhe.Engine
	admin   id.Address
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	maxActive int
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

// WithMaxActivePerSubject lowers the number of active credentials a subject
// may hold. Values above models.MaxActivePerSubject are rejected by New.
func WithMaxActivePerSubject(n int) Option {
	return func(s *Service) {
		s.maxActive = n
	}
}

// New constructs the credential store. admin is the only address allowed to
// change the issuer allow-list.
func New(l ledger.Ledger, engine fhe.Engine, admin id.Address, opts ...Option) (*Service, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if engine == nil {
		return nil, errors.New("fhe engine is required")
	}
	if id.IsZeroAddress(admin) {
		return nil, errors.New("ledger admin address is required")
	}
	s := &Service{
		ledger: l,
		engine: engine,
		admin:  admin,
		tracer: tracing.Tracer("credential"),

		maxActive: models.MaxActivePerSubject,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxActive < 1 || s.maxActive > models.MaxActivePerSubject {
		return nil, fmt.Errorf("max active credentials per subject must be between 1 and %d", models.MaxActivePerSubject)
	}
	return s, nil
}

// Admin returns the ledger admin address.
func (s *Service) Admin() id.Address {
	return s.admin
}

// AuthorizeIssuer adds issuer to the allow-list. Authorizing an already
// trusted issuer returns the existing entry unchanged.
func (s *Service) AuthorizeIssuer(ctx context.Context, issuer id.Address) (_ *models.TrustedIssuer, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "credential.authorize_issuer",
		attribute.String("issuer", issuer.Hex()))
	defer func() { tracing.End(span, err) }()

	caller, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if id.IsZeroAddress(issuer) {
		return nil, dErrors.New(dErrors.CodeValidation, "issuer address is required")
	}

	now := requestcontext.Now(ctx)
	var (
		out     *models.TrustedIssuer
		emitted *events.Event
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		existing, err := st.Issuers.Get(ctx, issuer)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuer")
		}
		out = &models.TrustedIssuer{Address: issuer, AuthorizedBy: caller, AuthorizedAt: now}
		if err := st.Issuers.Put(ctx, out); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to authorize issuer")
		}
		ev := s.event(ctx, events.IssuerAuthorized, issuer.Hex(), now,
			events.AttrIssuer, issuer.Hex(),
			events.AttrActor, caller.Hex(),
		)
		emitted = &ev
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	if emitted != nil {
		s.logAudit(ctx, *emitted)
		s.incrementIssuerChange("authorize")
	}
	return out, nil
}

// RevokeIssuer removes issuer from the allow-list. Credentials it already
// issued keep their state.
func (s *Service) RevokeIssuer(ctx context.Context, issuer id.Address) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "credential.revoke_issuer",
		attribute.String("issuer", issuer.Hex()))
	defer func() { tracing.End(span, err) }()

	caller, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	ev := s.event(ctx, events.IssuerRevoked, issuer.Hex(), now,
		events.AttrIssuer, issuer.Hex(),
		events.AttrActor, caller.Hex(),
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		if err := st.Issuers.Delete(ctx, issuer); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "issuer is not trusted")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke issuer")
		}
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, ev)
	s.incrementIssuerChange("revoke")
	return nil
}

// ListIssuers returns the current allow-list.
func (s *Service) ListIssuers(ctx context.Context) (out []*models.TrustedIssuer, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "credential.list_issuers")
	defer func() { tracing.End(span, err) }()

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		list, err := st.Issuers.List(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issuers")
		}
		out = list
		return nil
	})
	return out, err
}

// Issue encrypts the plaintext inputs and appends a credential issued by the
// caller. The subject's profile is created with zeroed fields on first issuance.
func (s *Service) Issue(ctx context.Context, cmd models.IssueCommand) (_ *models.Credential, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, s.tracer, "credential.issue",
		attribute.String("subject", cmd.Subject.Hex()))
	defer func() { tracing.End(span, err) }()

	issuer := requestcontext.Caller(ctx)
	if id.IsZeroAddress(issuer) {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "caller address is required")
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		out *models.Credential
		ev  events.Event
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		if _, err := st.Issuers.Get(ctx, issuer); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeUnauthorized, "caller is not a trusted issuer")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuer")
		}
		if err := s.checkCapacity(ctx, st, cmd.Subject); err != nil {
			return err
		}

		typ, score, weight, err := s.encryptInputs(ctx, cmd)
		if err != nil {
			return err
		}

		seq, err := st.Sequence.Next(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate credential id")
		}
		out = &models.Credential{
			ID:        id.CredentialID(seq),
			Issuer:    issuer,
			Subject:   cmd.Subject,
			Type:      typ,
			Score:     score,
			Weight:    weight,
			CreatedAt: now,
			Active:    true,
		}
		if err := st.Credentials.Create(ctx, out); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
		}

		if err := s.ensureProfile(ctx, st, cmd.Subject, now); err != nil {
			return err
		}

		ev = s.event(ctx, events.CredentialIssued, out.ID.String(), now,
			events.AttrCredentialID, out.ID.String(),
			events.AttrIssuer, issuer.Hex(),
			events.AttrSubject, cmd.Subject.Hex(),
		)
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, ev)
	if s.metrics != nil {
		s.metrics.IncrementIssued()
		s.metrics.ObserveIssue(start)
	}
	return out, nil
}

func (s *Service) checkCapacity(ctx context.Context, st ledger.Stores, subject id.Address) error {
	held, err := st.Credentials.ListBySubject(ctx, subject)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject credentials")
	}
	active := 0
	for _, c := range held {
		if c.Active {
			active++
		}
	}
	if active >= s.maxActive {
		return dErrors.New(dErrors.CodeConflict, "subject holds the maximum number of active credentials")
	}
	return nil
}

// Revoke deactivates a credential. Only its issuer may revoke it; revoking an
// inactive credential succeeds and changes nothing.
func (s *Service) Revoke(ctx context.Context, credID id.CredentialID) (_ *models.Credential, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "credential.revoke",
		attribute.String("credential_id", credID.String()))
	defer func() { tracing.End(span, err) }()

	caller := requestcontext.Caller(ctx)
	now := requestcontext.Now(ctx)
	var (
		out *models.Credential
		ev  events.Event
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		c, err := s.load(ctx, st, credID)
		if err != nil {
			return err
		}
		if err := c.CanRevoke(caller); err != nil {
			return err
		}
		c.ApplyRevocation(now)
		if err := st.Credentials.Update(ctx, c); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke credential")
		}
		out = c
		ev = s.event(ctx, events.CredentialRevoked, c.ID.String(), now,
			events.AttrCredentialID, c.ID.String(),
			events.AttrIssuer, c.Issuer.Hex(),
			events.AttrSubject, c.Subject.Hex(),
		)
		return st.Events.Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, ev)
	if s.metrics != nil {
		s.metrics.IncrementRevoked()
	}
	return out, nil
}

// Get returns a credential, active or not.
func (s *Service) Get(ctx context.Context, credID id.CredentialID) (out *models.Credential, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "credential.get",
		attribute.String("credential_id", credID.String()))
	defer func() { tracing.End(span, err) }()

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		c, err := s.load(ctx, st, credID)
		out = c
		return err
	})
	return out, err
}

// ListBySubject returns every credential issued to subject in issuance order.
func (s *Service) ListBySubject(ctx context.Context, subject id.Address) (out []*models.Credential, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "credential.list_by_subject",
		attribute.String("subject", subject.Hex()))
	defer func() { tracing.End(span, err) }()

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		list, err := st.Credentials.ListBySubject(ctx, subject)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credentials")
		}
		out = list
		return nil
	})
	return out, err
}

func (s *Service) requireAdmin(ctx context.Context) (id.Address, error) {
	caller := requestcontext.Caller(ctx)
	if id.IsZeroAddress(caller) {
		return caller, dErrors.New(dErrors.CodeUnauthenticated, "caller address is required")
	}
	if caller != s.admin {
		return caller, dErrors.New(dErrors.CodeUnauthorized, "only the ledger admin may manage issuers")
	}
	return caller, nil
}

func (s *Service) load(ctx context.Context, st ledger.Stores, credID id.CredentialID) (*models.Credential, error) {
	c, err := st.Credentials.FindByID(ctx, credID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	return c, nil
}

func (s *Service) encryptInputs(ctx context.Context, cmd models.IssueCommand) (typ, score, weight fhe.Ciphertext, err error) {
	if typ, err = s.engine.Encrypt(ctx, fhe.EUint32, uint64(cmd.Type)); err != nil {
		return typ, score, weight, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encrypt credential type")
	}
	if score, err = s.engine.Encrypt(ctx, fhe.EUint32, uint64(cmd.Score)); err != nil {
		return typ, score, weight, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encrypt credential score")
	}
	if weight, err = s.engine.Encrypt(ctx, fhe.EUint32, uint64(cmd.Weight)); err != nil {
		return typ, score, weight, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encrypt credential weight")
	}
	return typ, score, weight, nil
}

func (s *Service) ensureProfile(ctx context.Context, st ledger.Stores, subject id.Address, now time.Time) error {
	_, err := st.Profiles.FindBySubject(ctx, subject)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	zero, err := s.engine.Trivial(ctx, fhe.EUint32, 0)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to initialize profile")
	}
	if err := st.Profiles.Save(ctx, repmodels.NewProfile(subject, zero, now)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to initialize profile")
	}
	return nil
}

func (s *Service) event(ctx context.Context, typ events.Type, aggregateID string, now time.Time, attrs ...string) events.Event {
	if rid := requestcontext.RequestID(ctx); rid != "" {
		attrs = append(attrs, events.AttrHTTPRequest, rid)
	}
	return events.New(typ, aggregateID, now, attrs...)
}

func (s *Service) logAudit(ctx context.Context, ev events.Event) {
	if s.logger == nil {
		return
	}
	args := append(ev.LogArgs(), "log_type", "audit")
	s.logger.InfoContext(ctx, string(ev.Type), args...)
}

func (s *Service) incrementIssuerChange(action string) {
	if s.metrics != nil {
		s.metrics.IncrementIssuerChange(action)
	}
}
