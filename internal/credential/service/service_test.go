package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credrep/internal/credential/models"
	"credrep/internal/fhe/local"
	"credrep/internal/ledger"
	"credrep/internal/ledger/memory"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/requestcontext"
)

// =============================================================================
// Credential Service Test Suite
// =============================================================================
// Justification: the credential store owns the allow-list and the only write
// paths into a subject's history. Tests pin authorization, the shared id
// sequence, lazy profile creation and the permissive double revoke.

type CredentialServiceSuite struct {
	suite.Suite
	ledger  *memory.Ledger
	cp      *local.Coprocessor
	service *Service
	now     time.Time
}

var (
	admin    = id.Address{0xad}
	issuerA  = id.Address{0x0a}
	issuerB  = id.Address{0x0b}
	subjectS = id.Address{0x55}
)

func TestCredentialServiceSuite(t *testing.T) {
	suite.Run(t, new(CredentialServiceSuite))
}

func (s *CredentialServiceSuite) SetupTest() {
	s.ledger = memory.New()
	cp, err := local.New(local.NewInMemoryStore())
	s.Require().NoError(err)
	s.cp = cp
	svc, err := New(s.ledger, cp, admin)
	s.Require().NoError(err)
	s.service = svc
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *CredentialServiceSuite) as(caller id.Address) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), caller)
	return requestcontext.WithTime(ctx, s.now)
}

func (s *CredentialServiceSuite) trust(issuer id.Address) {
	_, err := s.service.AuthorizeIssuer(s.as(admin), issuer)
	s.Require().NoError(err)
}

func (s *CredentialServiceSuite) issue(issuer id.Address, score, weight uint32) *models.Credential {
	c, err := s.service.Issue(s.as(issuer), models.IssueCommand{Subject: subjectS, Type: 1, Score: score, Weight: weight})
	s.Require().NoError(err)
	return c
}

func (s *CredentialServiceSuite) TestNew() {
	cp := s.cp
	s.Run("nil ledger", func() {
		_, err := New(nil, cp, admin)
		s.ErrorContains(err, "ledger is required")
	})
	s.Run("nil engine", func() {
		_, err := New(s.ledger, nil, admin)
		s.ErrorContains(err, "fhe engine is required")
	})
	s.Run("zero admin", func() {
		_, err := New(s.ledger, cp, id.ZeroAddress)
		s.ErrorContains(err, "admin")
	})
	s.Run("active limit outside range", func() {
		_, err := New(s.ledger, cp, admin, WithMaxActivePerSubject(0))
		s.ErrorContains(err, "max active credentials")
		_, err = New(s.ledger, cp, admin, WithMaxActivePerSubject(models.MaxActivePerSubject+1))
		s.ErrorContains(err, "max active credentials")
	})
}

// =============================================================================
// Issuer allow-list
// =============================================================================

func (s *CredentialServiceSuite) TestAuthorizeIssuer() {
	s.Run("non-admin caller is unauthorized", func() {
		_, err := s.service.AuthorizeIssuer(s.as(issuerA), issuerA)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("anonymous caller is unauthenticated", func() {
		_, err := s.service.AuthorizeIssuer(context.Background(), issuerA)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	s.Run("admin authorizes once and repeats are idempotent", func() {
		first, err := s.service.AuthorizeIssuer(s.as(admin), issuerA)
		s.Require().NoError(err)
		s.Equal(admin, first.AuthorizedBy)

		pending := s.ledger.PendingEvents()
		again, err := s.service.AuthorizeIssuer(s.as(admin), issuerA)
		s.Require().NoError(err)
		s.Equal(first.AuthorizedAt, again.AuthorizedAt)
		s.Equal(pending, s.ledger.PendingEvents(), "repeat authorization emits nothing")

		list, err := s.service.ListIssuers(s.as(issuerB))
		s.Require().NoError(err)
		s.Len(list, 1)
	})
}

func (s *CredentialServiceSuite) TestRevokeIssuer() {
	s.trust(issuerA)
	c := s.issue(issuerA, 80, 1)

	s.Run("unknown issuer is not found", func() {
		err := s.service.RevokeIssuer(s.as(admin), issuerB)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("revoked issuer can no longer issue but history stays", func() {
		s.Require().NoError(s.service.RevokeIssuer(s.as(admin), issuerA))

		_, err := s.service.Issue(s.as(issuerA), models.IssueCommand{Subject: subjectS, Score: 1, Weight: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		got, err := s.service.Get(s.as(issuerB), c.ID)
		s.Require().NoError(err)
		s.True(got.Active)
	})
}

// =============================================================================
// Issuance
// =============================================================================

func (s *CredentialServiceSuite) TestIssue() {
	s.Run("untrusted issuer is unauthorized and nothing is written", func() {
		_, err := s.service.Issue(s.as(issuerB), models.IssueCommand{Subject: subjectS, Score: 80, Weight: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		list, err := s.service.ListBySubject(s.as(issuerB), subjectS)
		s.Require().NoError(err)
		s.Empty(list)
		s.Zero(s.ledger.PendingEvents())
	})

	s.Run("zero subject is a validation error", func() {
		s.trust(issuerA)
		_, err := s.service.Issue(s.as(issuerA), models.IssueCommand{Score: 80, Weight: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("score or weight above 100 is rejected before encryption", func() {
		s.trust(issuerA)
		_, err := s.service.Issue(s.as(issuerA), models.IssueCommand{Subject: subjectS, Score: 70000, Weight: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.service.Issue(s.as(issuerA), models.IssueCommand{Subject: subjectS, Score: 100, Weight: 70000})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		list, err := s.service.ListBySubject(s.as(issuerA), subjectS)
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("ids are sequential and values are encrypted", func() {
		s.trust(issuerA)
		first := s.issue(issuerA, 80, 1)
		second := s.issue(issuerA, 60, 2)
		s.Equal(first.ID+1, second.ID)
		s.True(first.Active)
		s.Equal(issuerA, first.Issuer)
		s.Equal(s.now, first.CreatedAt)

		score, err := s.cp.Decrypt(context.Background(), second.Score)
		s.Require().NoError(err)
		s.Equal(uint64(60), score)
		weight, err := s.cp.Decrypt(context.Background(), second.Weight)
		s.Require().NoError(err)
		s.Equal(uint64(2), weight)
	})

	s.Run("first issuance creates an initialized zero profile", func() {
		s.Require().NoError(s.ledger.RunInTx(context.Background(), func(ctx context.Context, st ledger.Stores) error {
			p, err := st.Profiles.FindBySubject(ctx, subjectS)
			s.Require().NoError(err)
			s.True(p.Initialized)
			total, err := s.cp.Decrypt(ctx, p.TotalScore)
			s.Require().NoError(err)
			s.Zero(total)
			return nil
		}))
	})
}

func (s *CredentialServiceSuite) TestIssueStopsAtActiveLimit() {
	svc, err := New(s.ledger, s.cp, admin, WithMaxActivePerSubject(2))
	s.Require().NoError(err)
	s.service = svc
	s.trust(issuerA)

	first := s.issue(issuerA, 100, 100)
	s.issue(issuerA, 100, 100)
	_, err = s.service.Issue(s.as(issuerA), models.IssueCommand{Subject: subjectS, Type: 1, Score: 100, Weight: 100})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.Revoke(s.as(issuerA), first.ID)
	s.Require().NoError(err)
	s.issue(issuerA, 100, 100)
}

// =============================================================================
// Revocation
// =============================================================================

func (s *CredentialServiceSuite) TestRevoke() {
	s.trust(issuerA)
	s.trust(issuerB)
	c := s.issue(issuerA, 80, 1)

	s.Run("unknown id is not found", func() {
		_, err := s.service.Revoke(s.as(issuerA), 999)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("another issuer is unauthorized", func() {
		_, err := s.service.Revoke(s.as(issuerB), c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("issuer revokes and a second revoke is permitted", func() {
		revoked, err := s.service.Revoke(s.as(issuerA), c.ID)
		s.Require().NoError(err)
		s.False(revoked.Active)
		firstRevokedAt := *revoked.RevokedAt

		s.now = s.now.Add(time.Hour)
		again, err := s.service.Revoke(s.as(issuerA), c.ID)
		s.Require().NoError(err)
		s.False(again.Active)
		s.Equal(firstRevokedAt, *again.RevokedAt)
	})

	s.Run("revoked credential remains readable", func() {
		got, err := s.service.Get(s.as(subjectS), c.ID)
		s.Require().NoError(err)
		s.False(got.Active)
	})
}
