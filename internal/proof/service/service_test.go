package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	credmodels "credrep/internal/credential/models"
	credservice "credrep/internal/credential/service"
	"credrep/internal/fhe"
	"credrep/internal/fhe/local"
	"credrep/internal/ledger/memory"
	"credrep/internal/proof/models"
	repservice "credrep/internal/reputation/service"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/requestcontext"
)

// =============================================================================
// Proof Service Test Suite
// =============================================================================
// Justification: proofs are the only artefact that leaves the encrypted domain
// through reveal. Tests pin the select-based proof value, composite folding,
// both time-bound modes and snapshot isolation from later credentials.

type ProofServiceSuite struct {
	suite.Suite
	ledger      *memory.Ledger
	cp          *local.Coprocessor
	credentials *credservice.Service
	reputation  *repservice.Service
	service     *Service
	now         time.Time
}

var (
	admin    = id.Address{0xad}
	issuer   = id.Address{0x0a}
	subjectS = id.Address{0x55}
	stranger = id.Address{0x99}
)

func TestProofServiceSuite(t *testing.T) {
	suite.Run(t, new(ProofServiceSuite))
}

func (s *ProofServiceSuite) SetupTest() {
	s.setup()
}

func (s *ProofServiceSuite) setup(opts ...Option) {
	s.ledger = memory.New()
	cp, err := local.New(local.NewInMemoryStore())
	s.Require().NoError(err)
	s.cp = cp
	s.credentials, err = credservice.New(s.ledger, cp, admin)
	s.Require().NoError(err)
	s.reputation, err = repservice.New(s.ledger, cp)
	s.Require().NoError(err)
	s.service, err = New(s.ledger, cp, opts...)
	s.Require().NoError(err)
	s.now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err = s.credentials.AuthorizeIssuer(s.as(admin), issuer)
	s.Require().NoError(err)
}

func (s *ProofServiceSuite) as(caller id.Address) context.Context {
	return requestcontext.WithTime(requestcontext.WithCaller(context.Background(), caller), s.now)
}

// withScore issues one credential and recomputes, leaving totalScore = score.
func (s *ProofServiceSuite) withScore(score uint32) *credmodels.Credential {
	c, err := s.credentials.Issue(s.as(issuer), credmodels.IssueCommand{Subject: subjectS, Type: 1, Score: score, Weight: 1})
	s.Require().NoError(err)
	_, err = s.reputation.Recompute(s.as(stranger), subjectS)
	s.Require().NoError(err)
	return c
}

func (s *ProofServiceSuite) dec(c fhe.Ciphertext) uint64 {
	v, err := s.cp.Decrypt(context.Background(), c)
	s.Require().NoError(err)
	return v
}

func (s *ProofServiceSuite) TestNew() {
	_, err := New(nil, s.cp)
	s.ErrorContains(err, "ledger is required")
	_, err = New(s.ledger, nil)
	s.ErrorContains(err, "fhe engine is required")
}

// =============================================================================
// Single proofs
// =============================================================================

func (s *ProofServiceSuite) TestGenerateWithoutProfile() {
	_, err := s.service.Generate(s.as(stranger), stranger, 50)
	s.True(dErrors.HasCode(err, dErrors.CodeProfileUninitialized))
	s.Equal(1, s.ledger.PendingEvents(), "only the issuer authorization event exists")
}

func (s *ProofServiceSuite) TestGenerate() {
	cred := s.withScore(80)

	s.Run("threshold met stores the total score", func() {
		rec, err := s.service.Generate(s.as(stranger), subjectS, 70)
		s.Require().NoError(err)
		s.True(rec.Proof.Valid)
		s.Equal(models.KindSingle, rec.Proof.Kind)
		s.Greater(uint64(rec.Proof.ID), uint64(cred.ID), "proof ids share the credential sequence")
		s.Equal(uint64(70), s.dec(rec.Proof.MinScoreThreshold))
		s.Equal(uint64(80), s.dec(rec.Proof.ProofValue))
		s.False(rec.Decrypted.Revealed)
		s.Equal(models.RevealSealed, rec.Decrypted.State)
	})

	s.Run("threshold missed stores zero", func() {
		rec, err := s.service.Generate(s.as(stranger), subjectS, 90)
		s.Require().NoError(err)
		s.True(rec.Proof.Valid)
		s.Equal(uint64(0), s.dec(rec.Proof.ProofValue))
	})

	s.Run("threshold equal to the score is met", func() {
		rec, err := s.service.Generate(s.as(stranger), subjectS, 80)
		s.Require().NoError(err)
		s.Equal(uint64(80), s.dec(rec.Proof.ProofValue))
	})
}

func (s *ProofServiceSuite) TestProofIsSnapshot() {
	s.withScore(80)
	rec, err := s.service.Generate(s.as(stranger), subjectS, 70)
	s.Require().NoError(err)

	s.withScore(10) // total drops to 45

	got, err := s.service.Get(s.as(stranger), rec.Proof.ID)
	s.Require().NoError(err)
	s.Equal(rec.Proof.ProofValue, got.Proof.ProofValue)
	s.Equal(uint64(80), s.dec(got.Proof.ProofValue))
}

// =============================================================================
// Composite proofs
// =============================================================================

func (s *ProofServiceSuite) TestGenerateComposite() {
	s.withScore(80)

	s.Run("empty thresholds are rejected", func() {
		_, err := s.service.GenerateComposite(s.as(stranger), subjectS, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("too many thresholds are rejected", func() {
		_, err := s.service.GenerateComposite(s.as(stranger), subjectS, make([]uint32, models.MaxCompositeThresholds+1))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("all met", func() {
		rec, err := s.service.GenerateComposite(s.as(stranger), subjectS, []uint32{50, 70})
		s.Require().NoError(err)
		s.Equal(models.KindComposite, rec.Proof.Kind)
		s.Equal(uint64(1), s.dec(rec.Proof.MinScoreThreshold))
		s.Equal(uint64(120), s.dec(rec.Proof.ProofValue))
	})

	s.Run("one missed is still stored with a zero flag", func() {
		rec, err := s.service.GenerateComposite(s.as(stranger), subjectS, []uint32{50, 70, 90})
		s.Require().NoError(err)
		s.True(rec.Proof.Valid)
		s.Equal(uint64(0), s.dec(rec.Proof.MinScoreThreshold))
		s.Equal(uint64(120), s.dec(rec.Proof.ProofValue))
	})
}

// =============================================================================
// Time-bound proofs
// =============================================================================

func (s *ProofServiceSuite) TestGenerateTimeBoundLiteral() {
	s.withScore(80)
	before := s.ledger.PendingEvents()

	rec, err := s.service.GenerateTimeBound(s.as(stranger), subjectS, 70, time.Hour)
	s.Require().NoError(err)
	s.False(rec.Proof.Valid, "literal mode invalidates on creation")
	s.NotNil(rec.Proof.InvalidatedAt)
	s.Nil(rec.Proof.ExpiresAt)
	s.Equal(before+2, s.ledger.PendingEvents(), "generated and invalidated")

	stored, err := s.service.Get(s.as(stranger), rec.Proof.ID)
	s.Require().NoError(err)
	s.False(stored.Proof.Valid)
	s.Error(stored.Proof.CanReveal(s.now))
}

func (s *ProofServiceSuite) TestGenerateTimeBoundExpiring() {
	s.setup(WithTimeBoundMode(models.TimeBoundExpiring))
	s.withScore(80)

	_, err := s.service.GenerateTimeBound(s.as(stranger), subjectS, 70, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	rec, err := s.service.GenerateTimeBound(s.as(stranger), subjectS, 70, time.Hour)
	s.Require().NoError(err)
	s.True(rec.Proof.Valid)
	s.Require().NotNil(rec.Proof.ExpiresAt)
	s.Equal(s.now.Add(time.Hour), *rec.Proof.ExpiresAt)
	s.NoError(rec.Proof.CanReveal(s.now.Add(59 * time.Minute)))
	s.True(dErrors.HasCode(rec.Proof.CanReveal(s.now.Add(time.Hour)), dErrors.CodeInvalidProof))
}

// =============================================================================
// Reads
// =============================================================================

func (s *ProofServiceSuite) TestReads() {
	s.withScore(80)
	first, err := s.service.Generate(s.as(stranger), subjectS, 10)
	s.Require().NoError(err)
	second, err := s.service.GenerateComposite(s.as(stranger), subjectS, []uint32{10})
	s.Require().NoError(err)

	_, err = s.service.Get(s.as(stranger), 999)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	list, err := s.service.ListBySubject(s.as(stranger), subjectS)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(first.Proof.ID, list[0].Proof.ID)
	s.Equal(second.Proof.ID, list[1].Proof.ID)
}
