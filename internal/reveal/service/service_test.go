package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Oracle,Verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	credmodels "credrep/internal/credential/models"
	credservice "credrep/internal/credential/service"
	"credrep/internal/fhe"
	"credrep/internal/fhe/local"
	"credrep/internal/fhe/oracle"
	"credrep/internal/ledger/memory"
	proofmodels "credrep/internal/proof/models"
	proofservice "credrep/internal/proof/service"
	repservice "credrep/internal/reputation/service"
	"credrep/internal/reveal/service/mocks"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/requestcontext"
)

var (
	admin    = id.Address{0xad}
	issuer   = id.Address{0x0a}
	subjectS = id.Address{0x55}
	caller   = id.Address{0x99}
)

// fixture wires the real ledger, coprocessor and upstream services so reveal
// tests start from genuine proofs.
type fixture struct {
	ledger      *memory.Ledger
	cp          *local.Coprocessor
	credentials *credservice.Service
	reputation  *repservice.Service
	proofs      *proofservice.Service
	now         time.Time
}

func newFixture(s *suite.Suite, proofOpts ...proofservice.Option) *fixture {
	f := &fixture{
		ledger: memory.New(),
		now:    time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	var err error
	f.cp, err = local.New(local.NewInMemoryStore())
	s.Require().NoError(err)
	f.credentials, err = credservice.New(f.ledger, f.cp, admin)
	s.Require().NoError(err)
	f.reputation, err = repservice.New(f.ledger, f.cp)
	s.Require().NoError(err)
	f.proofs, err = proofservice.New(f.ledger, f.cp, proofOpts...)
	s.Require().NoError(err)

	_, err = f.credentials.AuthorizeIssuer(f.as(admin), issuer)
	s.Require().NoError(err)
	_, err = f.credentials.Issue(f.as(issuer), credmodels.IssueCommand{Subject: subjectS, Type: 1, Score: 80, Weight: 1})
	s.Require().NoError(err)
	_, err = f.reputation.Recompute(f.as(caller), subjectS)
	s.Require().NoError(err)
	return f
}

func (f *fixture) as(addr id.Address) context.Context {
	return requestcontext.WithTime(requestcontext.WithCaller(context.Background(), addr), f.now)
}

// =============================================================================
// Reveal Service Test Suite (mocked oracle ports)
// =============================================================================
// Justification: the router is the trust boundary for plaintext re-entering
// the ledger. Mocked ports pin the order of checks: unknown request before any
// verification, verification before any decoding, duplicate delivery last.

type RevealServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	oracle   *mocks.MockOracle
	verifier *mocks.MockVerifier
	f        *fixture
	service  *Service
}

func TestRevealServiceSuite(t *testing.T) {
	suite.Run(t, new(RevealServiceSuite))
}

func (s *RevealServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.oracle = mocks.NewMockOracle(s.ctrl)
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.f = newFixture(&s.Suite)
	svc, err := New(s.f.ledger, s.oracle, s.verifier)
	s.Require().NoError(err)
	s.service = svc
}

func (s *RevealServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RevealServiceSuite) proof(threshold uint32) *proofmodels.ProofRecord {
	rec, err := s.f.proofs.Generate(s.f.as(caller), subjectS, threshold)
	s.Require().NoError(err)
	return rec
}

func handlesOf(rec *proofmodels.ProofRecord) []fhe.Ciphertext {
	return []fhe.Ciphertext{rec.Proof.MinScoreThreshold, rec.Proof.ProofValue}
}

func (s *RevealServiceSuite) requested(threshold uint32, reqID id.RequestID) *proofmodels.ProofRecord {
	rec := s.proof(threshold)
	s.oracle.EXPECT().
		RequestDecryption(gomock.Any(), handlesOf(rec)).
		Return(reqID, nil)
	_, err := s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
	s.Require().NoError(err)
	return rec
}

func (s *RevealServiceSuite) TestNew() {
	_, err := New(nil, s.oracle, s.verifier)
	s.ErrorContains(err, "ledger is required")
	_, err = New(s.f.ledger, nil, s.verifier)
	s.ErrorContains(err, "oracle is required")
	_, err = New(s.f.ledger, s.oracle, nil)
	s.ErrorContains(err, "verifier is required")
}

func (s *RevealServiceSuite) TestRequestReveal() {
	s.Run("unknown proof is not found", func() {
		_, err := s.service.RequestReveal(s.f.as(caller), 999)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("invalid proof is rejected without contacting the oracle", func() {
		rec, err := s.f.proofs.GenerateTimeBound(s.f.as(caller), subjectS, 10, time.Hour)
		s.Require().NoError(err)
		_, err = s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidProof))
	})

	s.Run("valid proof records the request and moves to reveal_requested", func() {
		rec := s.proof(70)
		s.oracle.EXPECT().RequestDecryption(gomock.Any(), gomock.Len(2)).Return(id.RequestID(7), nil)

		receipt, err := s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
		s.Require().NoError(err)
		s.Equal(id.RequestID(7), receipt.RequestID)
		s.Equal(rec.Proof.ID, receipt.ProofID)

		got, err := s.f.proofs.Get(s.f.as(caller), rec.Proof.ID)
		s.Require().NoError(err)
		s.Equal(proofmodels.RevealRequested, got.Decrypted.State)
		s.False(got.Decrypted.Revealed)
	})

	s.Run("oracle failure leaves the proof sealed", func() {
		rec := s.proof(70)
		s.oracle.EXPECT().RequestDecryption(gomock.Any(), gomock.Any()).Return(id.RequestID(0), errors.New("queue full"))

		_, err := s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		got, err := s.f.proofs.Get(s.f.as(caller), rec.Proof.ID)
		s.Require().NoError(err)
		s.Equal(proofmodels.RevealSealed, got.Decrypted.State)
	})

	s.Run("request id that cannot be recorded is withdrawn from the oracle", func() {
		first := s.requested(70, 60)
		second := s.proof(10)
		s.oracle.EXPECT().RequestDecryption(gomock.Any(), handlesOf(second)).Return(id.RequestID(60), nil)
		s.oracle.EXPECT().Cancel(id.RequestID(60))

		_, err := s.service.RequestReveal(s.f.as(caller), second.Proof.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		got, err := s.f.proofs.Get(s.f.as(caller), second.Proof.ID)
		s.Require().NoError(err)
		s.Equal(proofmodels.RevealSealed, got.Decrypted.State)
		got, err = s.f.proofs.Get(s.f.as(caller), first.Proof.ID)
		s.Require().NoError(err)
		s.Equal(proofmodels.RevealRequested, got.Decrypted.State)
	})

	s.Run("pending proof may be requested again", func() {
		rec := s.requested(70, 20)
		s.oracle.EXPECT().RequestDecryption(gomock.Any(), gomock.Any()).Return(id.RequestID(21), nil)
		receipt, err := s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
		s.Require().NoError(err)
		s.Equal(id.RequestID(21), receipt.RequestID)
	})
}

func (s *RevealServiceSuite) TestCallbackChecks() {
	cleartexts := oracle.EncodeCleartexts([]uint64{70, 80})
	attestation := []byte("sig")

	s.Run("request id zero is unknown", func() {
		err := s.service.OnRevealCallback(s.f.as(caller), 0, cleartexts, attestation)
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownRequest))
	})

	s.Run("unmapped request id is unknown and never verified", func() {
		err := s.service.OnRevealCallback(s.f.as(caller), 404, cleartexts, attestation)
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownRequest))
	})

	s.Run("failed verification leaves the proof unrevealed", func() {
		rec := s.requested(70, 30)
		s.verifier.EXPECT().Verify(id.RequestID(30), handlesOf(rec), cleartexts, attestation).Return(oracle.ErrInvalidAttestation)

		err := s.service.OnRevealCallback(s.f.as(caller), 30, cleartexts, attestation)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAttestation))

		got, err := s.f.proofs.Get(s.f.as(caller), rec.Proof.ID)
		s.Require().NoError(err)
		s.False(got.Decrypted.Revealed)
	})

	s.Run("malformed cleartexts are rejected after verification", func() {
		rec := s.requested(70, 31)
		s.verifier.EXPECT().Verify(id.RequestID(31), handlesOf(rec), []byte{1, 2, 3}, attestation).Return(nil)

		err := s.service.OnRevealCallback(s.f.as(caller), 31, []byte{1, 2, 3}, attestation)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *RevealServiceSuite) TestCallbackRevealsOnce() {
	rec := s.requested(70, 40)
	cleartexts := oracle.EncodeCleartexts([]uint64{70, 80})
	s.verifier.EXPECT().Verify(id.RequestID(40), handlesOf(rec), cleartexts, gomock.Any()).Return(nil).Times(2)

	s.Require().NoError(s.service.OnRevealCallback(s.f.as(caller), 40, cleartexts, []byte("sig")))

	got, err := s.f.proofs.Get(s.f.as(caller), rec.Proof.ID)
	s.Require().NoError(err)
	s.True(got.Decrypted.Revealed)
	s.Equal(proofmodels.RevealRevealed, got.Decrypted.State)
	s.Equal(uint64(70), got.Decrypted.MinScore)
	s.Equal(uint64(80), got.Decrypted.ProofValue)

	other := oracle.EncodeCleartexts([]uint64{1, 2})
	s.verifier.EXPECT().Verify(id.RequestID(40), handlesOf(rec), other, gomock.Any()).Return(nil)
	err = s.service.OnRevealCallback(s.f.as(caller), 40, other, []byte("sig"))
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRevealed))

	err = s.service.OnRevealCallback(s.f.as(caller), 40, cleartexts, []byte("sig"))
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRevealed))

	again, err := s.f.proofs.Get(s.f.as(caller), rec.Proof.ID)
	s.Require().NoError(err)
	s.Equal(uint64(80), again.Decrypted.ProofValue, "duplicate delivery never overwrites")

	_, err = s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRevealed))
}

// =============================================================================
// Reveal Round Trip Suite (real oracle)
// =============================================================================
// Justification: exercises the asynchronous path end to end: the oracle worker
// decrypts, signs with two keys and calls back into the router, whose verifier
// requires both signatures.

type RevealRoundTripSuite struct {
	suite.Suite
	f       *fixture
	oracle  *oracle.Oracle
	service *Service
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func TestRevealRoundTripSuite(t *testing.T) {
	suite.Run(t, new(RevealRoundTripSuite))
}

func (s *RevealRoundTripSuite) SetupTest() {
	s.f = newFixture(&s.Suite)
	keys, err := oracle.ParseSignerKeys(nil, 2)
	s.Require().NoError(err)
	s.oracle, err = oracle.New(s.f.cp, keys, oracle.WithRetry(5*time.Millisecond, 3))
	s.Require().NoError(err)
	verifier, err := oracle.NewVerifier(s.oracle.SignerAddresses(), 2)
	s.Require().NoError(err)
	s.service, err = New(s.f.ledger, s.oracle, verifier)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.oracle.Run(ctx, s.service.OnRevealCallback)
	}()
}

func (s *RevealRoundTripSuite) TearDownTest() {
	s.cancel()
	s.wg.Wait()
}

func (s *RevealRoundTripSuite) revealed(proofID id.ProofID) *proofmodels.ProofRecord {
	var out *proofmodels.ProofRecord
	s.Eventually(func() bool {
		rec, err := s.f.proofs.Get(s.f.as(caller), proofID)
		if err != nil || !rec.Decrypted.Revealed {
			return false
		}
		out = rec
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

func (s *RevealRoundTripSuite) TestMetThreshold() {
	rec, err := s.f.proofs.Generate(s.f.as(caller), subjectS, 70)
	s.Require().NoError(err)
	_, err = s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
	s.Require().NoError(err)

	got := s.revealed(rec.Proof.ID)
	s.Require().NotNil(got)
	s.Equal(uint64(70), got.Decrypted.MinScore)
	s.Equal(uint64(80), got.Decrypted.ProofValue, "totalScore is revealed when met")
}

func (s *RevealRoundTripSuite) TestMissedThresholdAfterLaterCredential() {
	rec, err := s.f.proofs.Generate(s.f.as(caller), subjectS, 90)
	s.Require().NoError(err)

	_, err = s.f.credentials.Issue(s.f.as(issuer), credmodels.IssueCommand{Subject: subjectS, Type: 1, Score: 100, Weight: 9})
	s.Require().NoError(err)
	_, err = s.f.reputation.Recompute(s.f.as(caller), subjectS)
	s.Require().NoError(err)

	_, err = s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
	s.Require().NoError(err)

	got := s.revealed(rec.Proof.ID)
	s.Require().NotNil(got)
	s.Equal(uint64(0), got.Decrypted.ProofValue, "comparison made at generation time stands")
}

func (s *RevealRoundTripSuite) TestSignedDeliveryReplayIsRejected() {
	rec, err := s.f.proofs.Generate(s.f.as(caller), subjectS, 50)
	s.Require().NoError(err)
	receipt, err := s.service.RequestReveal(s.f.as(caller), rec.Proof.ID)
	s.Require().NoError(err)
	s.revealed(rec.Proof.ID)

	cleartexts, attestation, err := s.oracle.Sign(context.Background(), receipt.RequestID,
		[]fhe.Ciphertext{rec.Proof.MinScoreThreshold, rec.Proof.ProofValue})
	s.Require().NoError(err)

	err = s.service.OnRevealCallback(s.f.as(caller), receipt.RequestID, cleartexts, attestation)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyRevealed))

	err = s.service.OnRevealCallback(s.f.as(caller), receipt.RequestID, cleartexts, attestation[:oracle.SignatureSize])
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidAttestation), "one of two required signatures")
}

// =============================================================================
// Reveal Replica Suite (two oracle processes, one ledger)
// =============================================================================
// Justification: reveal requests outlive the oracle process that issued them.
// Two oracles sharing signer keys and a ledger stand in for a restart or a
// second replica; a delivery must only ever land on the proof whose handles
// it was attested over.

type RevealReplicaSuite struct {
	suite.Suite
	f        *fixture
	oracles  [2]*oracle.Oracle
	services [2]*Service
}

func TestRevealReplicaSuite(t *testing.T) {
	suite.Run(t, new(RevealReplicaSuite))
}

// counter mimics a per-process id sequence that restarts at 1.
func counter() func() id.RequestID {
	var mu sync.Mutex
	next := id.RequestID(0)
	return func() id.RequestID {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next
	}
}

func (s *RevealReplicaSuite) SetupTest() {
	s.f = newFixture(&s.Suite)
	keys, err := oracle.ParseSignerKeys(nil, 2)
	s.Require().NoError(err)
	for i := range s.oracles {
		s.oracles[i], err = oracle.New(s.f.cp, keys, oracle.WithRequestIDs(counter()))
		s.Require().NoError(err)
		verifier, err := oracle.NewVerifier(s.oracles[i].SignerAddresses(), 2)
		s.Require().NoError(err)
		s.services[i], err = New(s.f.ledger, s.oracles[i], verifier)
		s.Require().NoError(err)
	}
}

func (s *RevealReplicaSuite) TestCollidingRequestIDNeverRevealsAnotherProof() {
	a, err := s.f.proofs.Generate(s.f.as(caller), subjectS, 90)
	s.Require().NoError(err)
	b, err := s.f.proofs.Generate(s.f.as(caller), subjectS, 10)
	s.Require().NoError(err)

	receiptA, err := s.services[0].RequestReveal(s.f.as(caller), a.Proof.ID)
	s.Require().NoError(err)
	s.Equal(id.RequestID(1), receiptA.RequestID)

	_, err = s.services[1].RequestReveal(s.f.as(caller), b.Proof.ID)
	s.Require().Error(err, "second replica reuses id 1")

	// The withdrawn job for B, had it been delivered under id 1, is attested
	// over B's handles and must not verify against A's request.
	cleartexts, attestation, err := s.oracles[1].Sign(context.Background(), 1, handlesOf(b))
	s.Require().NoError(err)
	err = s.services[1].OnRevealCallback(s.f.as(caller), 1, cleartexts, attestation)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidAttestation))

	gotA, err := s.f.proofs.Get(s.f.as(caller), a.Proof.ID)
	s.Require().NoError(err)
	s.False(gotA.Decrypted.Revealed)
	s.Equal(proofmodels.RevealRequested, gotA.Decrypted.State)

	// The genuine delivery for A still lands with A's own values.
	cleartexts, attestation, err = s.oracles[0].Sign(context.Background(), 1, handlesOf(a))
	s.Require().NoError(err)
	s.Require().NoError(s.services[0].OnRevealCallback(s.f.as(caller), 1, cleartexts, attestation))

	gotA, err = s.f.proofs.Get(s.f.as(caller), a.Proof.ID)
	s.Require().NoError(err)
	s.True(gotA.Decrypted.Revealed)
	s.Equal(uint64(90), gotA.Decrypted.MinScore)
	s.Equal(uint64(0), gotA.Decrypted.ProofValue)

	gotB, err := s.f.proofs.Get(s.f.as(caller), b.Proof.ID)
	s.Require().NoError(err)
	s.Equal(proofmodels.RevealSealed, gotB.Decrypted.State)

	// B can be retried and reveals its own values.
	receiptB, err := s.services[1].RequestReveal(s.f.as(caller), b.Proof.ID)
	s.Require().NoError(err)
	cleartexts, attestation, err = s.oracles[1].Sign(context.Background(), receiptB.RequestID, handlesOf(b))
	s.Require().NoError(err)
	s.Require().NoError(s.services[1].OnRevealCallback(s.f.as(caller), receiptB.RequestID, cleartexts, attestation))

	gotB, err = s.f.proofs.Get(s.f.as(caller), b.Proof.ID)
	s.Require().NoError(err)
	s.True(gotB.Decrypted.Revealed)
	s.Equal(uint64(10), gotB.Decrypted.MinScore)
	s.Equal(uint64(80), gotB.Decrypted.ProofValue)
}

func (s *RevealReplicaSuite) TestDefaultRequestIDsDoNotCollide() {
	keys, err := oracle.ParseSignerKeys(nil, 1)
	s.Require().NoError(err)
	seen := make(map[id.RequestID]struct{})
	for range 2 {
		o, err := oracle.New(s.f.cp, keys)
		s.Require().NoError(err)
		verifier, err := oracle.NewVerifier(o.SignerAddresses(), 1)
		s.Require().NoError(err)
		svc, err := New(s.f.ledger, o, verifier)
		s.Require().NoError(err)
		for range 3 {
			rec, err := s.f.proofs.Generate(s.f.as(caller), subjectS, 50)
			s.Require().NoError(err)
			receipt, err := svc.RequestReveal(s.f.as(caller), rec.Proof.ID)
			s.Require().NoError(err)
			seen[receipt.RequestID] = struct{}{}
		}
	}
	s.Len(seen, 6)
}
