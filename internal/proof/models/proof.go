package models

import (
	"time"

	"credrep/internal/fhe"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
)

// Kind distinguishes how a proof's encrypted fields were derived.
type Kind string

const (
	KindSingle    Kind = "single"
	KindComposite Kind = "composite"
	KindTimeBound Kind = "time_bound"
)

// RevealState tracks a proof through the asynchronous reveal protocol.
type RevealState string

const (
	RevealSealed    RevealState = "sealed"
	RevealRequested RevealState = "reveal_requested"
	RevealRevealed  RevealState = "revealed"
)

// MaxCompositeThresholds bounds the conjunction size of a composite proof.
const MaxCompositeThresholds = 16

// Proof is an assertion about a subject's reputation, snapshotted from the
// profile at generation time. For composite proofs MinScoreThreshold holds the
// encrypted AND of all predicates as 0/1.
type Proof struct {
	ID                id.ProofID
	Subject           id.Address
	Kind              Kind
	MinScoreThreshold fhe.Ciphertext
	ProofValue        fhe.Ciphertext
	Valid             bool
	CreatedAt         time.Time
	ExpiresAt         *time.Time
	InvalidatedAt     *time.Time
}

// CanReveal reports whether the proof may be submitted for decryption at now.
func (p *Proof) CanReveal(now time.Time) error {
	if !p.Valid {
		return dErrors.New(dErrors.CodeInvalidProof, "proof is not valid")
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return dErrors.New(dErrors.CodeInvalidProof, "proof has expired")
	}
	return nil
}

// ApplyInvalidation marks the proof unusable.
func (p *Proof) ApplyInvalidation(now time.Time) {
	p.Valid = false
	t := now
	p.InvalidatedAt = &t
}

func (p *Proof) Clone() *Proof {
	if p == nil {
		return nil
	}
	out := *p
	out.ExpiresAt = cloneTime(p.ExpiresAt)
	out.InvalidatedAt = cloneTime(p.InvalidatedAt)
	return &out
}

// DecryptedProof is the plaintext companion of a Proof. MinScore and ProofValue
// are meaningless until Revealed is true, and Revealed is set exactly once.
type DecryptedProof struct {
	ProofID     id.ProofID
	MinScore    uint64
	ProofValue  uint64
	Revealed    bool
	State       RevealState
	RequestedAt *time.Time
	RevealedAt  *time.Time
}

// NewDecryptedProof returns the sealed companion for a fresh proof.
func NewDecryptedProof(proofID id.ProofID) *DecryptedProof {
	return &DecryptedProof{ProofID: proofID, State: RevealSealed}
}

// CanRequestReveal rejects proofs that were already revealed. A pending
// request does not block another one.
func (d *DecryptedProof) CanRequestReveal() error {
	if d.Revealed {
		return dErrors.New(dErrors.CodeAlreadyRevealed, "proof is already revealed")
	}
	return nil
}

func (d *DecryptedProof) ApplyRevealRequested(now time.Time) {
	d.State = RevealRequested
	t := now
	d.RequestedAt = &t
}

// CanApplyReveal guards against duplicate callback delivery.
func (d *DecryptedProof) CanApplyReveal() error {
	if d.Revealed {
		return dErrors.New(dErrors.CodeAlreadyRevealed, "proof is already revealed")
	}
	return nil
}

func (d *DecryptedProof) ApplyReveal(minScore, proofValue uint64, now time.Time) {
	d.MinScore = minScore
	d.ProofValue = proofValue
	d.Revealed = true
	d.State = RevealRevealed
	t := now
	d.RevealedAt = &t
}

func (d *DecryptedProof) Clone() *DecryptedProof {
	if d == nil {
		return nil
	}
	out := *d
	out.RequestedAt = cloneTime(d.RequestedAt)
	out.RevealedAt = cloneTime(d.RevealedAt)
	return &out
}

// ProofRecord pairs a proof with its plaintext companion for reads.
type ProofRecord struct {
	Proof     *Proof
	Decrypted *DecryptedProof
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimeBoundMode selects how time-bound proofs behave after creation.
type TimeBoundMode string

const (
	// TimeBoundLiteral invalidates the proof in the transaction that creates it.
	TimeBoundLiteral TimeBoundMode = "literal"
	// TimeBoundExpiring keeps the proof valid until CreatedAt plus the validity period.
	TimeBoundExpiring TimeBoundMode = "expiring"
)

func ParseTimeBoundMode(s string) (TimeBoundMode, error) {
	switch TimeBoundMode(s) {
	case "", TimeBoundLiteral:
		return TimeBoundLiteral, nil
	case TimeBoundExpiring:
		return TimeBoundExpiring, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown time-bound proof mode "+s)
	}
}
