package models

import (
	"time"

	"credrep/internal/fhe"
	id "credrep/pkg/domain"
)

// RevealRequest maps an oracle request id back to the proof awaiting reveal.
// Rows are kept after the callback lands so that a redelivery resolves to the
// proof and fails as already revealed instead of as unknown.
type RevealRequest struct {
	RequestID  id.RequestID
	ProofID    id.ProofID
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

func (r *RevealRequest) ApplyConsumed(now time.Time) {
	if r.ConsumedAt == nil {
		t := now
		r.ConsumedAt = &t
	}
}

func (r *RevealRequest) Clone() *RevealRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Handles = append([]fhe.Ciphertext(nil), r.Handles...)
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		out.ConsumedAt = &t
	}
	return &out
}

// RevealReceipt is returned to the caller of a reveal request.
type RevealReceipt struct {
	RequestID id.RequestID
	ProofID   id.ProofID
}
