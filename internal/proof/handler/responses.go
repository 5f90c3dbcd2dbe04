package handler

import (
	"time"

	"credrep/internal/fhe"
	"credrep/internal/proof/models"
)

// ProofResponse is a proof with its plaintext companion. MinScore and
// ProofValue are only present once revealed.
type ProofResponse struct {
	ID                uint64         `json:"id"`
	Subject           string         `json:"subject"`
	Kind              string         `json:"kind"`
	MinScoreThreshold fhe.Ciphertext `json:"min_score_threshold"`
	ProofValue        fhe.Ciphertext `json:"proof_value"`
	Valid             bool           `json:"valid"`
	CreatedAt         time.Time      `json:"created_at"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	InvalidatedAt     *time.Time     `json:"invalidated_at,omitempty"`
	Reveal            RevealResponse `json:"reveal"`
}

type RevealResponse struct {
	State       string     `json:"state"`
	Revealed    bool       `json:"revealed"`
	MinScore    *uint64    `json:"min_score,omitempty"`
	ProofValue  *uint64    `json:"proof_value,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	RevealedAt  *time.Time `json:"revealed_at,omitempty"`
}

func FromRecord(rec *models.ProofRecord) ProofResponse {
	p, d := rec.Proof, rec.Decrypted
	resp := ProofResponse{
		ID:                uint64(p.ID),
		Subject:           p.Subject.Hex(),
		Kind:              string(p.Kind),
		MinScoreThreshold: p.MinScoreThreshold,
		ProofValue:        p.ProofValue,
		Valid:             p.Valid,
		CreatedAt:         p.CreatedAt,
		ExpiresAt:         p.ExpiresAt,
		InvalidatedAt:     p.InvalidatedAt,
		Reveal: RevealResponse{
			State:       string(d.State),
			Revealed:    d.Revealed,
			RequestedAt: d.RequestedAt,
			RevealedAt:  d.RevealedAt,
		},
	}
	if d.Revealed {
		minScore, value := d.MinScore, d.ProofValue
		resp.Reveal.MinScore = &minScore
		resp.Reveal.ProofValue = &value
	}
	return resp
}

type ProofListResponse struct {
	Proofs []ProofResponse `json:"proofs"`
}
