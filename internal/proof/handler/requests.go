package handler

import (
	"math"
	"time"

	"credrep/internal/proof/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
)

// GenerateProofRequest is the body of POST /proofs.
type GenerateProofRequest struct {
	Subject   string  `json:"subject"`
	Threshold *uint32 `json:"threshold"`

	subject id.Address
}

func (r *GenerateProofRequest) Validate() error {
	subject, err := id.ParseAddress(r.Subject)
	if err != nil {
		return err
	}
	if r.Threshold == nil {
		return dErrors.New(dErrors.CodeValidation, "threshold is required")
	}
	r.subject = subject
	return nil
}

// CompositeProofRequest is the body of POST /proofs/composite.
type CompositeProofRequest struct {
	Subject    string   `json:"subject"`
	Thresholds []uint32 `json:"thresholds"`

	subject id.Address
}

func (r *CompositeProofRequest) Validate() error {
	subject, err := id.ParseAddress(r.Subject)
	if err != nil {
		return err
	}
	if len(r.Thresholds) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "at least one threshold is required")
	}
	if len(r.Thresholds) > models.MaxCompositeThresholds {
		return dErrors.New(dErrors.CodeBadRequest, "at most 16 thresholds are allowed")
	}
	r.subject = subject
	return nil
}

// maxValiditySeconds is the longest window a time.Duration can hold.
const maxValiditySeconds = int64(math.MaxInt64 / int64(time.Second))

// TimeBoundProofRequest is the body of POST /proofs/time-bound.
type TimeBoundProofRequest struct {
	Subject         string  `json:"subject"`
	Threshold       *uint32 `json:"threshold"`
	ValiditySeconds int64   `json:"validity_seconds"`

	subject id.Address
}

func (r *TimeBoundProofRequest) Validate() error {
	subject, err := id.ParseAddress(r.Subject)
	if err != nil {
		return err
	}
	if r.Threshold == nil {
		return dErrors.New(dErrors.CodeValidation, "threshold is required")
	}
	if r.ValiditySeconds <= 0 {
		return dErrors.New(dErrors.CodeValidation, "validity_seconds must be positive")
	}
	if r.ValiditySeconds > maxValiditySeconds {
		return dErrors.New(dErrors.CodeValidation, "validity_seconds is too large")
	}
	r.subject = subject
	return nil
}

func (r *TimeBoundProofRequest) validity() time.Duration {
	return time.Duration(r.ValiditySeconds) * time.Second
}
