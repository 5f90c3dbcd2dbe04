package handler

import (
	"credrep/internal/credential/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
)

// AuthorizeIssuerRequest is the body of POST /issuers.
type AuthorizeIssuerRequest struct {
	Address string `json:"address"`

	parsed id.Address
}

func (r *AuthorizeIssuerRequest) Validate() error {
	addr, err := id.ParseAddress(r.Address)
	if err != nil {
		return err
	}
	r.parsed = addr
	return nil
}

// IssueCredentialRequest is the body of POST /credentials. The plaintext
// inputs are encrypted by the service before anything is stored.
type IssueCredentialRequest struct {
	Subject string  `json:"subject"`
	Type    *uint32 `json:"type"`
	Score   *uint32 `json:"score"`
	Weight  *uint32 `json:"weight"`

	parsed models.IssueCommand
}

func (r *IssueCredentialRequest) Validate() error {
	subject, err := id.ParseAddress(r.Subject)
	if err != nil {
		return err
	}
	if r.Type == nil || r.Score == nil || r.Weight == nil {
		return dErrors.New(dErrors.CodeValidation, "type, score and weight are required")
	}
	r.parsed = models.IssueCommand{
		Subject: subject,
		Type:    *r.Type,
		Score:   *r.Score,
		Weight:  *r.Weight,
	}
	return nil
}
