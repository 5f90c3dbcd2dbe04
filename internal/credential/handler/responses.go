package handler

import (
	"time"

	"credrep/internal/credential/models"
	"credrep/internal/fhe"
)

type CredentialResponse struct {
	ID        uint64         `json:"id"`
	Issuer    string         `json:"issuer"`
	Subject   string         `json:"subject"`
	Type      fhe.Ciphertext `json:"type"`
	Score     fhe.Ciphertext `json:"score"`
	Weight    fhe.Ciphertext `json:"weight"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	RevokedAt *time.Time     `json:"revoked_at,omitempty"`
}

func FromCredential(c *models.Credential) CredentialResponse {
	return CredentialResponse{
		ID:        uint64(c.ID),
		Issuer:    c.Issuer.Hex(),
		Subject:   c.Subject.Hex(),
		Type:      c.Type,
		Score:     c.Score,
		Weight:    c.Weight,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		RevokedAt: c.RevokedAt,
	}
}

type CredentialListResponse struct {
	Credentials []CredentialResponse `json:"credentials"`
}

func FromCredentials(cs []*models.Credential) CredentialListResponse {
	out := CredentialListResponse{Credentials: make([]CredentialResponse, 0, len(cs))}
	for _, c := range cs {
		out.Credentials = append(out.Credentials, FromCredential(c))
	}
	return out
}

type IssuerResponse struct {
	Address      string    `json:"address"`
	AuthorizedBy string    `json:"authorized_by"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

func FromIssuer(i *models.TrustedIssuer) IssuerResponse {
	return IssuerResponse{
		Address:      i.Address.Hex(),
		AuthorizedBy: i.AuthorizedBy.Hex(),
		AuthorizedAt: i.AuthorizedAt,
	}
}

type IssuerListResponse struct {
	Issuers []IssuerResponse `json:"issuers"`
}
