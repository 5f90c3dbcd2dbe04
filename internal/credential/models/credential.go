package models

import (
	"time"

	"credrep/internal/fhe"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
)

// Credential is an attested claim about a subject. Type, score and weight stay
// encrypted for the credential's whole life. Credentials are never deleted;
// revocation only clears Active.
type Credential struct {
	ID        id.CredentialID
	Issuer    id.Address
	Subject   id.Address
	Type      fhe.Ciphertext
	Score     fhe.Ciphertext
	Weight    fhe.Ciphertext
	CreatedAt time.Time
	Active    bool
	RevokedAt *time.Time
}

const (
	MaxScore  = 100
	MaxWeight = 100
	// MaxActivePerSubject keeps the sum of score*weight*freshness over a
	// subject's active credentials inside euint32.
	MaxActivePerSubject = 4096
)

// IssueCommand carries the plaintext inputs an issuer submits. They are
// encrypted before anything is stored.
type IssueCommand struct {
	Subject id.Address
	Type    uint32
	Score   uint32
	Weight  uint32
}

func (c IssueCommand) Validate() error {
	if id.IsZeroAddress(c.Subject) {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	if c.Score > MaxScore {
		return dErrors.New(dErrors.CodeValidation, "score must be between 0 and 100")
	}
	if c.Weight > MaxWeight {
		return dErrors.New(dErrors.CodeValidation, "weight must be between 0 and 100")
	}
	return nil
}

// CanRevoke enforces issuer-only revocation. Revoking an inactive credential is
// allowed and leaves it inactive.
func (c *Credential) CanRevoke(caller id.Address) error {
	if caller != c.Issuer {
		return dErrors.New(dErrors.CodeUnauthorized, "only the issuing address may revoke a credential")
	}
	return nil
}

// ApplyRevocation deactivates the credential. The first revocation time is kept.
func (c *Credential) ApplyRevocation(now time.Time) {
	c.Active = false
	if c.RevokedAt == nil {
		t := now
		c.RevokedAt = &t
	}
}

// Clone returns a deep copy safe to hand across store boundaries.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// TrustedIssuer is an entry in the issuer allow-list.
type TrustedIssuer struct {
	Address      id.Address
	AuthorizedBy id.Address
	AuthorizedAt time.Time
}
