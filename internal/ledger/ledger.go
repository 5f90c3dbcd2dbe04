// Package ledger is the transactional state boundary shared by every domain
// service. A Ledger runs callbacks one at a time in a single global order; each
// callback either commits all of its writes or none of them.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	credmodels "credrep/internal/credential/models"
	"credrep/internal/events"
	proofmodels "credrep/internal/proof/models"
	repmodels "credrep/internal/reputation/models"
	revealmodels "credrep/internal/reveal/models"
	id "credrep/pkg/domain"
)

// DefaultTxTimeout bounds a transaction when the caller's context has no deadline.
const DefaultTxTimeout = 5 * time.Second

// Ledger provides the transactional boundary. fn receives a context scoped to
// the transaction; stores must be called with that context.
type Ledger interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Outbox exposes committed events to the relay.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]events.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Stores groups the state stores visible inside one transaction.
type Stores struct {
	Sequence    Sequence
	Issuers     IssuerStore
	Credentials CredentialStore
	Profiles    ProfileStore
	Proofs      ProofStore
	Requests    RevealRequestStore
	Events      EventStore
}

// Sequence hands out the shared credential/proof id sequence, starting at 1.
type Sequence interface {
	Next(ctx context.Context) (uint64, error)
}

// IssuerStore is the trusted-issuer allow-list.
type IssuerStore interface {
	Put(ctx context.Context, issuer *credmodels.TrustedIssuer) error
	Get(ctx context.Context, addr id.Address) (*credmodels.TrustedIssuer, error)
	Delete(ctx context.Context, addr id.Address) error
	List(ctx context.Context) ([]*credmodels.TrustedIssuer, error)
}

// CredentialStore returns sentinel.ErrNotFound for unknown ids and
// sentinel.ErrConflict when creating a duplicate id.
type CredentialStore interface {
	Create(ctx context.Context, c *credmodels.Credential) error
	FindByID(ctx context.Context, credID id.CredentialID) (*credmodels.Credential, error)
	Update(ctx context.Context, c *credmodels.Credential) error
	// ListBySubject returns every credential ever issued to subject, active or
	// not, in ascending id order.
	ListBySubject(ctx context.Context, subject id.Address) ([]*credmodels.Credential, error)
}

type ProfileStore interface {
	FindBySubject(ctx context.Context, subject id.Address) (*repmodels.Profile, error)
	Save(ctx context.Context, p *repmodels.Profile) error
}

type ProofStore interface {
	Create(ctx context.Context, p *proofmodels.Proof, d *proofmodels.DecryptedProof) error
	FindByID(ctx context.Context, proofID id.ProofID) (*proofmodels.ProofRecord, error)
	Update(ctx context.Context, p *proofmodels.Proof) error
	UpdateDecrypted(ctx context.Context, d *proofmodels.DecryptedProof) error
	ListBySubject(ctx context.Context, subject id.Address) ([]*proofmodels.ProofRecord, error)
}

type RevealRequestStore interface {
	Create(ctx context.Context, r *revealmodels.RevealRequest) error
	FindByID(ctx context.Context, reqID id.RequestID) (*revealmodels.RevealRequest, error)
	Update(ctx context.Context, r *revealmodels.RevealRequest) error
}

type EventStore interface {
	Append(ctx context.Context, e events.Event) error
}
