// Package events defines the ledger's event vocabulary. Services append events
// to the ledger outbox inside the same transaction as the state change they
// describe; the outbox relay fans them out to sinks afterwards.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names a ledger event.
type Type string

const (
	CredentialIssued  Type = "credential_issued"
	CredentialRevoked Type = "credential_revoked"
	IssuerAuthorized  Type = "issuer_authorized"
	IssuerRevoked     Type = "issuer_revoked"
	ProfileRecomputed Type = "profile_recomputed"
	ProofGenerated    Type = "proof_generated"
	ProofInvalidated  Type = "proof_invalidated"
	RevealRequested   Type = "reveal_requested"
	ProofDecrypted    Type = "proof_decrypted"
)

// Attribute keys shared across event types.
const (
	AttrCredentialID = "credential_id"
	AttrProofID      = "proof_id"
	AttrRequestID    = "request_id"
	AttrIssuer       = "issuer"
	AttrSubject      = "subject"
	AttrActor        = "actor"
	AttrKind         = "kind"
	AttrHTTPRequest  = "http_request_id"
)

// Event is transport-agnostic so the outbox can fan out to any sink.
// Attributes never carry plaintext reputation values.
type Event struct {
	ID          uuid.UUID
	Type        Type
	AggregateID string
	Attributes  map[string]string
	OccurredAt  time.Time
}

// New builds an event. attrs is a flat key/value list; a trailing odd key is
// dropped.
func New(typ Type, aggregateID string, now time.Time, attrs ...string) Event {
	m := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i]] = attrs[i+1]
	}
	return Event{
		ID:          uuid.New(),
		Type:        typ,
		AggregateID: aggregateID,
		Attributes:  m,
		OccurredAt:  now,
	}
}

// Clone returns a copy with its own attribute map.
func (e Event) Clone() Event {
	out := e
	out.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// OutboxEntry is an event waiting to be relayed.
type OutboxEntry struct {
	Seq         int64
	Event       Event
	PublishedAt *time.Time
}

// LogArgs flattens the event into slog key/value pairs.
func (e Event) LogArgs() []any {
	args := make([]any, 0, 6+2*len(e.Attributes))
	args = append(args, "event", string(e.Type), "event_id", e.ID.String(), "aggregate_id", e.AggregateID)
	for k, v := range e.Attributes {
		args = append(args, k, v)
	}
	return args
}
