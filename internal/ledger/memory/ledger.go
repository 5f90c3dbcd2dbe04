// Package memory is the single-process ledger. One mutex serializes every
// transaction; each write records an undo step so a failed callback leaves the
// state exactly as it found it.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	credmodels "credrep/internal/credential/models"
	"credrep/internal/events"
	"credrep/internal/ledger"
	proofmodels "credrep/internal/proof/models"
	repmodels "credrep/internal/reputation/models"
	revealmodels "credrep/internal/reveal/models"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
)

type proofRow struct {
	proof     *proofmodels.Proof
	decrypted *proofmodels.DecryptedProof
}

type state struct {
	seq             uint64
	issuers         map[id.Address]*credmodels.TrustedIssuer
	credentials     map[id.CredentialID]*credmodels.Credential
	credsBySubject  map[id.Address][]id.CredentialID
	profiles        map[id.Address]*repmodels.Profile
	proofs          map[id.ProofID]*proofRow
	proofsBySubject map[id.Address][]id.ProofID
	requests        map[id.RequestID]*revealmodels.RevealRequest
	outbox          []*events.OutboxEntry
	outboxSeq       int64
}

// Ledger implements ledger.Ledger and ledger.Outbox in memory.
type Ledger struct {
	mu      sync.Mutex
	st      *state
	timeout time.Duration
}

type Option func(*Ledger)

// WithTimeout overrides ledger.DefaultTxTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.timeout = d
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		st: &state{
			issuers:         make(map[id.Address]*credmodels.TrustedIssuer),
			credentials:     make(map[id.CredentialID]*credmodels.Credential),
			credsBySubject:  make(map[id.Address][]id.CredentialID),
			profiles:        make(map[id.Address]*repmodels.Profile),
			proofs:          make(map[id.ProofID]*proofRow),
			proofsBySubject: make(map[id.Address][]id.ProofID),
			requests:        make(map[id.RequestID]*revealmodels.RevealRequest),
		},
		timeout: ledger.DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var (
	_ ledger.Ledger = (*Ledger)(nil)
	_ ledger.Outbox = (*Ledger)(nil)
)

// journal collects undo steps for one transaction.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func (l *Ledger) RunInTx(ctx context.Context, fn func(ctx context.Context, s ledger.Stores) error) (err error) {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	j := &journal{}
	defer func() {
		if r := recover(); r != nil {
			j.rollback()
			panic(r)
		}
		if err != nil {
			j.rollback()
		}
	}()
	return fn(ctx, l.stores(j))
}

func (l *Ledger) stores(j *journal) ledger.Stores {
	base := txStore{st: l.st, j: j}
	return ledger.Stores{
		Sequence:    &sequenceStore{base},
		Issuers:     &issuerStore{base},
		Credentials: &credentialStore{base},
		Profiles:    &profileStore{base},
		Proofs:      &proofStore{base},
		Requests:    &requestStore{base},
		Events:      &eventStore{base},
	}
}

// FetchUnpublished returns up to limit unpublished events in append order.
func (l *Ledger) FetchUnpublished(_ context.Context, limit int) ([]events.OutboxEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.OutboxEntry
	for _, e := range l.st.outbox {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, events.OutboxEntry{Seq: e.Seq, Event: e.Event.Clone()})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkPublished stamps the given events and drops published entries from memory.
func (l *Ledger) MarkPublished(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	marked := make(map[uuid.UUID]struct{}, len(ids))
	for _, eid := range ids {
		marked[eid] = struct{}{}
	}
	l.st.outbox = slices.DeleteFunc(l.st.outbox, func(e *events.OutboxEntry) bool {
		_, ok := marked[e.Event.ID]
		return ok
	})
	return nil
}

// PendingEvents reports how many events await relay.
func (l *Ledger) PendingEvents() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.st.outbox)
}
