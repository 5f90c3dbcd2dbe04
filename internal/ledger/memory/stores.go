package memory

import (
	"context"
	"slices"

	credmodels "credrep/internal/credential/models"
	"credrep/internal/events"
	proofmodels "credrep/internal/proof/models"
	repmodels "credrep/internal/reputation/models"
	revealmodels "credrep/internal/reveal/models"
	id "credrep/pkg/domain"
	"credrep/pkg/platform/sentinel"
)

// txStore is embedded by every store; all of them share the transaction's
// journal and the ledger state.
type txStore struct {
	st *state
	j  *journal
}

type sequenceStore struct{ txStore }

func (s *sequenceStore) Next(context.Context) (uint64, error) {
	prev := s.st.seq
	s.st.seq++
	s.j.record(func() { s.st.seq = prev })
	return s.st.seq, nil
}

type issuerStore struct{ txStore }

func (s *issuerStore) Put(_ context.Context, issuer *credmodels.TrustedIssuer) error {
	prev, existed := s.st.issuers[issuer.Address]
	cp := *issuer
	s.st.issuers[issuer.Address] = &cp
	s.j.record(func() {
		if existed {
			s.st.issuers[issuer.Address] = prev
		} else {
			delete(s.st.issuers, issuer.Address)
		}
	})
	return nil
}

func (s *issuerStore) Get(_ context.Context, addr id.Address) (*credmodels.TrustedIssuer, error) {
	issuer, ok := s.st.issuers[addr]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *issuer
	return &cp, nil
}

func (s *issuerStore) Delete(_ context.Context, addr id.Address) error {
	prev, ok := s.st.issuers[addr]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.st.issuers, addr)
	s.j.record(func() { s.st.issuers[addr] = prev })
	return nil
}

func (s *issuerStore) List(context.Context) ([]*credmodels.TrustedIssuer, error) {
	out := make([]*credmodels.TrustedIssuer, 0, len(s.st.issuers))
	for _, issuer := range s.st.issuers {
		cp := *issuer
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *credmodels.TrustedIssuer) int {
		return a.AuthorizedAt.Compare(b.AuthorizedAt)
	})
	return out, nil
}

type credentialStore struct{ txStore }

func (s *credentialStore) Create(_ context.Context, c *credmodels.Credential) error {
	if _, exists := s.st.credentials[c.ID]; exists {
		return sentinel.ErrConflict
	}
	s.st.credentials[c.ID] = c.Clone()
	prevIndex := s.st.credsBySubject[c.Subject]
	s.st.credsBySubject[c.Subject] = append(slices.Clone(prevIndex), c.ID)
	s.j.record(func() {
		delete(s.st.credentials, c.ID)
		if prevIndex == nil {
			delete(s.st.credsBySubject, c.Subject)
		} else {
			s.st.credsBySubject[c.Subject] = prevIndex
		}
	})
	return nil
}

func (s *credentialStore) FindByID(_ context.Context, credID id.CredentialID) (*credmodels.Credential, error) {
	c, ok := s.st.credentials[credID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *credentialStore) Update(_ context.Context, c *credmodels.Credential) error {
	prev, ok := s.st.credentials[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.st.credentials[c.ID] = c.Clone()
	s.j.record(func() { s.st.credentials[c.ID] = prev })
	return nil
}

func (s *credentialStore) ListBySubject(_ context.Context, subject id.Address) ([]*credmodels.Credential, error) {
	ids := s.st.credsBySubject[subject]
	out := make([]*credmodels.Credential, 0, len(ids))
	for _, credID := range ids {
		out = append(out, s.st.credentials[credID].Clone())
	}
	return out, nil
}

type profileStore struct{ txStore }

func (s *profileStore) FindBySubject(_ context.Context, subject id.Address) (*repmodels.Profile, error) {
	p, ok := s.st.profiles[subject]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *profileStore) Save(_ context.Context, p *repmodels.Profile) error {
	prev, existed := s.st.profiles[p.Subject]
	s.st.profiles[p.Subject] = p.Clone()
	s.j.record(func() {
		if existed {
			s.st.profiles[p.Subject] = prev
		} else {
			delete(s.st.profiles, p.Subject)
		}
	})
	return nil
}

type proofStore struct{ txStore }

func (s *proofStore) Create(_ context.Context, p *proofmodels.Proof, d *proofmodels.DecryptedProof) error {
	if _, exists := s.st.proofs[p.ID]; exists {
		return sentinel.ErrConflict
	}
	s.st.proofs[p.ID] = &proofRow{proof: p.Clone(), decrypted: d.Clone()}
	prevIndex := s.st.proofsBySubject[p.Subject]
	s.st.proofsBySubject[p.Subject] = append(slices.Clone(prevIndex), p.ID)
	s.j.record(func() {
		delete(s.st.proofs, p.ID)
		if prevIndex == nil {
			delete(s.st.proofsBySubject, p.Subject)
		} else {
			s.st.proofsBySubject[p.Subject] = prevIndex
		}
	})
	return nil
}

func (s *proofStore) FindByID(_ context.Context, proofID id.ProofID) (*proofmodels.ProofRecord, error) {
	row, ok := s.st.proofs[proofID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &proofmodels.ProofRecord{Proof: row.proof.Clone(), Decrypted: row.decrypted.Clone()}, nil
}

func (s *proofStore) Update(_ context.Context, p *proofmodels.Proof) error {
	row, ok := s.st.proofs[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	prev := row.proof
	row.proof = p.Clone()
	s.j.record(func() { row.proof = prev })
	return nil
}

func (s *proofStore) UpdateDecrypted(_ context.Context, d *proofmodels.DecryptedProof) error {
	row, ok := s.st.proofs[d.ProofID]
	if !ok {
		return sentinel.ErrNotFound
	}
	prev := row.decrypted
	row.decrypted = d.Clone()
	s.j.record(func() { row.decrypted = prev })
	return nil
}

func (s *proofStore) ListBySubject(_ context.Context, subject id.Address) ([]*proofmodels.ProofRecord, error) {
	ids := s.st.proofsBySubject[subject]
	out := make([]*proofmodels.ProofRecord, 0, len(ids))
	for _, proofID := range ids {
		row := s.st.proofs[proofID]
		out = append(out, &proofmodels.ProofRecord{Proof: row.proof.Clone(), Decrypted: row.decrypted.Clone()})
	}
	return out, nil
}

type requestStore struct{ txStore }

func (s *requestStore) Create(_ context.Context, r *revealmodels.RevealRequest) error {
	if _, exists := s.st.requests[r.RequestID]; exists {
		return sentinel.ErrConflict
	}
	s.st.requests[r.RequestID] = r.Clone()
	s.j.record(func() { delete(s.st.requests, r.RequestID) })
	return nil
}

func (s *requestStore) FindByID(_ context.Context, reqID id.RequestID) (*revealmodels.RevealRequest, error) {
	r, ok := s.st.requests[reqID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *requestStore) Update(_ context.Context, r *revealmodels.RevealRequest) error {
	prev, ok := s.st.requests[r.RequestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.st.requests[r.RequestID] = r.Clone()
	s.j.record(func() { s.st.requests[r.RequestID] = prev })
	return nil
}

type eventStore struct{ txStore }

func (s *eventStore) Append(_ context.Context, e events.Event) error {
	s.st.outboxSeq++
	entry := &events.OutboxEntry{Seq: s.st.outboxSeq, Event: e.Clone()}
	s.st.outbox = append(s.st.outbox, entry)
	s.j.record(func() {
		s.st.outbox = s.st.outbox[:len(s.st.outbox)-1]
		s.st.outboxSeq--
	})
	return nil
}
