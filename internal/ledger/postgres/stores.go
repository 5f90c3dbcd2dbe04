package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"

	credmodels "credrep/internal/credential/models"
	"credrep/internal/events"
	"credrep/internal/fhe"
	proofmodels "credrep/internal/proof/models"
	repmodels "credrep/internal/reputation/models"
	revealmodels "credrep/internal/reveal/models"
	id "credrep/pkg/domain"
	"credrep/pkg/platform/sentinel"
	txcontext "credrep/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// pgStore routes queries through the transaction carried in ctx.
type pgStore struct {
	db *sql.DB
}

func (s pgStore) exec(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return sentinel.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func ctBytes(c fhe.Ciphertext) []byte {
	b, _ := c.MarshalBinary()
	return b
}

func scanCT(raw []byte, dst *fhe.Ciphertext) error {
	if err := dst.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("decode ciphertext column: %w", err)
	}
	return nil
}

// ctListBytes concatenates the binary form of each ciphertext.
func ctListBytes(cs []fhe.Ciphertext) []byte {
	out := make([]byte, 0, len(cs)*(1+len(fhe.Handle{})))
	for _, c := range cs {
		out = append(out, ctBytes(c)...)
	}
	return out
}

func scanCTList(raw []byte) ([]fhe.Ciphertext, error) {
	width := 1 + len(fhe.Handle{})
	if len(raw)%width != 0 {
		return nil, fmt.Errorf("decode ciphertext list: %d bytes is not a multiple of %d", len(raw), width)
	}
	out := make([]fhe.Ciphertext, len(raw)/width)
	for i := range out {
		if err := scanCT(raw[i*width:(i+1)*width], &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

type sequenceStore struct{ pgStore }

func (s *sequenceStore) Next(ctx context.Context) (uint64, error) {
	var n int64
	err := s.exec(ctx).QueryRowContext(ctx,
		`UPDATE ledger_sequence SET value = value + 1 WHERE name = 'ledger_ids' RETURNING value`,
	).Scan(&n)
	if err != nil {
		return 0, translate(err, "advance ledger sequence")
	}
	return uint64(n), nil
}

type issuerStore struct{ pgStore }

func (s *issuerStore) Put(ctx context.Context, issuer *credmodels.TrustedIssuer) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO trusted_issuers (address, authorized_by, authorized_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET authorized_by = EXCLUDED.authorized_by, authorized_at = EXCLUDED.authorized_at
	`, issuer.Address.Bytes(), issuer.AuthorizedBy.Bytes(), issuer.AuthorizedAt)
	return translate(err, "put trusted issuer")
}

func (s *issuerStore) Get(ctx context.Context, addr id.Address) (*credmodels.TrustedIssuer, error) {
	var by []byte
	out := &credmodels.TrustedIssuer{Address: addr}
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT authorized_by, authorized_at FROM trusted_issuers WHERE address = $1`, addr.Bytes(),
	).Scan(&by, &out.AuthorizedAt)
	if err != nil {
		return nil, translate(err, "get trusted issuer")
	}
	out.AuthorizedBy = common.BytesToAddress(by)
	return out, nil
}

func (s *issuerStore) Delete(ctx context.Context, addr id.Address) error {
	res, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM trusted_issuers WHERE address = $1`, addr.Bytes())
	if err != nil {
		return translate(err, "delete trusted issuer")
	}
	return requireRow(res, "delete trusted issuer")
}

func (s *issuerStore) List(ctx context.Context) ([]*credmodels.TrustedIssuer, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT address, authorized_by, authorized_at FROM trusted_issuers ORDER BY authorized_at`)
	if err != nil {
		return nil, translate(err, "list trusted issuers")
	}
	defer rows.Close()
	var out []*credmodels.TrustedIssuer
	for rows.Next() {
		var addr, by []byte
		issuer := &credmodels.TrustedIssuer{}
		if err := rows.Scan(&addr, &by, &issuer.AuthorizedAt); err != nil {
			return nil, translate(err, "scan trusted issuer")
		}
		issuer.Address = common.BytesToAddress(addr)
		issuer.AuthorizedBy = common.BytesToAddress(by)
		out = append(out, issuer)
	}
	return out, rows.Err()
}

type credentialStore struct{ pgStore }

const credentialColumns = `id, issuer, subject, type_ct, score_ct, weight_ct, created_at, active, revoked_at`

func (s *credentialStore) Create(ctx context.Context, c *credmodels.Credential) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, int64(c.ID), c.Issuer.Bytes(), c.Subject.Bytes(),
		ctBytes(c.Type), ctBytes(c.Score), ctBytes(c.Weight),
		c.CreatedAt, c.Active, nullTime(c.RevokedAt))
	return translate(err, "insert credential")
}

func (s *credentialStore) FindByID(ctx context.Context, credID id.CredentialID) (*credmodels.Credential, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, int64(credID))
	c, err := scanCredential(row)
	if err != nil {
		return nil, translate(err, "find credential")
	}
	return c, nil
}

func (s *credentialStore) Update(ctx context.Context, c *credmodels.Credential) error {
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE credentials SET active = $2, revoked_at = $3 WHERE id = $1`,
		int64(c.ID), c.Active, nullTime(c.RevokedAt))
	if err != nil {
		return translate(err, "update credential")
	}
	return requireRow(res, "update credential")
}

func (s *credentialStore) ListBySubject(ctx context.Context, subject id.Address) ([]*credmodels.Credential, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE subject = $1 ORDER BY id`, subject.Bytes())
	if err != nil {
		return nil, translate(err, "list credentials")
	}
	defer rows.Close()
	var out []*credmodels.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, translate(err, "scan credential")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*credmodels.Credential, error) {
	var (
		credID                    int64
		issuer, subject           []byte
		typeCT, scoreCT, weightCT []byte
		revokedAt                 sql.NullTime
		c                         credmodels.Credential
	)
	if err := row.Scan(&credID, &issuer, &subject, &typeCT, &scoreCT, &weightCT, &c.CreatedAt, &c.Active, &revokedAt); err != nil {
		return nil, err
	}
	c.ID = id.CredentialID(credID)
	c.Issuer = common.BytesToAddress(issuer)
	c.Subject = common.BytesToAddress(subject)
	c.RevokedAt = timePtr(revokedAt)
	for _, pair := range []struct {
		raw []byte
		dst *fhe.Ciphertext
	}{{typeCT, &c.Type}, {scoreCT, &c.Score}, {weightCT, &c.Weight}} {
		if err := scanCT(pair.raw, pair.dst); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

type profileStore struct{ pgStore }

func (s *profileStore) FindBySubject(ctx context.Context, subject id.Address) (*repmodels.Profile, error) {
	var (
		total, trust, count []byte
		recomputedAt        sql.NullTime
	)
	p := &repmodels.Profile{Subject: subject}
	err := s.exec(ctx).QueryRowContext(ctx, `
		SELECT total_score_ct, trust_level_ct, credential_count, initialized, updated_at, recomputed_at
		FROM profiles WHERE subject = $1
	`, subject.Bytes()).Scan(&total, &trust, &count, &p.Initialized, &p.UpdatedAt, &recomputedAt)
	if err != nil {
		return nil, translate(err, "find profile")
	}
	p.RecomputedAt = timePtr(recomputedAt)
	if err := scanCT(total, &p.TotalScore); err != nil {
		return nil, err
	}
	if err := scanCT(trust, &p.TrustLevel); err != nil {
		return nil, err
	}
	if err := scanCT(count, &p.CredentialCount); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *profileStore) Save(ctx context.Context, p *repmodels.Profile) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO profiles (subject, total_score_ct, trust_level_ct, credential_count, initialized, updated_at, recomputed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject) DO UPDATE SET
			total_score_ct = EXCLUDED.total_score_ct,
			trust_level_ct = EXCLUDED.trust_level_ct,
			credential_count = EXCLUDED.credential_count,
			initialized = EXCLUDED.initialized,
			updated_at = EXCLUDED.updated_at,
			recomputed_at = EXCLUDED.recomputed_at
	`, p.Subject.Bytes(), ctBytes(p.TotalScore), ctBytes(p.TrustLevel), ctBytes(p.CredentialCount),
		p.Initialized, p.UpdatedAt, nullTime(p.RecomputedAt))
	return translate(err, "save profile")
}

type proofStore struct{ pgStore }

const proofColumns = `id, subject, kind, min_score_ct, proof_value_ct, valid, created_at, expires_at, invalidated_at,
	min_score, proof_value, revealed, reveal_state, requested_at, revealed_at`

func (s *proofStore) Create(ctx context.Context, p *proofmodels.Proof, d *proofmodels.DecryptedProof) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO proofs (`+proofColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, int64(p.ID), p.Subject.Bytes(), string(p.Kind), ctBytes(p.MinScoreThreshold), ctBytes(p.ProofValue),
		p.Valid, p.CreatedAt, nullTime(p.ExpiresAt), nullTime(p.InvalidatedAt),
		int64(d.MinScore), int64(d.ProofValue), d.Revealed, string(d.State), nullTime(d.RequestedAt), nullTime(d.RevealedAt))
	return translate(err, "insert proof")
}

func (s *proofStore) FindByID(ctx context.Context, proofID id.ProofID) (*proofmodels.ProofRecord, error) {
	row := s.exec(ctx).QueryRowContext(ctx, `SELECT `+proofColumns+` FROM proofs WHERE id = $1`, int64(proofID))
	rec, err := scanProof(row)
	if err != nil {
		return nil, translate(err, "find proof")
	}
	return rec, nil
}

func (s *proofStore) Update(ctx context.Context, p *proofmodels.Proof) error {
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE proofs SET valid = $2, expires_at = $3, invalidated_at = $4 WHERE id = $1`,
		int64(p.ID), p.Valid, nullTime(p.ExpiresAt), nullTime(p.InvalidatedAt))
	if err != nil {
		return translate(err, "update proof")
	}
	return requireRow(res, "update proof")
}

func (s *proofStore) UpdateDecrypted(ctx context.Context, d *proofmodels.DecryptedProof) error {
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE proofs SET min_score = $2, proof_value = $3, revealed = $4, reveal_state = $5,
			requested_at = $6, revealed_at = $7
		WHERE id = $1
	`, int64(d.ProofID), int64(d.MinScore), int64(d.ProofValue), d.Revealed, string(d.State),
		nullTime(d.RequestedAt), nullTime(d.RevealedAt))
	if err != nil {
		return translate(err, "update decrypted proof")
	}
	return requireRow(res, "update decrypted proof")
}

func (s *proofStore) ListBySubject(ctx context.Context, subject id.Address) ([]*proofmodels.ProofRecord, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE subject = $1 ORDER BY id`, subject.Bytes())
	if err != nil {
		return nil, translate(err, "list proofs")
	}
	defer rows.Close()
	var out []*proofmodels.ProofRecord
	for rows.Next() {
		rec, err := scanProof(rows)
		if err != nil {
			return nil, translate(err, "scan proof")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanProof(row scanner) (*proofmodels.ProofRecord, error) {
	var (
		proofID, minScore, proofValue int64
		subject, minCT, valueCT       []byte
		kind, state                   string
		expiresAt, invalidatedAt      sql.NullTime
		requestedAt, revealedAt       sql.NullTime
		p                             proofmodels.Proof
		d                             proofmodels.DecryptedProof
	)
	if err := row.Scan(&proofID, &subject, &kind, &minCT, &valueCT, &p.Valid, &p.CreatedAt, &expiresAt, &invalidatedAt,
		&minScore, &proofValue, &d.Revealed, &state, &requestedAt, &revealedAt); err != nil {
		return nil, err
	}
	p.ID = id.ProofID(proofID)
	p.Subject = common.BytesToAddress(subject)
	p.Kind = proofmodels.Kind(kind)
	p.ExpiresAt = timePtr(expiresAt)
	p.InvalidatedAt = timePtr(invalidatedAt)
	if err := scanCT(minCT, &p.MinScoreThreshold); err != nil {
		return nil, err
	}
	if err := scanCT(valueCT, &p.ProofValue); err != nil {
		return nil, err
	}
	d.ProofID = p.ID
	d.MinScore = uint64(minScore)
	d.ProofValue = uint64(proofValue)
	d.State = proofmodels.RevealState(state)
	d.RequestedAt = timePtr(requestedAt)
	d.RevealedAt = timePtr(revealedAt)
	return &proofmodels.ProofRecord{Proof: &p, Decrypted: &d}, nil
}

type requestStore struct{ pgStore }

func (s *requestStore) Create(ctx context.Context, r *revealmodels.RevealRequest) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO reveal_requests (request_id, proof_id, handles, created_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, int64(r.RequestID), int64(r.ProofID), ctListBytes(r.Handles), r.CreatedAt, nullTime(r.ConsumedAt))
	return translate(err, "insert reveal request")
}

func (s *requestStore) FindByID(ctx context.Context, reqID id.RequestID) (*revealmodels.RevealRequest, error) {
	var (
		proofID    int64
		handles    []byte
		consumedAt sql.NullTime
	)
	r := &revealmodels.RevealRequest{RequestID: reqID}
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT proof_id, handles, created_at, consumed_at FROM reveal_requests WHERE request_id = $1`, int64(reqID),
	).Scan(&proofID, &handles, &r.CreatedAt, &consumedAt)
	if err != nil {
		return nil, translate(err, "find reveal request")
	}
	r.ProofID = id.ProofID(proofID)
	if r.Handles, err = scanCTList(handles); err != nil {
		return nil, err
	}
	r.ConsumedAt = timePtr(consumedAt)
	return r, nil
}

func (s *requestStore) Update(ctx context.Context, r *revealmodels.RevealRequest) error {
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE reveal_requests SET consumed_at = $2 WHERE request_id = $1`,
		int64(r.RequestID), nullTime(r.ConsumedAt))
	if err != nil {
		return translate(err, "update reveal request")
	}
	return requireRow(res, "update reveal request")
}

type eventStore struct{ pgStore }

func (s *eventStore) Append(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal event attributes: %w", err)
	}
	_, err = s.exec(ctx).ExecContext(ctx, `
		INSERT INTO outbox (id, event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, string(e.Type), e.AggregateID, payload, e.OccurredAt)
	return translate(err, "insert outbox entry")
}
