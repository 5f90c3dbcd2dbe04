// Package postgres is the durable ledger. Every transaction first takes one
// transaction-scoped advisory lock, which gives all server replicas the same
// single global order of calls the in-memory ledger gets from its mutex.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"credrep/internal/events"
	"credrep/internal/ledger"
	dErrors "credrep/pkg/domain-errors"
	txcontext "credrep/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// ledgerLockKey is the pg_advisory_xact_lock key serializing ledger writes.
const ledgerLockKey int64 = 0x6372656472657031

// Open connects through the pgx database/sql driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// Ledger implements ledger.Ledger and ledger.Outbox on PostgreSQL.
type Ledger struct {
	db      *sql.DB
	timeout time.Duration
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, timeout: ledger.DefaultTxTimeout}
}

var (
	_ ledger.Ledger = (*Ledger)(nil)
	_ ledger.Outbox = (*Ledger)(nil)
)

func (l *Ledger) RunInTx(ctx context.Context, fn func(ctx context.Context, s ledger.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin ledger transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "acquire ledger lock")
	}

	txCtx := txcontext.WithTx(ctx, tx)
	if err := fn(txCtx, l.stores()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit ledger transaction")
	}
	return nil
}

func (l *Ledger) stores() ledger.Stores {
	base := pgStore{db: l.db}
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

func (l *Ledger) FetchUnpublished(ctx context.Context, limit int) ([]events.OutboxEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, id, event_type, aggregate_id, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []events.OutboxEntry
	for rows.Next() {
		var (
			entry   events.OutboxEntry
			evType  string
			payload []byte
		)
		if err := rows.Scan(&entry.Seq, &entry.Event.ID, &evType, &entry.Event.AggregateID, &payload, &entry.Event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.Event.Type = events.Type(evType)
		if err := json.Unmarshal(payload, &entry.Event.Attributes); err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (l *Ledger) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, eid := range ids {
		strIDs[i] = eid.String()
	}
	if _, err := l.db.ExecContext(ctx, `UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`, at, strIDs); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
