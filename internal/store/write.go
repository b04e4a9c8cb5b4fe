package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/attest/internal/ledger"
)

// querier is the subset of *sql.Tx used by tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tx implements ledger.Tx over one SQL transaction for one ledger.
type tx struct {
	store  *Store
	ctx    context.Context
	q      querier
	ledger string
}

var _ ledger.Tx = (*tx)(nil)

func (t *tx) exec(query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(t.ctx, t.store.rebind(query), args...)
}

func (t *tx) queryRow(query string, args ...any) *sql.Row {
	return t.q.QueryRowContext(t.ctx, t.store.rebind(query), args...)
}

func (t *tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(t.ctx, t.store.rebind(query), args...)
}

// ensureLedger creates the ledger row on first use.
func (t *tx) ensureLedger() error {
	_, err := t.exec(`
		INSERT INTO ledgers (name, sequence) VALUES (?, 0)
		ON CONFLICT(name) DO NOTHING
	`, t.ledger)
	if err != nil {
		return fmt.Errorf("ensure ledger: %w", err)
	}
	return nil
}

// SetAdmin stores the admin identity if none is set.
// Uses a conditional UPDATE; zero affected rows means an admin already exists.
func (t *tx) SetAdmin(admin ledger.Identity, at int64) error {
	if err := t.ensureLedger(); err != nil {
		return fmt.Errorf("set admin: %w", err)
	}

	res, err := t.exec(`
		UPDATE ledgers SET admin = ?, initialized_at = ?
		WHERE name = ? AND admin IS NULL
	`, string(admin), at, t.ledger)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set admin: rows affected: %w", err)
	}
	if n == 0 {
		return ledger.ErrAlreadyInitialized
	}
	return nil
}

// PutIfAbsent inserts rec. Uses ON CONFLICT DO NOTHING on the primary key;
// zero affected rows means the key is already recorded.
func (t *tx) PutIfAbsent(rec ledger.Record) error {
	partiesJSON, err := marshalParties(rec.Parties)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	fieldsJSON, err := marshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := t.ensureLedger(); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	res, err := t.exec(`
		INSERT INTO records
		(ledger, record_key, seq, parties, fields, event_time, recorded_at, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ledger, record_key) DO NOTHING
	`,
		t.ledger,
		rec.Key,
		int64(rec.Seq),
		partiesJSON,
		fieldsJSON,
		rec.Timestamp,
		rec.RecordedAt,
		rec.Digest,
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write record: rows affected: %w", err)
	}
	if n == 0 {
		return &ledger.Error{Code: ledger.CodeAlreadyRecorded, Message: "record already exists", Key: rec.Key}
	}
	return nil
}

// Append inserts one index entry. The record it points at must already be
// written in this transaction (foreign key).
func (t *tx) Append(dimension string, party ledger.Identity, key string, seq uint64) error {
	_, err := t.exec(`
		INSERT INTO index_entries (ledger, dimension, party, seq, record_key)
		VALUES (?, ?, ?, ?, ?)
	`, t.ledger, dimension, string(party), int64(seq), key)
	if err != nil {
		return fmt.Errorf("append index entry: %w", err)
	}
	return nil
}

// NextSequence increments and returns the ledger's sequence counter.
func (t *tx) NextSequence() (uint64, error) {
	if err := t.ensureLedger(); err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}

	var seq int64
	err := t.queryRow(`
		UPDATE ledgers SET sequence = sequence + 1
		WHERE name = ?
		RETURNING sequence
	`, t.ledger).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("next sequence: ledger %s vanished", t.ledger)
	}
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return uint64(seq), nil
}
