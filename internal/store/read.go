package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/attest/internal/ledger"
)

// Admin returns the ledger's admin, if set.
func (t *tx) Admin() (ledger.Identity, bool, error) {
	var admin sql.NullString
	err := t.queryRow(`SELECT admin FROM ledgers WHERE name = ?`, t.ledger).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read admin: %w", err)
	}
	if !admin.Valid {
		return "", false, nil
	}
	return ledger.Identity(admin.String), true, nil
}

// Get returns the record stored under key.
// Returns false (not an error) if no record exists.
func (t *tx) Get(key string) (ledger.Record, bool, error) {
	row := t.queryRow(`
		SELECT record_key, seq, parties, fields, event_time, recorded_at, digest
		FROM records
		WHERE ledger = ? AND record_key = ?
	`, t.ledger, key)

	rec, err := t.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, err
	}
	return rec, true, nil
}

// List returns the entries of one index list ordered by seq.
// Returns an empty slice (not nil) if the list is empty.
func (t *tx) List(dimension string, party ledger.Identity) ([]ledger.IndexEntry, error) {
	rows, err := t.query(`
		SELECT record_key, seq
		FROM index_entries
		WHERE ledger = ? AND dimension = ? AND party = ?
		ORDER BY seq ASC
	`, t.ledger, dimension, string(party))
	if err != nil {
		return nil, fmt.Errorf("query index entries: %w", err)
	}
	defer rows.Close()

	entries := make([]ledger.IndexEntry, 0)
	for rows.Next() {
		var (
			key string
			seq int64
		)
		if err := rows.Scan(&key, &seq); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		entries = append(entries, ledger.IndexEntry{Key: key, Seq: uint64(seq)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index entries: %w", err)
	}
	return entries, nil
}

// Sequence returns the last assigned sequence number, 0 for a new ledger.
func (t *tx) Sequence() (uint64, error) {
	var seq int64
	err := t.queryRow(`SELECT sequence FROM ledgers WHERE name = ?`, t.ledger).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	return uint64(seq), nil
}

// Scan calls fn for every record in seq order, stopping at the first error.
func (t *tx) Scan(fn func(ledger.Record) error) error {
	rows, err := t.query(`
		SELECT record_key, seq, parties, fields, event_time, recorded_at, digest
		FROM records
		WHERE ledger = ?
		ORDER BY seq ASC
	`, t.ledger)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := t.scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (t *tx) scanRecord(s scanner) (ledger.Record, error) {
	var (
		rec         ledger.Record
		seq         int64
		partiesJSON string
		fieldsJSON  string
	)
	err := s.Scan(&rec.Key, &seq, &partiesJSON, &fieldsJSON, &rec.Timestamp, &rec.RecordedAt, &rec.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, err
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("scan record: %w", err)
	}

	rec.Ledger = t.ledger
	rec.Seq = uint64(seq)
	if rec.Parties, err = unmarshalParties(partiesJSON); err != nil {
		return ledger.Record{}, fmt.Errorf("record %s: %w", rec.Key, err)
	}
	if rec.Fields, err = unmarshalFields(fieldsJSON); err != nil {
		return ledger.Record{}, fmt.Errorf("record %s: %w", rec.Key, err)
	}
	return rec, nil
}
