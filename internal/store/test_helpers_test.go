package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/attest/internal/ir"
	"github.com/roach88/attest/internal/ledger"
)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a record with minimal required fields.
func createTestRecord(key string, seq uint64, client string) ledger.Record {
	return ledger.Record{
		Ledger:     "test-ledger",
		Key:        key,
		Seq:        seq,
		Parties:    map[string]ledger.Identity{"client": ledger.Identity(client)},
		Fields:     ir.IRObject{"completed": ir.IRBool(true)},
		Timestamp:  1_700_000_000,
		RecordedAt: 1_700_000_100,
		Digest:     "digest-" + key,
	}
}

// writeRecord commits rec and its client index entry in one transaction.
func writeRecord(t *testing.T, s *Store, rec ledger.Record) {
	t.Helper()
	err := s.Update(context.Background(), rec.Ledger, func(tx ledger.Tx) error {
		seq, err := tx.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq
		if err := tx.PutIfAbsent(rec); err != nil {
			return err
		}
		return tx.Append("client", rec.Parties["client"], rec.Key, rec.Seq)
	})
	if err != nil {
		t.Fatalf("writeRecord(%s) failed: %v", rec.Key, err)
	}
}
