// Package store provides SQL-backed durable storage for attest ledgers.
//
// The store implements ledger.Backend over three tables:
//   - ledgers: one row per ledger (admin, initialized_at, sequence counter)
//   - records: immutable records, PRIMARY KEY (ledger, record_key), UNIQUE (ledger, seq)
//   - index_entries: append-only secondary index lists, one row per (dimension, party, seq)
//
// # Guarantees
//
// Write-once: records are inserted with ON CONFLICT DO NOTHING and zero
// affected rows is reported as ledger.ErrAlreadyRecorded. Triggers reject
// UPDATE and DELETE on records and index_entries, and any change to an
// admin once it is set.
//
// Atomicity: Update runs the whole write in one SQL transaction. The
// sequence counter lives in the ledgers row, so a rolled-back write
// consumes no sequence number.
//
// Deterministic reads: index lists are read ORDER BY seq ASC.
//
// # Database Configuration
//
// SQLite (Open):
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// PostgreSQL (OpenPostgres) uses the same queries with $n placeholders and
// enforces immutability with plpgsql triggers.
package store
