// Package ledger implements an append-only, admin-gated record ledger.
//
// A Ledger accepts immutable records exactly once per key and maintains
// secondary indexes so records can be listed by the parties they name.
// Writes pass, in order, through:
//
//	Guard      the caller must be the registered admin
//	Validator  identifier and timestamp shape
//	Schema     parties and content fields
//	Records    write-once put, recorded_at from the ledger clock
//	Indexes    one append per index dimension
//
// all inside a single Backend transaction, so either every write lands or
// none does. Reads are public and go straight to the backend.
//
// The Schema type unifies caller-keyed ledgers (ProjectPublications) and
// sequence-keyed ledgers (TaskOutcomes) behind the same write path.
package ledger
