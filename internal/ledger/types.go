package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/attest/internal/ir"
)

// Identity is an opaque principal identifier. Identities are compared by
// exact equality.
type Identity string

// Request is the caller-supplied part of a record.
type Request struct {
	// Key is the primary key for CallerKey ledgers. Must be empty for
	// SequenceKey ledgers.
	Key string `json:"key,omitempty"`

	// Parties maps each schema role to the identity filling it.
	Parties map[string]Identity `json:"parties"`

	// Fields carries content fields declared by the schema.
	Fields ir.IRObject `json:"fields,omitempty"`

	// Timestamp is the caller-asserted event time in unix seconds.
	Timestamp int64 `json:"timestamp"`
}

// Record is an immutable ledger entry.
type Record struct {
	Ledger     string              `json:"ledger"`
	Key        string              `json:"key"`
	Seq        uint64              `json:"seq"`
	Parties    map[string]Identity `json:"parties"`
	Fields     ir.IRObject         `json:"fields"`
	Timestamp  int64               `json:"timestamp"`
	RecordedAt int64               `json:"recorded_at"`
	Digest     string              `json:"digest"`
}

// ComputeDigest returns the content digest of r. Digest itself is excluded.
// Timestamps are digested as decimal strings since they are unbounded.
func (r Record) ComputeDigest() (string, error) {
	parties := make(map[string]string, len(r.Parties))
	for role, id := range r.Parties {
		parties[role] = string(id)
	}
	fields := r.Fields
	if fields == nil {
		fields = ir.IRObject{}
	}
	return ir.Digest(ir.DomainRecord, map[string]any{
		"ledger":      r.Ledger,
		"key":         r.Key,
		"seq":         r.Seq,
		"parties":     parties,
		"fields":      fields,
		"timestamp":   strconv.FormatInt(r.Timestamp, 10),
		"recorded_at": strconv.FormatInt(r.RecordedAt, 10),
	})
}

// IndexEntry is one element of a secondary index list.
type IndexEntry struct {
	Key string
	Seq uint64
}

// Reader is the read side of a backend, scoped to one ledger.
type Reader interface {
	// Admin returns the admin identity and whether it is set.
	Admin() (Identity, bool, error)

	// Get returns the record stored under key, or false.
	Get(key string) (Record, bool, error)

	// List returns the entries of one index list in append order.
	// Unknown lists are empty, not an error.
	List(dimension string, party Identity) ([]IndexEntry, error)

	// Sequence returns the last assigned sequence number (0 if none).
	Sequence() (uint64, error)

	// Scan calls fn for every record in Seq order, stopping at the first
	// error fn returns.
	Scan(fn func(Record) error) error
}

// Tx is a write transaction scoped to one ledger. Nothing written through a
// Tx is visible to other readers until the enclosing Update commits.
type Tx interface {
	Reader

	// SetAdmin stores the admin identity. Fails with ErrAlreadyInitialized
	// if one is set.
	SetAdmin(admin Identity, at int64) error

	// PutIfAbsent stores rec under rec.Key. Fails with ErrAlreadyRecorded if
	// the key is taken.
	PutIfAbsent(rec Record) error

	// Append adds key to the (dimension, party) list. It does not deduplicate.
	Append(dimension string, party Identity, key string, seq uint64) error

	// NextSequence increments the ledger's sequence counter and returns the
	// new value.
	NextSequence() (uint64, error)
}

// Backend provides transactional storage for any number of ledgers.
type Backend interface {
	// Update runs fn in one transaction. If fn returns an error, every
	// write it made is discarded.
	Update(ctx context.Context, ledger string, fn func(tx Tx) error) error

	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, ledger string, fn func(r Reader) error) error
}

func sequenceKey(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// wrapBackend annotates storage failures. Ledger errors pass through
// unchanged so callers can match them.
func wrapBackend(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := CodeOf(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
