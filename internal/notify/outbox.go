package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/attest/internal/ir"
)

// maxOutboxLine bounds a single outbox line when reading.
const maxOutboxLine = 16 << 20

// ErrOutboxChain is returned when an outbox file's hash chain is broken.
var ErrOutboxChain = errors.New("outbox hash chain broken")

// outboxEntry is one JSONL line. Hash covers the entry with Hash empty.
type outboxEntry struct {
	Seq      uint64          `json:"seq"`
	PrevHash string          `json:"prev_hash"`
	Event    json.RawMessage `json:"event"`
	Hash     string          `json:"hash,omitempty"`
}

func (e outboxEntry) computeHash() (string, error) {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return ir.DigestJSON(ir.DomainOutbox, data)
}

// Outbox appends events to a hash-chained JSONL file. Each line carries the
// hash of the previous line, so truncation in the middle or edits are
// detected by VerifyOutbox.
type Outbox struct {
	path string

	mu       sync.Mutex
	file     outboxFile
	size     int64 // length of the verified content
	seq      uint64
	lastHash string
	broken   error
}

// outboxFile is the subset of *os.File the outbox writes through.
type outboxFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// OpenOutbox opens or creates the outbox at path, verifying any existing
// content first.
func OpenOutbox(path string) (*Outbox, error) {
	n, last, err := VerifyOutbox(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat outbox: %w", err)
	}
	return &Outbox{path: path, file: f, size: info.Size(), seq: n, lastHash: last}, nil
}

// Deliver implements Sink.
func (o *Outbox) Deliver(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return errors.New("outbox closed")
	}
	if o.broken != nil {
		return fmt.Errorf("outbox unusable: %w", o.broken)
	}

	entry := outboxEntry{
		Seq:      o.seq + 1,
		PrevHash: o.lastHash,
		Event:    data,
	}
	hash, err := entry.computeHash()
	if err != nil {
		return fmt.Errorf("hash outbox entry: %w", err)
	}
	entry.Hash = hash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := o.file.Write(line); err != nil {
		return o.rollback(fmt.Errorf("write outbox: %w", err))
	}
	if err := o.file.Sync(); err != nil {
		return o.rollback(fmt.Errorf("sync outbox: %w", err))
	}

	o.size += int64(len(line))
	o.seq = entry.Seq
	o.lastHash = hash
	return nil
}

// rollback cuts a partly written line off the file. If that fails the
// outbox refuses further writes, since any line appended after the torn one
// would break the chain.
func (o *Outbox) rollback(cause error) error {
	if err := o.file.Truncate(o.size); err != nil {
		o.broken = errors.Join(cause, fmt.Errorf("truncate outbox: %w", err))
		return o.broken
	}
	return cause
}

// Close closes the outbox file.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

// VerifyOutbox checks the hash chain of the outbox at path and returns the
// number of entries and the hash of the last one.
func VerifyOutbox(path string) (uint64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open outbox: %w", err)
	}
	defer f.Close()

	var (
		n    uint64
		last string
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutboxLine)
	for scanner.Scan() {
		var entry outboxEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return n, last, fmt.Errorf("%w: line %d: %v", ErrOutboxChain, n+1, err)
		}
		if entry.Seq != n+1 {
			return n, last, fmt.Errorf("%w: line %d has seq %d", ErrOutboxChain, n+1, entry.Seq)
		}
		if entry.PrevHash != last {
			return n, last, fmt.Errorf("%w: line %d prev_hash mismatch", ErrOutboxChain, n+1)
		}
		want, err := entry.computeHash()
		if err != nil {
			return n, last, fmt.Errorf("%w: line %d: %v", ErrOutboxChain, n+1, err)
		}
		if entry.Hash != want {
			return n, last, fmt.Errorf("%w: line %d hash mismatch", ErrOutboxChain, n+1)
		}
		n = entry.Seq
		last = entry.Hash
	}
	if err := scanner.Err(); err != nil {
		return n, last, fmt.Errorf("scan outbox: %w", err)
	}
	return n, last, nil
}
