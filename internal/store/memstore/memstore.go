// Package memstore is an in-memory ledger.Backend.
//
// Each transaction stages its writes and applies them only when the
// transaction function returns nil, so a failed write leaves no trace.
// It backs the scenario harness, the "memory" store driver and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"github.com/roach88/attest/internal/ledger"
)

// Store holds any number of ledgers in memory.
type Store struct {
	mu      sync.Mutex // serializes Update
	ledgers *skipmap.FuncMap[string, *state]
}

type state struct {
	mu            sync.RWMutex
	admin         ledger.Identity
	initializedAt int64
	sequence      uint64
	records       *skipmap.FuncMap[string, ledger.Record]
	index         *skipmap.FuncMap[string, []ledger.IndexEntry]
}

// New returns an empty store.
func New() *Store {
	return &Store{
		ledgers: skipmap.NewFunc[string, *state](func(a, b string) bool {
			return a < b
		}),
	}
}

func newState() *state {
	return &state{
		records: skipmap.NewFunc[string, ledger.Record](func(a, b string) bool {
			return a < b
		}),
		index: skipmap.NewFunc[string, []ledger.IndexEntry](func(a, b string) bool {
			return a < b
		}),
	}
}

// Ledgers returns the names of ledgers that have state, in order.
func (s *Store) Ledgers() []string {
	names := make([]string, 0, s.ledgers.Len())
	s.ledgers.Range(func(name string, _ *state) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Update implements ledger.Backend.
func (s *Store) Update(ctx context.Context, name string, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.ledgers.Load(name)
	if !exists {
		st = newState()
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	t := &tx{reader: reader{st: st}, staged: make(map[string]ledger.Record)}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	if !exists {
		s.ledgers.Store(name, st)
	}
	return nil
}

// View implements ledger.Backend.
func (s *Store) View(ctx context.Context, name string, fn func(r ledger.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, ok := s.ledgers.Load(name)
	if !ok {
		return fn(emptyReader{})
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return fn(reader{st: st})
}

func indexKey(dimension string, party ledger.Identity) string {
	return dimension + "\x00" + string(party)
}

type reader struct {
	st *state
}

func (r reader) Admin() (ledger.Identity, bool, error) {
	return r.st.admin, r.st.admin != "", nil
}

func (r reader) Get(key string) (ledger.Record, bool, error) {
	rec, ok := r.st.records.Load(key)
	if !ok {
		return ledger.Record{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (r reader) List(dimension string, party ledger.Identity) ([]ledger.IndexEntry, error) {
	entries, _ := r.st.index.Load(indexKey(dimension, party))
	out := make([]ledger.IndexEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (r reader) Sequence() (uint64, error) {
	return r.st.sequence, nil
}

func (r reader) Scan(fn func(ledger.Record) error) error {
	records := make([]ledger.Record, 0, r.st.records.Len())
	r.st.records.Range(func(_ string, rec ledger.Record) bool {
		records = append(records, rec)
		return true
	})
	return scanSorted(records, fn)
}

func scanSorted(records []ledger.Record, fn func(ledger.Record) error) error {
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	for _, rec := range records {
		if err := fn(cloneRecord(rec)); err != nil {
			return err
		}
	}
	return nil
}

type emptyReader struct{}

func (emptyReader) Admin() (ledger.Identity, bool, error) { return "", false, nil }

func (emptyReader) Get(string) (ledger.Record, bool, error) { return ledger.Record{}, false, nil }

func (emptyReader) List(string, ledger.Identity) ([]ledger.IndexEntry, error) {
	return []ledger.IndexEntry{}, nil
}

func (emptyReader) Sequence() (uint64, error) { return 0, nil }

func (emptyReader) Scan(func(ledger.Record) error) error { return nil }

type appendOp struct {
	key   string
	entry ledger.IndexEntry
}

// tx reads through its staged writes to the committed state.
type tx struct {
	reader

	admin    ledger.Identity
	adminAt  int64
	sequence uint64
	staged   map[string]ledger.Record
	order    []string
	appends  []appendOp
}

func (t *tx) Admin() (ledger.Identity, bool, error) {
	if t.admin != "" {
		return t.admin, true, nil
	}
	return t.reader.Admin()
}

func (t *tx) Get(key string) (ledger.Record, bool, error) {
	if rec, ok := t.staged[key]; ok {
		return cloneRecord(rec), true, nil
	}
	return t.reader.Get(key)
}

func (t *tx) List(dimension string, party ledger.Identity) ([]ledger.IndexEntry, error) {
	out, err := t.reader.List(dimension, party)
	if err != nil {
		return nil, err
	}
	k := indexKey(dimension, party)
	for _, op := range t.appends {
		if op.key == k {
			out = append(out, op.entry)
		}
	}
	return out, nil
}

func (t *tx) Sequence() (uint64, error) {
	if t.sequence != 0 {
		return t.sequence, nil
	}
	return t.reader.Sequence()
}

func (t *tx) Scan(fn func(ledger.Record) error) error {
	records := make([]ledger.Record, 0, t.st.records.Len()+len(t.order))
	t.st.records.Range(func(_ string, rec ledger.Record) bool {
		records = append(records, rec)
		return true
	})
	for _, key := range t.order {
		records = append(records, t.staged[key])
	}
	return scanSorted(records, fn)
}

func (t *tx) SetAdmin(admin ledger.Identity, at int64) error {
	if _, ok, _ := t.Admin(); ok {
		return ledger.ErrAlreadyInitialized
	}
	t.admin = admin
	t.adminAt = at
	return nil
}

func (t *tx) PutIfAbsent(rec ledger.Record) error {
	if _, ok, _ := t.Get(rec.Key); ok {
		return &ledger.Error{Code: ledger.CodeAlreadyRecorded, Message: "record already exists", Key: rec.Key}
	}
	t.staged[rec.Key] = cloneRecord(rec)
	t.order = append(t.order, rec.Key)
	return nil
}

func (t *tx) Append(dimension string, party ledger.Identity, key string, seq uint64) error {
	t.appends = append(t.appends, appendOp{
		key:   indexKey(dimension, party),
		entry: ledger.IndexEntry{Key: key, Seq: seq},
	})
	return nil
}

func (t *tx) NextSequence() (uint64, error) {
	cur, _ := t.Sequence()
	t.sequence = cur + 1
	return t.sequence, nil
}

// commit applies staged writes. Called with the ledger's write lock held.
func (t *tx) commit() {
	st := t.st
	if t.admin != "" {
		st.admin = t.admin
		st.initializedAt = t.adminAt
	}
	if t.sequence != 0 {
		st.sequence = t.sequence
	}
	for _, key := range t.order {
		st.records.Store(key, t.staged[key])
	}
	for _, op := range t.appends {
		cur, _ := st.index.Load(op.key)
		next := make([]ledger.IndexEntry, len(cur), len(cur)+1)
		copy(next, cur)
		st.index.Store(op.key, append(next, op.entry))
	}
}

func cloneRecord(rec ledger.Record) ledger.Record {
	out := rec
	out.Parties = make(map[string]ledger.Identity, len(rec.Parties))
	for role, id := range rec.Parties {
		out.Parties[role] = id
	}
	out.Fields = rec.Fields.Clone()
	return out
}
