package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/attest/internal/ir"
)

// ErrDigestMismatch is returned by Verify when a record's stored digest does
// not match its content.
var ErrDigestMismatch = errors.New("record digest mismatch")

// Ledger is the facade over one named ledger in a Backend.
//
// Writes are serialized by an internal mutex and each runs as one backend
// transaction. Reads take no lock.
type Ledger struct {
	mu       sync.Mutex
	backend  Backend
	schema   Schema
	clock    Clock
	notifier Notifier
	logger   *slog.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	telemetry      *telemetry
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the ledger clock. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithNotifier sets the post-commit notifier. Defaults to NopNotifier.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Ledger) { l.tracerProvider = tp }
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(l *Ledger) { l.meterProvider = mp }
}

// New creates a facade for schema.Name in backend.
func New(backend Backend, schema Schema, opts ...Option) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("ledger: nil backend")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	l := &Ledger{
		backend:  backend,
		schema:   schema,
		clock:    SystemClock{},
		notifier: NopNotifier{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("ledger", schema.Name)

	tel, err := newTelemetry(l.tracerProvider, l.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("ledger: telemetry: %w", err)
	}
	l.telemetry = tel
	return l, nil
}

// Name returns the ledger name.
func (l *Ledger) Name() string { return l.schema.Name }

// Schema returns the ledger schema.
func (l *Ledger) Schema() Schema { return l.schema }

// Initialize registers admin as the only identity allowed to write.
// caller is the identity the host authenticated; it must equal admin.
func (l *Ledger) Initialize(ctx context.Context, caller, admin Identity) (err error) {
	ctx, span := l.telemetry.start(ctx, "ledger.Initialize", l.schema.Name)
	defer func() { l.telemetry.finish(ctx, span, l.schema.Name, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	err = l.backend.Update(ctx, l.schema.Name, func(tx Tx) error {
		return initializeAdmin(tx, caller, admin, now)
	})
	if err != nil {
		l.logger.DebugContext(ctx, "initialize rejected", "caller", caller, "error", err)
		return err
	}

	l.logger.InfoContext(ctx, "ledger initialized", "admin", admin)
	l.notify(ctx, Notification{
		Type:   AdminInitialized,
		Ledger: l.schema.Name,
		Time:   now,
		Admin:  admin,
	})
	return nil
}

// Record appends a record on behalf of caller and returns it with its
// assigned Key, Seq, RecordedAt and Digest.
//
// Failure at any step leaves the ledger unchanged, including the sequence
// counter.
func (l *Ledger) Record(ctx context.Context, caller Identity, req Request) (rec Record, err error) {
	ctx, span := l.telemetry.start(ctx, "ledger.Record", l.schema.Name)
	defer func() { l.telemetry.finish(ctx, span, l.schema.Name, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	err = l.backend.Update(ctx, l.schema.Name, func(tx Tx) error {
		if err := NewGuard(tx).RequireAdmin(caller); err != nil {
			return err
		}

		id, err := l.schema.identifier(req)
		if err != nil {
			return err
		}
		if err := Validate(id, req.Timestamp, now); err != nil {
			return err
		}
		if err := l.schema.checkShape(req); err != nil {
			return err
		}

		if l.schema.KeyStrategy == CallerKey {
			_, exists, err := getRecord(tx, req.Key)
			if err != nil {
				return err
			}
			if exists {
				return newError(CodeAlreadyRecorded, req.Key, "record already exists")
			}
		}

		seq, err := tx.NextSequence()
		if err != nil {
			return wrapBackend("next sequence", err)
		}

		rec = Record{
			Ledger:     l.schema.Name,
			Key:        req.Key,
			Seq:        seq,
			Parties:    copyParties(req.Parties),
			Fields:     cloneFields(req.Fields),
			Timestamp:  req.Timestamp,
			RecordedAt: now,
		}
		if l.schema.KeyStrategy == SequenceKey {
			rec.Key = sequenceKey(seq)
		}
		digest, err := rec.ComputeDigest()
		if err != nil {
			return newError(CodeInvalidPayload, rec.Key, "%v", err)
		}
		rec.Digest = digest

		if err := putRecord(tx, rec); err != nil {
			return err
		}
		return appendIndexes(tx, l.schema, rec)
	})
	if err != nil {
		l.logger.DebugContext(ctx, "record rejected", "caller", caller, "key", req.Key, "error", err)
		return Record{}, err
	}

	l.telemetry.recordCommitted(ctx, l.schema.Name)
	l.logger.InfoContext(ctx, "record committed", "key", rec.Key, "seq", rec.Seq)
	committed := rec
	l.notify(ctx, Notification{
		Type:   RecordCreated,
		Ledger: l.schema.Name,
		Time:   now,
		Record: &committed,
	})
	return rec, nil
}

// Get returns the record stored under key. A missing record is reported as
// false, not as an error.
func (l *Ledger) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := l.backend.View(ctx, l.schema.Name, func(r Reader) error {
		var err error
		rec, ok, err = getRecord(r, key)
		return err
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, ok, nil
}

// ListByIndex returns the records listed under party in one index
// dimension, in write order.
func (l *Ledger) ListByIndex(ctx context.Context, dimension string, party Identity) ([]Record, error) {
	if _, ok := l.schema.Index(dimension); !ok {
		return nil, newError(CodeInvalidPayload, "", "ledger %s has no index %q", l.schema.Name, dimension)
	}
	var records []Record
	err := l.backend.View(ctx, l.schema.Name, func(r Reader) error {
		entries, err := listIndex(r, dimension, party)
		if err != nil {
			return err
		}
		records, err = l.resolve(ctx, r, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListByParty returns every record that names party under any indexed
// role, in write order. A record naming party in two roles appears once.
func (l *Ledger) ListByParty(ctx context.Context, party Identity) ([]Record, error) {
	var records []Record
	err := l.backend.View(ctx, l.schema.Name, func(r Reader) error {
		lists := make([][]IndexEntry, 0, len(l.schema.Indexes))
		for _, idx := range l.schema.Indexes {
			entries, err := listIndex(r, idx.Name, party)
			if err != nil {
				return err
			}
			lists = append(lists, entries)
		}
		var err error
		records, err = l.resolve(ctx, r, mergeEntries(lists...))
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// resolve loads the records behind entries, skipping any that are missing.
func (l *Ledger) resolve(ctx context.Context, r Reader, entries []IndexEntry) ([]Record, error) {
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		rec, ok, err := getRecord(r, e.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			l.logger.WarnContext(ctx, "index entry without record", "key", e.Key, "seq", e.Seq)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Admin returns the admin identity, if initialized.
func (l *Ledger) Admin(ctx context.Context) (Identity, bool, error) {
	var (
		admin Identity
		ok    bool
	)
	err := l.backend.View(ctx, l.schema.Name, func(r Reader) error {
		var err error
		admin, ok, err = r.Admin()
		return wrapBackend("read admin", err)
	})
	return admin, ok, err
}

// State is a consistent snapshot of a ledger's admin and sequence counter.
type State struct {
	Admin       Identity
	Initialized bool
	Sequence    uint64
}

// State reads the admin and the last assigned sequence number together.
func (l *Ledger) State(ctx context.Context) (State, error) {
	var st State
	err := l.backend.View(ctx, l.schema.Name, func(r Reader) error {
		var err error
		st.Admin, st.Initialized, err = r.Admin()
		if err != nil {
			return wrapBackend("read admin", err)
		}
		st.Sequence, err = r.Sequence()
		return wrapBackend("read sequence", err)
	})
	return st, err
}

// IsInitialized reports whether the ledger has an admin.
func (l *Ledger) IsInitialized(ctx context.Context) (bool, error) {
	var ok bool
	err := l.backend.View(ctx, l.schema.Name, func(r Reader) error {
		var err error
		ok, err = NewGuard(r).IsInitialized()
		return err
	})
	return ok, err
}

// Verify recomputes rec's digest and compares it with the stored one.
func (l *Ledger) Verify(rec Record) error {
	digest, err := rec.ComputeDigest()
	if err != nil {
		return fmt.Errorf("verify %s: %w", rec.Key, err)
	}
	if digest != rec.Digest {
		return fmt.Errorf("verify %s: %w", rec.Key, ErrDigestMismatch)
	}
	return nil
}

func (l *Ledger) notify(ctx context.Context, n Notification) {
	if err := l.notifier.Notify(ctx, n); err != nil {
		l.logger.WarnContext(ctx, "notification failed", "type", n.Type, "error", err)
	}
}

func cloneFields(in ir.IRObject) ir.IRObject {
	if in == nil {
		return ir.IRObject{}
	}
	return in.Clone()
}

func copyParties(in map[string]Identity) map[string]Identity {
	out := make(map[string]Identity, len(in))
	for role, id := range in {
		out[role] = id
	}
	return out
}
