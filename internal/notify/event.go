// Package notify delivers ledger notifications to external sinks.
//
// Every sink receives the same Event envelope, built once per
// notification. Sinks run after the write committed; a failing sink never
// affects the ledger.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/attest/internal/ir"
	"github.com/roach88/attest/internal/ledger"
)

// Event is the wire form of a ledger notification.
type Event struct {
	ID      string                  `json:"id"`
	Type    ledger.NotificationType `json:"type"`
	Ledger  string                  `json:"ledger"`
	Time    int64                   `json:"time"`
	Payload ir.IRObject             `json:"payload"`
}

// NewEvent builds the envelope for n with a fresh UUIDv7 id.
func NewEvent(n ledger.Notification) (Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, fmt.Errorf("event id: %w", err)
	}
	payload, err := payloadOf(n)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:      id.String(),
		Type:    n.Type,
		Ledger:  n.Ledger,
		Time:    n.Time,
		Payload: payload,
	}, nil
}

func payloadOf(n ledger.Notification) (ir.IRObject, error) {
	switch n.Type {
	case ledger.AdminInitialized:
		return ir.IRObject{"admin": ir.IRString(n.Admin)}, nil
	case ledger.RecordCreated:
		if n.Record == nil {
			return nil, errors.New("RecordCreated notification without record")
		}
		rec := n.Record
		parties := make(ir.IRObject, len(rec.Parties))
		for role, id := range rec.Parties {
			parties[role] = ir.IRString(id)
		}
		fields := rec.Fields.Clone()
		if fields == nil {
			fields = ir.IRObject{}
		}
		return ir.IRObject{
			"key":         ir.IRString(rec.Key),
			"seq":         ir.IRInt(rec.Seq),
			"parties":     parties,
			"fields":      fields,
			"timestamp":   ir.IRInt(rec.Timestamp),
			"recorded_at": ir.IRInt(rec.RecordedAt),
			"digest":      ir.IRString(rec.Digest),
		}, nil
	default:
		return nil, fmt.Errorf("unknown notification type %q", n.Type)
	}
}

// Sink receives events.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// Notifier adapts a set of sinks to ledger.Notifier. Delivery continues
// past a failing sink; all failures are returned joined.
type Notifier struct {
	sinks []Sink
}

// New returns a Notifier fanning out to sinks.
func New(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// Notify implements ledger.Notifier.
func (m *Notifier) Notify(ctx context.Context, n ledger.Notification) error {
	if len(m.sinks) == 0 {
		return nil
	}
	ev, err := NewEvent(n)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
