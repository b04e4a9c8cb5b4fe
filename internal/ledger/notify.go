package ledger

import "context"

// NotificationType names a post-commit notification.
type NotificationType string

const (
	AdminInitialized NotificationType = "AdminInitialized"
	RecordCreated    NotificationType = "RecordCreated"
)

// Notification describes a committed state change. Record is set for
// RecordCreated, Admin for AdminInitialized.
type Notification struct {
	Type   NotificationType
	Ledger string
	Time   int64
	Admin  Identity
	Record *Record
}

// Notifier receives notifications after commit. Its errors never undo the
// write; the ledger logs them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Notification) error { return nil }
