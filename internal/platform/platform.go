// Package platform defines the delivery platform the scheduler admits
// notifications into.
//
// A platform holds at most Capacity pending notifications. Once a pending
// notification fires it disappears from ListPending; that disappearance is the
// only firing signal the scheduler relies on.
package platform

import (
	"context"
	"errors"

	"lnsched/internal/notification"
)

// DefaultCapacity is the pending limit of the reference platform.
const DefaultCapacity = 64

var (
	ErrCapacity = errors.New("platform pending set full")
	ErrStopped  = errors.New("platform stopped")
	ErrNotFound = errors.New("platform entry not found")
)

type Platform interface {
	Capacity() int
	// Admit registers n (which carries its id) as pending.
	Admit(ctx context.Context, n notification.Notification) error
	// Cancel removes a pending entry. Unknown ids are not an error.
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
	// ListPending returns a snapshot of pending entries, ids included.
	ListPending(ctx context.Context) ([]notification.Notification, error)
}
