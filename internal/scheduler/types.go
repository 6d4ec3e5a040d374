package scheduler

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"lnsched/internal/notification"
)

var (
	ErrNoPlatform = errors.New("scheduler requires a platform")
	ErrNoID       = errors.New("id generator produced no unused id")
)

const maxIDAttempts = 16

// Config holds the scheduler's own limits. The effective capacity is the
// smaller of Capacity and the platform's capacity; Capacity <= 0 means the
// platform's.
type Config struct {
	Capacity int
}

// Updater customizes a notification once, just before it is admitted or
// queued. It must not change FireDate, TimeZone, RepeatCalendar, RepeatUnit or
// RepeatValue; such changes are logged and kept as returned.
type Updater interface {
	Update(n notification.Notification) notification.Notification
}

type UpdaterFunc func(n notification.Notification) notification.Notification

func (f UpdaterFunc) Update(n notification.Notification) notification.Notification { return f(n) }

// Report summarizes one reconciliation pass.
type Report struct {
	Fired       int `json:"fired"`
	Regenerated int `json:"regenerated"`
	Adopted     int `json:"adopted"`
	Admitted    int `json:"admitted"`

	AdmittedCount int `json:"admitted_count"`
	QueuedCount   int `json:"queued_count"`
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the default random UUID ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Scheduler) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func WithUpdater(u Updater) Option {
	return func(s *Scheduler) { s.updater = u }
}

func defaultID() string { return uuid.NewString() }
