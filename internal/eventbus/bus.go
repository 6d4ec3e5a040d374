package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler and platforms.
const (
	NotificationAdmitted    = "notification.admitted"
	NotificationQueued      = "notification.queued"
	NotificationFired       = "notification.fired"
	NotificationRegenerated = "notification.regenerated"
	NotificationCancelled   = "notification.cancelled"
	NotificationOverdue     = "notification.overdue"
	SchedulerReconciled     = "scheduler.reconciled"

	PlatformFired     = "platform.fired"
	PlatformDelivered = "platform.delivered"
	PlatformFailed    = "platform.failed"

	ConfigReloaded = "config.reloaded"
)

// Event is an in-process signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// NotificationEvent is the Data of notification.* and platform.* events.
type NotificationEvent struct {
	ID       string    `json:"id"`
	Series   string    `json:"series,omitempty"`
	FireDate time.Time `json:"fire_date"`
	Error    string    `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It starts no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish sends.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}
