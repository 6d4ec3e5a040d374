// Package scheduler admits notifications into a capacity-bounded platform and
// holds the overflow in a queue ordered by fire date.
//
// Every exported method takes the same mutex, so platform and storage calls
// made on behalf of one operation never interleave with another.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"lnsched/internal/eventbus"
	"lnsched/internal/notification"
	"lnsched/internal/platform"
	"lnsched/internal/storage"
	logx "lnsched/pkg/logx"
)

type Scheduler struct {
	mu sync.Mutex

	capacity int
	pf       platform.Platform
	store    storage.Store
	log      logx.Logger
	bus      eventbus.Bus
	updater  Updater
	now      func() time.Time
	newID    func() string

	admitted map[string]notification.Notification
	// queue is kept sorted by notification.Compare.
	queue []notification.Notification
	// cancelled holds ids whose platform cancel failed. Reconcile retries
	// them and never adopts them.
	cancelled map[string]struct{}
}

// New builds a scheduler and restores the persisted queue. A restore failure
// is logged and leaves the queue empty. store and bus may be nil.
func New(ctx context.Context, cfg Config, pf platform.Platform, store storage.Store, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Scheduler, error) {
	if pf == nil {
		return nil, ErrNoPlatform
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	capacity := pf.Capacity()
	if capacity <= 0 {
		capacity = platform.DefaultCapacity
	}
	if cfg.Capacity > 0 && cfg.Capacity < capacity {
		capacity = cfg.Capacity
	}
	s := &Scheduler{
		capacity:  capacity,
		pf:        pf,
		store:     store,
		log:       log.With(logx.String("comp", "scheduler")),
		bus:       bus,
		now:       time.Now,
		newID:     defaultID,
		admitted:  map[string]notification.Notification{},
		cancelled: map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}

	if store != nil {
		if err := s.Restore(ctx); err != nil {
			s.log.Warn("queue restore failed; starting empty", logx.Err(err))
		}
	}
	return s, nil
}

func (s *Scheduler) Capacity() int { return s.capacity }

// Schedule assigns an id to n and admits it if a slot is free, otherwise
// queues it. A notification that already has an id is rejected.
func (s *Scheduler) Schedule(ctx context.Context, n notification.Notification) (id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.scheduleLocked(ctx, n)
	if !ok {
		return "", false
	}
	return p.ID(), true
}

// ScheduleMany schedules each notification in order. The result is
// positional; an empty string marks a rejection.
func (s *Scheduler) ScheduleMany(ctx context.Context, ns []notification.Notification) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(ns))
	for i, n := range ns {
		if p, ok := s.scheduleLocked(ctx, n); ok {
			out[i] = p.ID()
		}
	}
	return out
}

func (s *Scheduler) scheduleLocked(ctx context.Context, n notification.Notification) (notification.Notification, bool) {
	p, ok := s.prepareLocked(n)
	if !ok {
		return p, false
	}
	if len(s.admitted) < s.capacity {
		err := s.admitLocked(ctx, p)
		if err == nil {
			return s.admitted[p.ID()], true
		}
		s.log.Warn("platform admit failed; queueing", logx.String("id", p.ID()), logx.Err(err))
	}
	s.enqueueLocked(p)
	return p, true
}

// prepareLocked assigns a fresh id and runs the update hook.
func (s *Scheduler) prepareLocked(n notification.Notification) (notification.Notification, bool) {
	if n.ID() != "" {
		s.log.Debug("schedule rejected: already scheduled", logx.String("id", n.ID()))
		return n, false
	}
	id, ok := s.nextIDLocked()
	if !ok {
		s.log.Warn("schedule rejected", logx.Err(ErrNoID), logx.Int("attempts", maxIDAttempts))
		return n, false
	}
	p, overdue, err := n.Prepare(id, s.now())
	if err != nil {
		s.log.Warn("schedule rejected", logx.Err(err))
		return n, false
	}
	if overdue {
		s.publish(eventbus.NotificationOverdue, p)
	}
	if s.updater != nil {
		u := s.updater.Update(p)
		if u.ID() != p.ID() {
			s.log.Warn("update hook replaced the notification identity; result ignored", logx.String("id", p.ID()))
		} else {
			if !u.SameTiming(p) {
				s.log.Warn("update hook changed timing fields", logx.String("id", p.ID()),
					logx.Time("fire_date", p.FireDate), logx.Time("updated_fire_date", u.FireDate))
			}
			p = u.WithSynchronized(false)
		}
	}
	return p, true
}

func (s *Scheduler) nextIDLocked() (string, bool) {
	for range maxIDAttempts {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, ok := s.admitted[id]; ok {
			continue
		}
		if _, ok := s.cancelled[id]; ok {
			continue
		}
		if s.queueIndexLocked(id) >= 0 {
			continue
		}
		return id, true
	}
	return "", false
}

// admitLocked hands p to the platform. The caller checks capacity.
func (s *Scheduler) admitLocked(ctx context.Context, p notification.Notification) error {
	p = p.WithSynchronized(true)
	if err := s.pf.Admit(ctx, p); err != nil {
		return err
	}
	s.admitted[p.ID()] = p
	s.publish(eventbus.NotificationAdmitted, p)
	return nil
}

func (s *Scheduler) enqueueLocked(p notification.Notification) {
	p = p.WithSynchronized(false)
	i := sort.Search(len(s.queue), func(i int) bool {
		return notification.Compare(s.queue[i], p) > 0
	})
	s.queue = append(s.queue, notification.Notification{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = p
	s.publish(eventbus.NotificationQueued, p)
}

func (s *Scheduler) queueIndexLocked(id string) int {
	for i := range s.queue {
		if s.queue[i].ID() == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) removeQueuedLocked(i int) notification.Notification {
	n := s.queue[i]
	copy(s.queue[i:], s.queue[i+1:])
	s.queue[len(s.queue)-1] = notification.Notification{}
	s.queue = s.queue[:len(s.queue)-1]
	return n
}

func (s *Scheduler) publish(typ string, n notification.Notification) {
	eventbus.Publish(s.bus, typ, eventbus.NotificationEvent{ID: n.ID(), Series: n.Series(), FireDate: n.FireDate})
}
