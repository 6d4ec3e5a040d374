package scheduler

import (
	"context"
	"fmt"
	"sort"

	"lnsched/internal/eventbus"
	"lnsched/internal/notification"
	logx "lnsched/pkg/logx"
)

// Reconcile cross-checks the platform's pending set against the admitted set.
//
// Admitted notifications missing from the platform have fired: they are
// dropped, and repeating ones are followed by their next occurrence in the
// queue. Platform entries the scheduler does not track (left by an earlier
// process) are adopted. Free slots are then refilled from the queue head.
//
// A ListPending failure aborts the pass without touching any state.
func (s *Scheduler) Reconcile(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listed, err := s.pf.ListPending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list pending: %w", err)
	}
	var rep Report
	now := s.now()

	sort.Slice(listed, func(i, j int) bool { return notification.Compare(listed[i], listed[j]) < 0 })
	present := make(map[string]notification.Notification, len(listed))
	for _, n := range listed {
		if n.ID() != "" {
			present[n.ID()] = n
		}
	}

	// Retry cancels that failed earlier. Gone entries need nothing more.
	for id := range s.cancelled {
		if _, ok := present[id]; !ok {
			delete(s.cancelled, id)
			continue
		}
		if err := s.pf.Cancel(ctx, id); err != nil {
			s.log.Warn("platform cancel retry failed", logx.String("id", id), logx.Err(err))
			continue
		}
		delete(s.cancelled, id)
		delete(present, id)
	}

	// Fired. Sorted so successors are generated in a stable order.
	var fired []notification.Notification
	for id, n := range s.admitted {
		if _, ok := present[id]; !ok {
			fired = append(fired, n)
		}
	}
	sort.Slice(fired, func(i, j int) bool { return notification.Compare(fired[i], fired[j]) < 0 })
	for _, n := range fired {
		delete(s.admitted, n.ID())
		rep.Fired++
		s.publish(eventbus.NotificationFired, n)

		next, ok := n.NextOccurrence(now)
		if !ok {
			continue
		}
		p, ok := s.prepareLocked(next)
		if !ok {
			continue
		}
		s.enqueueLocked(p)
		rep.Regenerated++
		s.publish(eventbus.NotificationRegenerated, p)
		s.log.Debug("occurrence regenerated", logx.String("series", p.Series()), logx.String("id", p.ID()), logx.Time("fire_date", p.FireDate))
	}

	// Adopt untracked platform entries, earliest first.
	for _, n := range listed {
		id := n.ID()
		if _, ok := present[id]; !ok || id == "" {
			continue
		}
		if _, ok := s.cancelled[id]; ok {
			continue
		}
		if _, ok := s.admitted[id]; ok {
			continue
		}
		if i := s.queueIndexLocked(id); i >= 0 {
			s.removeQueuedLocked(i)
		}
		if len(s.admitted) >= s.capacity {
			// The platform holds more than this scheduler may; give the slot back.
			if err := s.pf.Cancel(ctx, id); err != nil {
				s.log.Warn("surplus platform entry cancel failed", logx.String("id", id), logx.Err(err))
				continue
			}
			s.enqueueLocked(n)
			continue
		}
		s.admitted[id] = n.WithSynchronized(true)
		rep.Adopted++
	}

	// Refill.
	for len(s.admitted) < s.capacity && len(s.queue) > 0 {
		head := s.removeQueuedLocked(0)
		if err := s.admitLocked(ctx, head); err != nil {
			s.log.Warn("refill stopped: platform admit failed", logx.String("id", head.ID()), logx.Err(err))
			s.enqueueLocked(head)
			break
		}
		rep.Admitted++
	}

	rep.AdmittedCount = len(s.admitted)
	rep.QueuedCount = len(s.queue)
	eventbus.Publish(s.bus, eventbus.SchedulerReconciled, rep)
	if rep.Fired > 0 || rep.Adopted > 0 || rep.Admitted > 0 {
		s.log.Info("reconciled",
			logx.Int("fired", rep.Fired),
			logx.Int("regenerated", rep.Regenerated),
			logx.Int("adopted", rep.Adopted),
			logx.Int("admitted", rep.Admitted),
			logx.Int("admitted_count", rep.AdmittedCount),
			logx.Int("queued_count", rep.QueuedCount),
		)
	}
	return rep, nil
}
