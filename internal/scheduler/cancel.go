package scheduler

import (
	"context"
	"errors"
	"fmt"

	"lnsched/internal/eventbus"
	"lnsched/internal/notification"
)

// Cancel cancels the tracked notification with n's id.
func (s *Scheduler) Cancel(ctx context.Context, n notification.Notification) (bool, error) {
	return s.CancelByID(ctx, n.ID())
}

// CancelByID stops tracking id. Unknown ids return false and no error. The
// notification is untracked even when the platform cancel fails; that error is
// returned and the cancel is retried by later reconciles.
func (s *Scheduler) CancelByID(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, id)
}

func (s *Scheduler) cancelLocked(ctx context.Context, id string) (bool, error) {
	if n, ok := s.admitted[id]; ok {
		delete(s.admitted, id)
		s.publish(eventbus.NotificationCancelled, n)
		if err := s.pf.Cancel(ctx, id); err != nil {
			s.cancelled[id] = struct{}{}
			return true, fmt.Errorf("platform cancel %s: %w", id, err)
		}
		return true, nil
	}
	if i := s.queueIndexLocked(id); i >= 0 {
		n := s.removeQueuedLocked(i)
		s.publish(eventbus.NotificationCancelled, n)
		return true, nil
	}
	return false, nil
}

// CancelSeries cancels every tracked occurrence of a repeating series and
// returns how many were removed.
func (s *Scheduler) CancelSeries(ctx context.Context, series string) (int, error) {
	if series == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, n := range s.admitted {
		if n.Series() == series {
			ids = append(ids, id)
		}
	}
	for _, n := range s.queue {
		if n.Series() == series {
			ids = append(ids, n.ID())
		}
	}
	var errs []error
	count := 0
	for _, id := range ids {
		ok, err := s.cancelLocked(ctx, id)
		if ok {
			count++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return count, errors.Join(errs...)
}

// CancelAll clears the platform and both collections. The collections are
// cleared even if the platform call fails.
func (s *Scheduler) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.admitted {
		s.publish(eventbus.NotificationCancelled, n)
	}
	for _, n := range s.queue {
		s.publish(eventbus.NotificationCancelled, n)
	}
	admitted := s.admitted
	s.admitted = map[string]notification.Notification{}
	s.queue = nil
	if err := s.pf.CancelAll(ctx); err != nil {
		for id := range admitted {
			s.cancelled[id] = struct{}{}
		}
		return fmt.Errorf("platform cancel all: %w", err)
	}
	clear(s.cancelled)
	return nil
}
