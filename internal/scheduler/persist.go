package scheduler

import (
	"context"
	"fmt"

	"lnsched/internal/storage"
	logx "lnsched/pkg/logx"
)

// SaveQueue writes the queue to the store's queue bucket. The admitted set is
// not saved; Reconcile rebuilds it from the platform.
func (s *Scheduler) SaveQueue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return storage.ErrDisabled
	}
	if err := s.store.Save(ctx, storage.BucketQueue, s.queue); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	s.log.Debug("queue saved", logx.Int("queued", len(s.queue)))
	return nil
}

// Restore replaces the queue with the stored one. Stored entries that are
// currently admitted, duplicated, or lack an id are skipped.
func (s *Scheduler) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return storage.ErrDisabled
	}
	saved, err := s.store.Load(ctx, storage.BucketQueue)
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}

	s.queue = s.queue[:0]
	seen := make(map[string]struct{}, len(saved))
	skipped := 0
	for _, n := range saved {
		id := n.ID()
		if id == "" {
			skipped++
			continue
		}
		if _, ok := s.admitted[id]; ok {
			skipped++
			continue
		}
		if _, ok := seen[id]; ok {
			skipped++
			continue
		}
		seen[id] = struct{}{}
		s.enqueueLocked(n)
	}
	s.log.Info("queue restored", logx.Int("queued", len(s.queue)), logx.Int("skipped", skipped))
	return nil
}
