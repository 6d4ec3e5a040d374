package storage

import (
	"context"
	"encoding/json"
	"sync"

	"lnsched/internal/notification"
)

// memoryStore keeps encoded snapshots so callers never share state with it.
type memoryStore struct {
	mu      sync.Mutex
	buckets map[string][]byte
	closed  bool
}

func NewMemory() Store {
	return &memoryStore{buckets: map[string][]byte{}}
}

func (s *memoryStore) Save(_ context.Context, bucket string, ns []notification.Notification) error {
	if err := validBucket(bucket); err != nil {
		return err
	}
	b, err := json.Marshal(ns)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.buckets[bucket] = b
	return nil
}

func (s *memoryStore) Load(_ context.Context, bucket string) ([]notification.Notification, error) {
	if err := validBucket(bucket); err != nil {
		return nil, err
	}
	s.mu.Lock()
	b, closed := s.buckets[bucket], s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if len(b) == 0 {
		return nil, nil
	}
	var out []notification.Notification
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
