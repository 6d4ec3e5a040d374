package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lnsched/internal/notification"
	logx "lnsched/pkg/logx"
)

// fileStore writes one snapshot per bucket:
//
//	<prefix>.<bucket>.json
//
// Each Save writes a temp file and renames it over the snapshot, so a crash
// leaves either the old or the new contents.
type fileStore struct {
	log    logx.Logger
	prefix string

	mu     sync.Mutex
	closed bool
}

const fileSnapshotVersion = 1

type fileSnapshot struct {
	Version int                         `json:"version"`
	SavedAt time.Time                   `json:"saved_at"`
	Items   []notification.Notification `json:"items"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, prefix: filepath.Join(dir, base)}, nil
}

func (s *fileStore) pathFor(bucket string) string {
	return s.prefix + "." + bucket + ".json"
}

func (s *fileStore) Save(ctx context.Context, bucket string, ns []notification.Notification) error {
	if err := validBucket(bucket); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	path := s.pathFor(bucket)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	snap := fileSnapshot{Version: fileSnapshotVersion, SavedAt: time.Now().UTC(), Items: ns}
	if snap.Items == nil {
		snap.Items = []notification.Notification{}
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.log.Trace("bucket saved", logx.String("bucket", bucket), logx.Int("items", len(ns)))
	return nil
}

func (s *fileStore) Load(ctx context.Context, bucket string) ([]notification.Notification, error) {
	if err := validBucket(bucket); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	f, err := os.Open(s.pathFor(bucket))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", bucket, err)
	}
	if snap.Version > fileSnapshotVersion {
		return nil, fmt.Errorf("bucket %s: unsupported snapshot version %d", bucket, snap.Version)
	}
	return snap.Items, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
