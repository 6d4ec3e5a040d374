package storage

import (
	"context"
	"errors"
	"time"

	"lnsched/internal/notification"
)

// Buckets used by the daemon.
const (
	BucketQueue    = "queue"
	BucketPlatform = "platform"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
	ErrBucket   = errors.New("invalid bucket name")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, for tests and ephemeral runs
//   - "file": one JSON snapshot per bucket next to Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis server at Redis.Addr
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type Store interface {
	// Save replaces the bucket's contents with ns, preserving order.
	Save(ctx context.Context, bucket string, ns []notification.Notification) error
	// Load returns the bucket's contents in saved order.
	Load(ctx context.Context, bucket string) ([]notification.Notification, error)
	Close() error
}

func validBucket(b string) error {
	if b == "" {
		return ErrBucket
	}
	for _, r := range b {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return ErrBucket
		}
	}
	return nil
}
