package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lnsched/internal/notification"
	logx "lnsched/pkg/logx"
)

// redisStore keeps each bucket as a list of JSON records under
// <prefix>:<bucket>. Save swaps the list inside MULTI/EXEC.
type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	prefix := strings.TrimSpace(cfg.Redis.KeyPrefix)
	if prefix == "" {
		prefix = "lnsched"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &redisStore{rdb: rdb, prefix: prefix, log: log}, nil
}

func (s *redisStore) key(bucket string) string {
	return s.prefix + ":" + bucket
}

func (s *redisStore) Save(ctx context.Context, bucket string, ns []notification.Notification) error {
	if err := validBucket(bucket); err != nil {
		return err
	}
	vals := make([]any, 0, len(ns))
	for _, n := range ns {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	key := s.key(bucket)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(vals) > 0 {
			p.RPush(ctx, key, vals...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Load(ctx context.Context, bucket string) ([]notification.Notification, error) {
	if err := validBucket(bucket); err != nil {
		return nil, err
	}
	key := s.key(bucket)
	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", key, err)
	}
	out := make([]notification.Notification, 0, len(raw))
	for _, r := range raw {
		var n notification.Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			s.log.Warn("skipping undecodable entry", logx.String("key", key), logx.Err(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
