// Package redisad is the account lookup cache. Values are JSON under a
// per-deployment key prefix.
package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"review_hub/internal/adapters/observability"
)

// opTimeout bounds each cache call so a slow Redis degrades to a DB read.
const opTimeout = 250 * time.Millisecond

type Cache struct {
	c      *redis.Client
	prefix string
}

func New(addr, pass string, db int, prefix string) *Cache {
	return &Cache{
		c:      redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}),
		prefix: prefix,
	}
}

func (r *Cache) key(k string) string { return r.prefix + k }

// Ping reports whether Redis answers; callers run without a cache if not.
func (r *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

func (r *Cache) Close() error { return r.c.Close() }

func (r *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	v, err := r.c.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	if err != nil {
		observability.ObserveCache("redis", "error")
		return false, err
	}
	if err := json.Unmarshal(v, dst); err != nil {
		observability.ObserveCache("redis", "error")
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	observability.ObserveCache("redis", "hit")
	return true, nil
}

func (r *Cache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	observability.ObserveCache("redis", "set")
	return r.c.Set(ctx, r.key(key), b, time.Duration(ttlSec)*time.Second).Err()
}

func (r *Cache) Del(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	observability.ObserveCache("redis", "del")
	return r.c.Del(ctx, r.key(key)).Err()
}
