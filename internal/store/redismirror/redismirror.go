// Package redismirror wraps an optional Redis-backed mirror of the
// content-addressed summary cache, so a fleet of resolver processes can
// share warm entries instead of each paying its own disk/upstream cost.
package redismirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weatherlake/summary-core/internal/core/observability"
)

// Mirror is a thin, metrics-instrumented wrapper over a redis.Client.
type Mirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// New dials addr and pings it once to fail fast on misconfiguration. ttl
// bounds how long mirrored entries survive in Redis; zero means no
// expiry (the local disk cache remains authoritative either way).
func New(ctx context.Context, addr string, ttl time.Duration) (*Mirror, error) {
	if addr == "" {
		return nil, errors.New("redismirror: address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observeOp("ping", err, time.Since(start))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redismirror: ping: %w", err)
	}
	return &Mirror{rdb: rdb, ttl: ttl}, nil
}

func observeOp(op string, err error, d time.Duration) {
	if !observability.Enabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveUpstreamAttempt("redis:"+op, outcome)
	observability.ObserveUpstreamLatency("redis:"+op, d.Seconds())
}

// Get returns the raw bytes stored for hash, and whether it was present.
func (m *Mirror) Get(ctx context.Context, hash string) ([]byte, bool) {
	start := time.Now()
	v, err := m.rdb.Get(ctx, hash).Bytes()
	observeOp("get", ignoreNil(err), time.Since(start))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observability.AddCacheMiss("summary_redis")
		}
		return nil, false
	}
	observability.AddCacheHit("summary_redis")
	return v, true
}

// Set stores raw bytes for hash, applying the mirror's configured TTL.
func (m *Mirror) Set(ctx context.Context, hash string, val []byte) error {
	start := time.Now()
	err := m.rdb.Set(ctx, hash, val, m.ttl).Err()
	observeOp("set", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("redismirror: SET %q: %w", hash, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *Mirror) Close() error {
	if err := m.rdb.Close(); err != nil {
		return fmt.Errorf("redismirror: close: %w", err)
	}
	return nil
}

func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
