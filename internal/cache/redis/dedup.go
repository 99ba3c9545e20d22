// Package redis implements alert deduplication on go-redis/v9. Keys survive
// restarts, so an alert suppressed before a crash stays suppressed after
// recovery.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidewatch/futuresmon/internal/domain"
)

const defaultKeyPrefix = "futuresmon:dedup"

// Config holds connection parameters for the dedup store.
type Config struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the dedup keys. Defaults to "futuresmon:dedup".
	KeyPrefix string
}

// DedupStore implements domain.DedupStore with SET NX plus a TTL.
type DedupStore struct {
	rdb       *redis.Client
	keyPrefix string
}

// NewDedupStore dials Redis, verifies connectivity with a ping, and returns
// the store.
func NewDedupStore(ctx context.Context, cfg Config) (*DedupStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &DedupStore{rdb: rdb, keyPrefix: prefix}, nil
}

// FirstSeen records the key and reports whether it was absent. A zero window
// stores the key without expiry.
func (d *DedupStore) FirstSeen(ctx context.Context, key string, window time.Duration) (bool, error) {
	fullKey := d.keyPrefix + ":" + key

	ok, err := d.rdb.SetNX(ctx, fullKey, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", key, err)
	}
	return ok, nil
}

// Close releases the connection pool.
func (d *DedupStore) Close() error {
	return d.rdb.Close()
}

// Compile-time interface check.
var _ domain.DedupStore = (*DedupStore)(nil)
