// Package db defines the key-value facade docbench persists to. Every user is
// optional: without a configured store the pipeline keeps state in memory.
package db

import (
	"context"
	"time"
)

// Store combines the key shapes docbench writes.
type Store interface {
	Pinger
	BlobStore
	CounterStore
	HashStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BlobStore holds opaque values such as cached embeddings.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetWithTTL stores value; ttl 0 keeps it without expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CounterStore holds windowed counters such as token budgets.
type CounterStore interface {
	// IncrByExpire adds val and sets ttl only if the key has no expiry yet.
	IncrByExpire(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}

// HashStore holds run progress records.
type HashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HSetExpire is HSet followed by EXPIRE NX in the same round-trip; ttl 0 skips the expiry.
	HSetExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HIncrBy(ctx context.Context, key, field string, val int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}
