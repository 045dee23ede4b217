// Package budget persists token budget counters so that daily and monthly
// spend survives restarts and is shared between concurrent docbench runs.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/docbench/internal/db"
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrByExpire(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}

// Store keeps one counter per provider and period window.
// Keys look like docbench:budget:{provider}:daily:2026-10-15 or
// docbench:budget:{provider}:monthly:2026-10.
type Store struct {
	kv        store
	retention map[string]time.Duration
}

// New creates a budget store. Daily windows are kept for dailyTTL after the
// first write, monthly windows for monthTTL.
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{
		kv: s,
		retention: map[string]time.Duration{
			"daily":   dailyTTL,
			"monthly": monthTTL,
		},
	}
}

// IncrBy adds val tokens to the window counter. The expiry is only set when
// the counter is created.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	ttl, err := s.retentionFor(key)
	if err != nil {
		return err
	}
	if _, err := s.kv.IncrByExpire(ctx, key, val, ttl); err != nil {
		return fmt.Errorf("add %d tokens to %s: %w", val, key, err)
	}
	return nil
}

// Get returns the tokens spent in the window, 0 when nothing was recorded yet.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	raw, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read budget %s: %w", key, err)
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget %s holds %q: %w", key, raw, err)
	}
	return n, nil
}

func (s *Store) retentionFor(key string) (time.Duration, error) {
	for period, ttl := range s.retention {
		if strings.Contains(key, ":"+period+":") {
			return ttl, nil
		}
	}
	return 0, fmt.Errorf("budget key %s has no daily or monthly window", key)
}
