package run

import (
	"context"
	"testing"
	"time"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetFn         func(ctx context.Context, key string, fields map[string]string) error
	hincrByFn      func(ctx context.Context, key, field string, val int64) (int64, error)
	hgetAllFn      func(ctx context.Context, key string) (map[string]string, error)
	hgetAllMultiFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	scanFn         func(ctx context.Context, pattern string) ([]string, error)
	hsetExpireFn   func(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HIncrBy(ctx context.Context, key, field string, val int64) (int64, error) {
	if m.hincrByFn != nil {
		return m.hincrByFn(ctx, key, field, val)
	}
	return val, nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hgetAllMultiFn != nil {
		return m.hgetAllMultiFn(ctx, keys)
	}
	return nil, nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) HSetExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if m.hsetExpireFn != nil {
		return m.hsetExpireFn(ctx, key, fields, ttl)
	}
	return nil
}

func newTestRepo(t *testing.T, ttl time.Duration) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, ttl), ms
}
