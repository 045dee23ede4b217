// Package run persists stage progress records as hashes so that several
// docbench processes (or a dashboard) can follow a long generation.
package run

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// store is the consumer interface for run records (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HIncrBy(ctx context.Context, key, field string, val int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HSetExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

const (
	fieldID       = "id"
	fieldStage    = "stage"
	fieldStatus   = "status"
	fieldStarted  = "started_at"
	fieldFinished = "finished_at"

	// counterPrefix marks hash fields holding progress counters.
	counterPrefix = "c:"
)

// Repo stores runs under docbench:run:{id}.
type Repo struct {
	store store
	ttl   time.Duration
}

// New creates a run repository. Records expire ttl after the run starts; 0 keeps them.
func New(s store, ttl time.Duration) *Repo {
	return &Repo{store: s, ttl: ttl}
}

// Start writes the initial record.
func (r *Repo) Start(ctx context.Context, run domain.Run) error {
	key := runKey(run.ID)
	fields := map[string]string{
		fieldID:      run.ID,
		fieldStage:   string(run.Stage),
		fieldStatus:  string(run.Status),
		fieldStarted: strconv.FormatInt(run.StartedAt.UnixMilli(), 10),
	}
	if err := r.store.HSetExpire(ctx, key, fields, r.ttl); err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

// Incr bumps a counter and returns its new value.
func (r *Repo) Incr(ctx context.Context, id, counter string, n int64) (int64, error) {
	v, err := r.store.HIncrBy(ctx, runKey(id), counterPrefix+counter, n)
	if err != nil {
		return 0, fmt.Errorf("hincrby run %s %s: %w", id, counter, err)
	}
	return v, nil
}

// Finish records the final status.
func (r *Repo) Finish(ctx context.Context, id string, status domain.RunStatus, at time.Time) error {
	fields := map[string]string{
		fieldStatus:   string(status),
		fieldFinished: strconv.FormatInt(at.UnixMilli(), 10),
	}
	if err := r.store.HSet(ctx, runKey(id), fields); err != nil {
		return fmt.Errorf("hset run %s: %w", id, err)
	}
	return nil
}

// Get loads one run.
func (r *Repo) Get(ctx context.Context, id string) (domain.Run, error) {
	m, err := r.store.HGetAll(ctx, runKey(id))
	if err != nil {
		return domain.Run{}, fmt.Errorf("hgetall run %s: %w", id, err)
	}
	if len(m) == 0 {
		return domain.Run{}, domain.ErrNotFound
	}
	return runFromHash(m)
}

// List returns every stored run, newest first.
func (r *Repo) List(ctx context.Context) ([]domain.Run, error) {
	keys, err := r.store.Scan(ctx, runKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	if len(keys) == 0 {
		return []domain.Run{}, nil
	}

	results, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi runs: %w", err)
	}

	runs := make([]domain.Run, 0, len(results))
	for i, m := range results {
		if len(m) == 0 {
			continue
		}
		run, err := runFromHash(m)
		if err != nil {
			return nil, fmt.Errorf("parse run %s: %w", keys[i], err)
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

func runKey(id string) string {
	return fmt.Sprintf("%srun:%s", domain.KeyPrefix, id)
}

func runFromHash(m map[string]string) (domain.Run, error) {
	started, err := strconv.ParseInt(m[fieldStarted], 10, 64)
	if err != nil {
		return domain.Run{}, fmt.Errorf("invalid started_at: %w", err)
	}
	run := domain.Run{
		ID:        m[fieldID],
		Stage:     domain.Stage(m[fieldStage]),
		Status:    domain.RunStatus(m[fieldStatus]),
		StartedAt: time.UnixMilli(started).UTC(),
		Counters:  map[string]int64{},
	}
	if v, ok := m[fieldFinished]; ok && v != "" {
		finished, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Run{}, fmt.Errorf("invalid finished_at: %w", err)
		}
		t := time.UnixMilli(finished).UTC()
		run.FinishedAt = &t
	}
	for k, v := range m {
		name, ok := strings.CutPrefix(k, counterPrefix)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Run{}, fmt.Errorf("invalid counter %s: %w", name, err)
		}
		run.Counters[name] = n
	}
	return run, nil
}
