package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/docbench/internal/domain"
)

var startedAt = time.UnixMilli(1760000000000).UTC()

// --- Start ---

func TestStart_HappyPath(t *testing.T) {
	repo, ms := newTestRepo(t, 24*time.Hour)

	var written map[string]string
	ms.hsetExpireFn = func(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
		if key != "docbench:run:abc" {
			t.Errorf("unexpected key: %s", key)
		}
		if ttl != 24*time.Hour {
			t.Errorf("unexpected ttl: %v", ttl)
		}
		written = fields
		return nil
	}
	ms.hsetFn = func(_ context.Context, _ string, _ map[string]string) error {
		t.Error("Start must write fields and ttl together")
		return nil
	}

	err := repo.Start(context.Background(), domain.Run{
		ID: "abc", Stage: domain.StageGenerate, Status: domain.RunRunning, StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written["stage"] != "generate" || written["status"] != "running" || written["started_at"] != "1760000000000" {
		t.Errorf("unexpected fields: %v", written)
	}
}

func TestStart_NoTTL(t *testing.T) {
	repo, ms := newTestRepo(t, 0)
	var got time.Duration = -1
	ms.hsetExpireFn = func(_ context.Context, _ string, _ map[string]string, ttl time.Duration) error {
		got = ttl
		return nil
	}
	if err := repo.Start(context.Background(), domain.Run{ID: "x", StartedAt: startedAt}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("expected zero ttl passed through, got %v", got)
	}
}

func TestStart_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t, time.Hour)
	ms.hsetExpireFn = func(_ context.Context, _ string, _ map[string]string, _ time.Duration) error {
		return errors.New("connection lost")
	}
	if err := repo.Start(context.Background(), domain.Run{ID: "x"}); err == nil {
		t.Fatal("expected error on store failure")
	}
}

// --- Incr / Finish ---

func TestIncr_PrefixesCounterField(t *testing.T) {
	repo, ms := newTestRepo(t, 0)
	ms.hincrByFn = func(_ context.Context, key, field string, val int64) (int64, error) {
		if key != "docbench:run:abc" || field != "c:pages_ok" || val != 5 {
			t.Errorf("unexpected HINCRBY %s %s %d", key, field, val)
		}
		return 12, nil
	}

	n, err := repo.Incr(context.Background(), "abc", domain.CounterPagesOK, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 12 {
		t.Errorf("expected 12, got %d", n)
	}
}

func TestFinish_WritesStatus(t *testing.T) {
	repo, ms := newTestRepo(t, 0)
	var fields map[string]string
	ms.hsetFn = func(_ context.Context, _ string, f map[string]string) error {
		fields = f
		return nil
	}

	if err := repo.Finish(context.Background(), "abc", domain.RunCompleted, startedAt.Add(time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields["status"] != "completed" || fields["finished_at"] != "1760000001000" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

// --- Get ---

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t, 0)
	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_ParsesCounters(t *testing.T) {
	repo, ms := newTestRepo(t, 0)
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return map[string]string{
			"id":                "abc",
			"stage":             "evaluate",
			"status":            "completed",
			"started_at":        "1760000000000",
			"finished_at":       "1760000060000",
			"c:queries_ok":      "40",
			"c:queries_skipped": "2",
		}, nil
	}

	run, err := repo.Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Stage != domain.StageEvaluate || run.Status != domain.RunCompleted {
		t.Errorf("unexpected run: %+v", run)
	}
	if !run.StartedAt.Equal(startedAt) {
		t.Errorf("started_at = %v", run.StartedAt)
	}
	if run.FinishedAt == nil || run.FinishedAt.Sub(run.StartedAt) != time.Minute {
		t.Errorf("finished_at = %v", run.FinishedAt)
	}
	if run.Counters["queries_ok"] != 40 || run.Counters["queries_skipped"] != 2 {
		t.Errorf("counters = %v", run.Counters)
	}
}

func TestGet_CorruptCounter(t *testing.T) {
	repo, ms := newTestRepo(t, 0)
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return map[string]string{"id": "abc", "started_at": "1", "c:pages_ok": "many"}, nil
	}
	if _, err := repo.Get(context.Background(), "abc"); err == nil {
		t.Fatal("expected parse error")
	}
}

// --- List ---

func TestList_SortedNewestFirst(t *testing.T) {
	repo, ms := newTestRepo(t, 0)
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "docbench:run:*" {
			t.Errorf("unexpected pattern: %s", pattern)
		}
		return []string{"docbench:run:old", "docbench:run:gone", "docbench:run:new"}, nil
	}
	ms.hgetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		return []map[string]string{
			{"id": "old", "started_at": "1000"},
			{},
			{"id": "new", "started_at": "2000"},
		}, nil
	}

	runs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "old" {
		t.Errorf("unexpected order: %+v", runs)
	}
}

func TestList_Empty(t *testing.T) {
	repo, _ := newTestRepo(t, 0)
	runs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", runs)
	}
}
