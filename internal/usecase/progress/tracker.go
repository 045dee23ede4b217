// Package progress counts what a stage has done so far and mirrors it to the
// run store and the ops endpoint.
package progress

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// recordTimeout bounds a single write to the run store.
const recordTimeout = 2 * time.Second

// Tracker holds the counters of one stage run. A nil *Tracker is a no-op.
type Tracker struct {
	mu       sync.Mutex
	run      domain.Run
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Add bumps counter by n.
func (t *Tracker) Add(ctx context.Context, counter string, n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.run.Counters[counter] += n
	id := t.run.ID
	t.mu.Unlock()

	if t.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := t.recorder.Incr(rctx, id, counter, n); err != nil {
		t.logger.Warn("Failed to record progress", zap.String("counter", counter), zap.Error(err))
	}
}

// Inc bumps counter by one.
func (t *Tracker) Inc(ctx context.Context, counter string) { t.Add(ctx, counter, 1) }

// Finish closes the run. Status follows err: nil completes, a cancelled
// context interrupts, anything else fails.
func (t *Tracker) Finish(ctx context.Context, err error) {
	if t == nil {
		return
	}
	status := statusOf(err)
	at := t.now().UTC()

	t.mu.Lock()
	t.run.Status = status
	t.run.FinishedAt = &at
	id := t.run.ID
	t.mu.Unlock()

	if t.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if rerr := t.recorder.Finish(rctx, id, status, at); rerr != nil {
		t.logger.Warn("Failed to record run finish", zap.Error(rerr))
	}
}

// Snapshot returns a copy of the run as it stands.
func (t *Tracker) Snapshot() domain.Run {
	if t == nil {
		return domain.Run{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	run := t.run
	run.Counters = maps.Clone(t.run.Counters)
	return run
}

// Count returns the current value of counter.
func (t *Tracker) Count(counter string) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run.Counters[counter]
}

func statusOf(err error) domain.RunStatus {
	switch {
	case err == nil:
		return domain.RunCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.RunInterrupted
	default:
		return domain.RunFailed
	}
}

// Board owns the trackers of one CLI invocation. Stage runs share its run ID.
type Board struct {
	mu       sync.Mutex
	runID    string
	recorder Recorder
	logger   *zap.Logger
	trackers []*Tracker
	now      func() time.Time
}

// NewBoard creates a board. recorder may be nil (in-memory only).
func NewBoard(runID string, recorder Recorder, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{runID: runID, recorder: recorder, logger: logger, now: time.Now}
}

// RunID returns the invocation's run ID.
func (b *Board) RunID() string { return b.runID }

// Begin starts tracking a stage.
func (b *Board) Begin(ctx context.Context, stage domain.Stage) *Tracker {
	t := &Tracker{
		run: domain.Run{
			ID:        fmt.Sprintf("%s:%s", b.runID, stage),
			Stage:     stage,
			Status:    domain.RunRunning,
			StartedAt: b.now().UTC(),
			Counters:  map[string]int64{},
		},
		recorder: b.recorder,
		logger:   b.logger.With(zap.String("stage", string(stage))),
		now:      b.now,
	}

	if b.recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if err := b.recorder.Start(rctx, t.run); err != nil {
			b.logger.Warn("Failed to record run start", zap.String("run", t.run.ID), zap.Error(err))
		}
		cancel()
	}

	b.mu.Lock()
	b.trackers = append(b.trackers, t)
	b.mu.Unlock()
	return t
}

// Runs returns snapshots of every stage begun so far, in start order.
func (b *Board) Runs() []domain.Run {
	b.mu.Lock()
	trackers := append([]*Tracker(nil), b.trackers...)
	b.mu.Unlock()

	runs := make([]domain.Run, 0, len(trackers))
	for _, t := range trackers {
		runs = append(runs, t.Snapshot())
	}
	return runs
}
