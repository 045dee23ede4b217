// Package budget enforces daily and monthly token caps on generative calls
// and wraps the provider contracts with budget checks and logging.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
)

// Action is what Check does once a window is spent.
type Action string

// Actions.
const (
	ActionWarn   Action = "warn"
	ActionReject Action = "reject"
)

// ParseAction maps a config value to an Action. Anything but "reject" warns.
func ParseAction(s string) Action {
	if Action(s) == ActionReject {
		return ActionReject
	}
	return ActionWarn
}

// Store persists window counters across runs.
type Store interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// unattributed labels tokens spent outside a pipeline stage (health checks, tests).
const unattributed domain.Stage = "none"

const persistTimeout = 2 * time.Second

// window is one calendar-aligned token cap. A zero limit is unlimited.
type window struct {
	period string // "daily" or "monthly"; also the key segment
	layout string
	align  func(time.Time) time.Time
	limit  int64
	used   int64
	start  time.Time
}

func (w *window) roll(now time.Time) {
	if s := w.align(now); s.After(w.start) {
		w.used, w.start = 0, s
	}
}

func (w *window) spent() bool { return w.limit > 0 && w.used >= w.limit }

// remaining is -1 when unlimited.
func (w *window) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

// Tracker accounts tokens per provider. Check never leaves memory; Record
// updates memory and then writes through to the store when one is attached.
// Usage is also attributed to the pipeline stage found on the context.
type Tracker struct {
	mu       sync.Mutex
	provider string
	action   Action
	day      *window
	month    *window
	stages   map[domain.Stage]int64
	store    Store
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracker creates a tracker. A zero limit disables that window.
func NewTracker(provider string, dailyLimit, monthlyLimit int64, action Action, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Tracker{
		provider: provider,
		action:   action,
		day:      &window{period: "daily", layout: "2006-01-02", align: startOfDay, limit: dailyLimit},
		month:    &window{period: "monthly", layout: "2006-01", align: startOfMonth, limit: monthlyLimit},
		stages:   make(map[domain.Stage]int64),
		logger:   logger,
		now:      time.Now,
	}
	now := b.now().UTC()
	b.day.start, b.month.start = startOfDay(now), startOfMonth(now)
	return b
}

// WithStore attaches store and seeds the current windows from it.
// A failed read leaves that window at zero.
func (b *Tracker) WithStore(ctx context.Context, store Store) *Tracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	now := b.now().UTC()
	for _, w := range b.windows() {
		used, err := store.Get(ctx, b.key(w, now))
		if err != nil {
			b.logger.Warn("Failed to load budget window",
				zap.String("provider", b.provider),
				zap.String("window", w.period),
				zap.Error(err),
			)
			continue
		}
		w.used = used
	}
	b.logger.Info("Budget loaded from store",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.day.used),
		zap.Int64("monthly_used", b.month.used),
	)
	return b
}

func (b *Tracker) windows() []*window { return []*window{b.day, b.month} }

func (b *Tracker) key(w *window, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", domain.KeyPrefix, b.provider, w.period, t.Format(w.layout))
}

func (b *Tracker) roll() time.Time {
	now := b.now().UTC()
	for _, w := range b.windows() {
		w.roll(now)
	}
	return now
}

// Check fails with ErrQuotaExceeded when a window is spent and the action
// is reject. With warn it logs and lets the call through.
func (b *Tracker) Check(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()

	if !b.day.spent() && !b.month.spent() {
		return nil
	}
	if b.action == ActionReject {
		return fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, b.provider)
	}
	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.provider),
		zap.String("stage", string(stageOf(ctx))),
		zap.Int64("daily_used", b.day.used),
		zap.Int64("daily_limit", b.day.limit),
		zap.Int64("monthly_used", b.month.used),
		zap.Int64("monthly_limit", b.month.limit),
	)
	return nil
}

// Record adds tokens to both windows and to the stage carried by ctx.
func (b *Tracker) Record(ctx context.Context, tokens int64) {
	stage := stageOf(ctx)

	b.mu.Lock()
	now := b.roll()
	keys := make(map[string]string, 2)
	for _, w := range b.windows() {
		w.used += tokens
		keys[w.period] = b.key(w, now)
	}
	b.stages[stage] += tokens
	b.publish()
	store := b.store
	b.mu.Unlock()

	metrics.GenerationBudgetTokensByStage.WithLabelValues(b.provider, string(stage)).Add(float64(tokens))
	if store == nil {
		return
	}

	// The caller may already be cancelled; the spend still happened.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	for period, key := range keys {
		if err := store.IncrBy(pctx, key, tokens); err != nil {
			b.logger.Warn("Failed to persist budget", zap.String("window", period), zap.String("key", key), zap.Error(err))
		}
	}
}

// Snapshot is the budget state served on the ops endpoint. Remaining is -1
// for an unlimited window.
type Snapshot struct {
	Provider         string           `json:"provider"`
	DailyUsed        int64            `json:"daily_used"`
	DailyLimit       int64            `json:"daily_limit"`
	DailyRemaining   int64            `json:"daily_remaining"`
	MonthlyUsed      int64            `json:"monthly_used"`
	MonthlyLimit     int64            `json:"monthly_limit"`
	MonthlyRemaining int64            `json:"monthly_remaining"`
	Stages           map[string]int64 `json:"stages,omitempty"`
}

// Snapshot returns current counters, limits and per-stage usage since start.
func (b *Tracker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()

	s := Snapshot{
		Provider:         b.provider,
		DailyUsed:        b.day.used,
		DailyLimit:       b.day.limit,
		DailyRemaining:   b.day.remaining(),
		MonthlyUsed:      b.month.used,
		MonthlyLimit:     b.month.limit,
		MonthlyRemaining: b.month.remaining(),
	}
	if len(b.stages) > 0 {
		s.Stages = make(map[string]int64, len(b.stages))
		for stage, n := range b.stages {
			s.Stages[string(stage)] = n
		}
	}
	return s
}

// publish exports the remaining tokens per window. Caller holds mu.
func (b *Tracker) publish() {
	for _, w := range b.windows() {
		metrics.GenerationBudgetTokensRemaining.WithLabelValues(b.provider, w.period).Set(float64(w.remaining()))
	}
}

func stageOf(ctx context.Context) domain.Stage {
	if s := domain.StageFrom(ctx); s != "" {
		return s
	}
	return unattributed
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
