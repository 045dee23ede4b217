// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/metrics"
)

// Defaults match the generation pipeline: 3 attempts, 3s base delay.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 3 * time.Second
)

// Policy configures an Executor.
type Policy struct {
	// MaxAttempts is the total number of calls, first one included.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; doubles after each failure.
	BaseDelay time.Duration
}

// Executor retries failed operations with delay BaseDelay*2^attempt.
type Executor struct {
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an executor. Zero policy fields take defaults.
func New(p Policy, logger *zap.Logger) *Executor {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{policy: p, logger: logger, sleep: sleepCtx}
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy { return e.policy }

// Delay returns the wait after failed attempt n (0-based).
func (e *Executor) Delay(attempt int) time.Duration {
	return e.policy.BaseDelay * time.Duration(1<<attempt)
}

// Do calls op until it succeeds, fails permanently, or attempts run out.
// The last error is returned wrapped.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermanent(err) {
			metrics.RetryAttemptsTotal.WithLabelValues("permanent").Inc()
			return fmt.Errorf("attempt %d: %w", attempt+1, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("attempt %d: %w", attempt+1, err)
		}
		if attempt == e.policy.MaxAttempts-1 {
			break
		}

		delay := e.Delay(attempt)
		metrics.RetryAttemptsTotal.WithLabelValues("retried").Inc()
		e.logger.Warn("Attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry wait: %w", err)
		}
	}

	metrics.RetryAttemptsTotal.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("after %d attempts: %w", e.policy.MaxAttempts, lastErr)
}

// Do is a typed convenience over Executor.Do.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
