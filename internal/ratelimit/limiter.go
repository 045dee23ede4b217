// Package ratelimit throttles calls to external services.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Limiter is a token bucket with continuous refill. Capacity and refill rate
// are both requests-per-second; the bucket starts full.
//
// The whole acquire, including the wait for the next token, runs under one
// lock, so callers are admitted one at a time in lock order.
type Limiter struct {
	rate float64

	// lock is a one-slot semaphore rather than a sync.Mutex so a caller
	// blocked behind a sleeping holder can still give up on ctx.
	lock   chan struct{}
	tokens float64
	last   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	waitObserver prometheus.Observer
}

// New creates a limiter admitting rps requests per second.
func New(rps float64) (*Limiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("requests per second must be positive, got %v", rps)
	}
	return &Limiter{
		rate:   rps,
		lock:   make(chan struct{}, 1),
		tokens: rps,
		last:   time.Now(),
		now:    time.Now,
		sleep:  sleepCtx,
	}, nil
}

// WithWaitObserver reports the time each caller spent waiting for a token.
func (l *Limiter) WithWaitObserver(o prometheus.Observer) *Limiter {
	l.waitObserver = o
	return l
}

// Rate returns the configured requests per second.
func (l *Limiter) Rate() float64 { return l.rate }

// Acquire blocks until one token is available and consumes it.
// Returns ctx.Err() if the context ends first; no token is consumed then.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.now()

	select {
	case l.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.lock }()

	l.refill()
	if l.tokens < 1 {
		// Round up: admitting a nanosecond early would break the rate bound.
		wait := time.Duration(math.Ceil((1 - l.tokens) / l.rate * float64(time.Second)))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		l.refill()
		// Float rounding can leave us a hair under one token after the exact wait.
		if l.tokens < 1 {
			l.tokens = 1
		}
	}
	l.tokens--

	if l.waitObserver != nil {
		l.waitObserver.Observe(l.now().Sub(start).Seconds())
	}
	return nil
}

// refill adds elapsed*rate tokens, capped at capacity. Caller holds the lock.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.rate {
			l.tokens = l.rate
		}
	}
	l.last = now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
