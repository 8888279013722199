// Package retry re-runs store operations that fail because another writer
// holds a lock.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/lepinkainen/reelbase/internal/errors"
	"github.com/lepinkainen/reelbase/internal/store"
)

const (
	DefaultAttempts = 6
	DefaultDelay    = 2 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier retries operations that fail with a lock conflict. The zero value
// is not usable; use New.
type Retrier struct {
	attempts int
	delay    time.Duration
	sleep    SleepFunc
	isLocked func(error) bool
	onRetry  func(name string, attempt int)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithSleep replaces the delay function, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithClassifier replaces the lock detector.
func WithClassifier(fn func(error) bool) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.isLocked = fn
		}
	}
}

// WithRetryHook is called before every retry.
func WithRetryHook(fn func(name string, attempt int)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier making at most attempts tries with a flat delay
// between them. Non-positive values fall back to the defaults.
func New(attempts int, delay time.Duration, opts ...Option) *Retrier {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}

	r := &Retrier{
		attempts: attempts,
		delay:    delay,
		sleep:    sleepContext,
		isLocked: store.IsLocked,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attempts returns the configured attempt bound.
func (r *Retrier) Attempts() int {
	return r.attempts
}

// Do runs op until it succeeds, fails with a non-lock error, or the attempt
// bound is reached. Lock failures that exhaust the bound are returned as a
// *errors.ContentionError; other errors are returned as is.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !r.isLocked(err) {
			return err
		}
		lastErr = err

		if attempt == r.attempts {
			break
		}

		slog.Warn("Store locked, retrying", "operation", name, "attempt", attempt, "max_attempts", r.attempts, "delay", r.delay)
		if r.onRetry != nil {
			r.onRetry(name, attempt)
		}
		if err := r.sleep(ctx, r.delay); err != nil {
			return err
		}
	}

	return errors.NewContentionError(name, r.attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
