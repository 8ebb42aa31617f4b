package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

// ErrRetriesExceeded wraps the last transient error once the budget is spent.
type ErrRetriesExceeded struct {
	Desc     string
	Attempts int
	Last     error
}

func (e *ErrRetriesExceeded) Error() string {
	return fmt.Sprintf("%s: exceeded retries (%d): %v", e.Desc, e.Attempts, e.Last)
}

func (e *ErrRetriesExceeded) Unwrap() error { return e.Last }

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Caller serializes outbound calls and retries them by error kind.
// The lock is held for one attempt at a time, never across a sleep.
type Caller struct {
	mu sync.Mutex

	maxRetries  int
	retryDelay  time.Duration
	rateDefault time.Duration
	rateMax     time.Duration
	sleep       SleepFunc
	onRetry     func(kind Kind)
	onRateLimit func(wait time.Duration)
}

type CallerOption func(*Caller)

func WithMaxRetries(n int) CallerOption {
	return func(c *Caller) { c.maxRetries = n }
}

func WithRetryDelay(d time.Duration) CallerOption {
	return func(c *Caller) { c.retryDelay = d }
}

// WithRateLimitBackoff sets the fallback wait for a 429 without Retry-After
// and the cap the doubling never exceeds.
func WithRateLimitBackoff(def, max time.Duration) CallerOption {
	return func(c *Caller) {
		c.rateDefault = def
		c.rateMax = max
	}
}

func WithSleep(fn SleepFunc) CallerOption {
	return func(c *Caller) { c.sleep = fn }
}

// WithRetryHook is called before every retry sleep.
func WithRetryHook(fn func(kind Kind)) CallerOption {
	return func(c *Caller) { c.onRetry = fn }
}

// WithRateLimitHook is told about every 429 wait, e.g. to push a throttle.
func WithRateLimitHook(fn func(wait time.Duration)) CallerOption {
	return func(c *Caller) { c.onRateLimit = fn }
}

func NewCaller(opts ...CallerOption) *Caller {
	c := &Caller{
		maxRetries:  6,
		retryDelay:  5 * time.Second,
		rateDefault: 60 * time.Second,
		rateMax:     1800 * time.Second,
		sleep:       SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rateMax < c.rateDefault {
		c.rateMax = c.rateDefault
	}
	return c
}

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts
// the transient budget or ctx ends. Rate limits are retried indefinitely.
func (c *Caller) Do(ctx context.Context, desc string, fn func(ctx context.Context) error) error {
	attempt := 0
	rateWait := c.rateDefault
	for {
		c.mu.Lock()
		err := fn(ctx)
		c.mu.Unlock()
		if err == nil {
			return nil
		}

		var wait time.Duration
		switch kind := Classify(err); kind {
		case KindRateLimited:
			wait = rateWait
			if hint, ok := RetryAfter(err); ok && hint > 0 {
				wait = hint
			}
			rateWait = min(rateWait*2, c.rateMax)
			obslog.For(ctx).Warn("api_rate_limited",
				zap.String("call", desc),
				zap.Duration("sleep", wait),
			)
			if c.onRateLimit != nil {
				c.onRateLimit(wait)
			}
			c.retried(kind)
		case KindTransient:
			attempt++
			if attempt > c.maxRetries {
				return &ErrRetriesExceeded{Desc: desc, Attempts: c.maxRetries, Last: err}
			}
			wait = c.retryDelay
			obslog.For(ctx).Warn("api_transient_retry",
				zap.String("call", desc),
				zap.Int("attempt", attempt),
				zap.Int("max", c.maxRetries),
				zap.Duration("sleep", wait),
				zap.Error(err),
			)
			c.retried(kind)
		default:
			return err
		}

		if serr := c.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: %w", desc, serr)
		}
	}
}

func (c *Caller) retried(kind Kind) {
	if c.onRetry != nil {
		c.onRetry(kind)
	}
}

// Call is Do for operations returning a value.
func Call[T any](ctx context.Context, c *Caller, desc string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := c.Do(ctx, desc, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// SleepContext waits d or returns ctx.Err() early.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
