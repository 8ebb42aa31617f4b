package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates an independent class of calls (challenge creation) with a
// minimum interval and an explicit backoff-until deadline.
type Throttle struct {
	limiter *rate.Limiter

	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func NewThrottle(minInterval time.Duration) *Throttle {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1), now: time.Now}
}

// Wait blocks until both the backoff deadline and the interval allow a call.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		d := t.until.Sub(t.now())
		t.mu.Unlock()
		if d <= 0 {
			break
		}
		if err := SleepContext(ctx, d); err != nil {
			return err
		}
	}
	return t.limiter.Wait(ctx)
}

// Backoff pushes the deadline to at least now+d.
func (t *Throttle) Backoff(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if next := t.now().Add(d); next.After(t.until) {
		t.until = next
	}
}

// BackoffUntil reports the current backoff deadline (zero when none was set).
func (t *Throttle) BackoffUntil() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.until
}
