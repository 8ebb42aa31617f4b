package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

// Pending tracks outgoing challenges that have not been answered yet,
// keyed by lower-cased opponent name.
type Pending struct {
	ttl    time.Duration
	now    func() time.Time
	remote *RedisStore

	mu sync.Mutex
	at map[string]time.Time
}

func NewPending(ttl time.Duration, remote *RedisStore) *Pending {
	return &Pending{ttl: ttl, now: time.Now, remote: remote, at: make(map[string]time.Time)}
}

func pendingKey(user string) string { return strings.ToLower(strings.TrimSpace(user)) }

func (p *Pending) Add(ctx context.Context, user string) {
	k := pendingKey(user)
	if k == "" {
		return
	}
	p.mu.Lock()
	p.at[k] = p.now()
	n := len(p.at)
	p.mu.Unlock()
	metrics.SetPendingChallenges(n)
	if p.remote != nil {
		if err := p.remote.MarkPending(ctx, k, p.ttl); err != nil {
			obslog.For(ctx).Debug("remote_pending_failed", zap.String("user", k), zap.Error(err))
		}
	}
}

// Remove reports whether user had a pending challenge.
func (p *Pending) Remove(ctx context.Context, user string) bool {
	k := pendingKey(user)
	p.mu.Lock()
	_, ok := p.at[k]
	delete(p.at, k)
	n := len(p.at)
	p.mu.Unlock()
	metrics.SetPendingChallenges(n)
	if p.remote != nil && k != "" {
		if err := p.remote.ClearPending(ctx, k); err != nil {
			obslog.For(ctx).Debug("remote_pending_clear_failed", zap.String("user", k), zap.Error(err))
		}
	}
	return ok
}

// Has checks the local map, then the shared store.
func (p *Pending) Has(ctx context.Context, user string) bool {
	k := pendingKey(user)
	p.mu.Lock()
	_, ok := p.at[k]
	p.mu.Unlock()
	if ok || p.remote == nil {
		return ok
	}
	ok, err := p.remote.HasPending(ctx, k)
	return err == nil && ok
}

func (p *Pending) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.at)
}

// Sweep drops entries older than the TTL and returns their names.
func (p *Pending) Sweep() []string {
	p.mu.Lock()
	now := p.now()
	var dropped []string
	for k, t := range p.at {
		if now.Sub(t) > p.ttl {
			delete(p.at, k)
			dropped = append(dropped, k)
		}
	}
	n := len(p.at)
	p.mu.Unlock()
	if len(dropped) > 0 {
		metrics.SetPendingChallenges(n)
	}
	return dropped
}
