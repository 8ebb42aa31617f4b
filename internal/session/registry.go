// Package session runs one goroutine per active game and keeps the shared
// bookkeeping: active games, pending outgoing challenges, the rating cache
// and result tallies. Each registry is guarded by its own mutex.
package session

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

// Registry is the set of games this process is playing.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
	remote *RedisStore
}

func NewRegistry(remote *RedisStore) *Registry {
	return &Registry{active: make(map[string]struct{}), remote: remote}
}

// Claim adds id unless it is already active. With a shared store, a game
// held by another instance is refused; store errors fall back to the
// local claim.
func (r *Registry) Claim(ctx context.Context, id string) bool {
	r.mu.Lock()
	if _, ok := r.active[id]; ok {
		r.mu.Unlock()
		return false
	}
	r.active[id] = struct{}{}
	n := len(r.active)
	r.mu.Unlock()

	if r.remote != nil {
		ok, err := r.remote.ClaimGame(ctx, id)
		if err != nil {
			obslog.For(ctx).Warn("remote_claim_failed", zap.String("game_id", id), zap.Error(err))
		} else if !ok {
			r.mu.Lock()
			delete(r.active, id)
			r.mu.Unlock()
			obslog.For(ctx).Info("game_claimed_elsewhere", zap.String("game_id", id))
			return false
		}
	}
	metrics.SetActiveSessions(n)
	return true
}

// Release reports whether id was active.
func (r *Registry) Release(ctx context.Context, id string) bool {
	r.mu.Lock()
	_, ok := r.active[id]
	delete(r.active, id)
	n := len(r.active)
	r.mu.Unlock()
	if !ok {
		return false
	}
	metrics.SetActiveSessions(n)
	if r.remote != nil {
		if err := r.remote.ReleaseGame(ctx, id); err != nil {
			obslog.For(ctx).Warn("remote_release_failed", zap.String("game_id", id), zap.Error(err))
		}
	}
	return true
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// IDs returns the active game ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}
