package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
)

// Perf categories.
const (
	PerfBullet    = "bullet"
	PerfBlitz     = "blitz"
	PerfRapid     = "rapid"
	PerfClassical = "classical"
)

var perfFallback = []string{PerfRapid, PerfBlitz, PerfClassical, PerfBullet}

// PerfFor buckets a base clock in seconds.
func PerfFor(clockSec int) string {
	switch {
	case clockSec < 180:
		return PerfBullet
	case clockSec < 480:
		return PerfBlitz
	case clockSec <= 1500:
		return PerfRapid
	default:
		return PerfClassical
	}
}

// UserFetcher loads public user data.
type UserFetcher interface {
	User(ctx context.Context, username string) (*platform.PublicUser, error)
}

type ratingEntry struct {
	rating int
	known  bool
	at     time.Time
}

// Ratings caches per-(user, perf) ratings for ttl. Misses and fetch errors
// are cached as unknown.
type Ratings struct {
	fetch  UserFetcher
	ttl    time.Duration
	now    func() time.Time
	remote *RedisStore
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]ratingEntry
}

func NewRatings(fetch UserFetcher, ttl time.Duration, remote *RedisStore) *Ratings {
	return &Ratings{fetch: fetch, ttl: ttl, now: time.Now, remote: remote, entries: make(map[string]ratingEntry)}
}

// Get returns the user's rating in perf, falling back through rapid, blitz,
// classical and bullet when perf has none.
func (r *Ratings) Get(ctx context.Context, user, perf string) (int, bool) {
	u := strings.ToLower(strings.TrimSpace(user))
	key := u + ":" + perf

	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if ok && r.now().Sub(e.at) < r.ttl {
		return e.rating, e.known
	}

	if r.remote != nil {
		if n, known, found, err := r.remote.LoadRating(ctx, u, perf); err == nil && found {
			r.store(key, n, known)
			return n, known
		}
	}

	v, _, _ := r.group.Do(key, func() (any, error) {
		n, known := r.lookup(ctx, u, perf)
		r.store(key, n, known)
		if r.remote != nil {
			if err := r.remote.SaveRating(ctx, u, perf, n, known, r.ttl); err != nil {
				obslog.For(ctx).Debug("remote_rating_failed", zap.String("user", u), zap.Error(err))
			}
		}
		return ratingEntry{rating: n, known: known}, nil
	})
	got := v.(ratingEntry)
	return got.rating, got.known
}

func (r *Ratings) store(key string, n int, known bool) {
	r.mu.Lock()
	r.entries[key] = ratingEntry{rating: n, known: known, at: r.now()}
	r.mu.Unlock()
}

func (r *Ratings) lookup(ctx context.Context, user, perf string) (int, bool) {
	pu, err := r.fetch.User(ctx, user)
	if err != nil {
		obslog.For(ctx).Warn("rating_fetch_failed", zap.String("user", user), zap.Error(err))
		return 0, false
	}
	if n, ok := pu.Rating(perf); ok {
		return n, true
	}
	for _, alt := range perfFallback {
		if n, ok := pu.Rating(alt); ok {
			return n, true
		}
	}
	return 0, false
}
