package admission

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
	"github.com/park285/Cheese-Lichess-bot/internal/session"
)

const (
	busyPause      = 10 * time.Second
	emptyPause     = 20 * time.Second
	challengePause = 20 * time.Second
	refreshEvery   = 120 * time.Second
	ongoingTTL     = 5 * time.Second
	onlineBotsMax  = 200
)

// OutgoingAPI is what the dispatcher calls on the platform.
type OutgoingAPI interface {
	CreateChallenge(ctx context.Context, username string, r platform.ChallengeRequest) (string, error)
	OngoingGames(ctx context.Context) ([]platform.OngoingGame, error)
	OnlineBots(ctx context.Context, n int) ([]string, error)
}

// RatingSource returns a cached rating for (user, perf).
type RatingSource interface {
	Get(ctx context.Context, user, perf string) (int, bool)
}

type DispatchConfig struct {
	Enabled        bool
	Tournament     bool
	Me             string
	MaxActiveGames int
	MaxPending     int
	OnlyWhenIdle   bool
	Cooldown       time.Duration
	MinRating      int
	Request        platform.ChallengeRequest
	// Opponents, when set, replaces the online bot list.
	Opponents []string
}

// Dispatcher issues outgoing challenges one at a time while the bot has
// spare capacity.
type Dispatcher struct {
	cfg      DispatchConfig
	api      OutgoingAPI
	ratings  RatingSource
	pending  *session.Pending
	active   func() int
	throttle *resilience.Throttle

	now     func() time.Time
	sleep   resilience.SleepFunc
	shuffle func([]string)

	mu         sync.Mutex
	challenged map[string]time.Time

	// Loop-owned state.
	ongoingAt   time.Time
	ongoingN    int
	candidates  []string
	refreshedAt time.Time
	cursor      int
}

func NewDispatcher(cfg DispatchConfig, api OutgoingAPI, ratings RatingSource, pending *session.Pending, active func() int, throttle *resilience.Throttle) *Dispatcher {
	cfg.Me = strings.ToLower(cfg.Me)
	cfg.MaxPending = max(1, cfg.MaxPending)
	cfg.MaxActiveGames = max(1, cfg.MaxActiveGames)
	if cfg.Request.Color == "" {
		cfg.Request.Color = "random"
	}
	if throttle == nil {
		throttle = resilience.NewThrottle(0)
	}
	return &Dispatcher{
		cfg:        cfg,
		api:        api,
		ratings:    ratings,
		pending:    pending,
		active:     active,
		throttle:   throttle,
		now:        time.Now,
		sleep:      resilience.SleepContext,
		shuffle:    func(s []string) { rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] }) },
		challenged: make(map[string]time.Time),
	}
}

// Run loops until ctx is done. It returns at once when outgoing challenges
// are disabled or the bot is in tournament mode.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := obslog.For(ctx)
	if !d.cfg.Enabled {
		return nil
	}
	if d.cfg.Tournament {
		log.Info("challenger_disabled", zap.String("why", "tournament_mode"))
		return nil
	}
	log.Info("challenger_started", zap.String("perf", d.perf()), zap.Int("min_rating", d.cfg.MinRating))
	for {
		if err := d.sleep(ctx, d.Step(ctx)); err != nil {
			return ctx.Err()
		}
	}
}

// Step runs one pass and returns how long to wait before the next.
func (d *Dispatcher) Step(ctx context.Context) time.Duration {
	log := obslog.For(ctx)
	if stale := d.pending.Sweep(); len(stale) > 0 {
		log.Info("pending_swept", zap.Strings("users", stale))
	}
	if !d.hasRoom(ctx) || d.pending.Count() > 0 {
		return busyPause
	}

	d.refresh(ctx)
	if len(d.candidates) == 0 {
		return emptyPause
	}

	for d.cursor < len(d.candidates) {
		name := d.candidates[d.cursor]
		d.cursor++
		if !d.hasRoom(ctx) || d.pending.Count() >= d.cfg.MaxPending {
			return busyPause
		}
		if !d.ShouldChallenge(ctx, name) {
			continue
		}
		d.challenge(ctx, name)
		return challengePause
	}
	d.cursor = 0
	return emptyPause
}

// hasRoom checks capacity and, when configured, that no game is running
// here or on the server.
func (d *Dispatcher) hasRoom(ctx context.Context) bool {
	active := d.active()
	if active >= d.cfg.MaxActiveGames {
		return false
	}
	if d.cfg.OnlyWhenIdle && (active > 0 || d.serverBusy(ctx)) {
		return false
	}
	return true
}

func (d *Dispatcher) serverBusy(ctx context.Context) bool {
	now := d.now()
	if !d.ongoingAt.IsZero() && now.Sub(d.ongoingAt) < ongoingTTL {
		return d.ongoingN > 0
	}
	games, err := d.api.OngoingGames(ctx)
	if err != nil {
		obslog.For(ctx).Warn("ongoing_games_failed", zap.Error(err))
		d.ongoingN = d.active()
	} else {
		d.ongoingN = len(games)
	}
	d.ongoingAt = now
	return d.ongoingN > 0
}

func (d *Dispatcher) refresh(ctx context.Context) {
	now := d.now()
	if len(d.candidates) > 0 && now.Sub(d.refreshedAt) <= refreshEvery {
		return
	}
	names := append([]string(nil), d.cfg.Opponents...)
	if len(names) == 0 {
		online, err := d.api.OnlineBots(ctx, onlineBotsMax)
		if err != nil {
			obslog.For(ctx).Warn("online_bots_failed", zap.Error(err))
		}
		names = online
	}
	out := names[:0]
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" && strings.ToLower(n) != d.cfg.Me {
			out = append(out, n)
		}
	}
	d.shuffle(out)
	d.candidates = out
	d.refreshedAt = now
	d.cursor = 0
	obslog.For(ctx).Debug("candidates_refreshed", zap.Int("count", len(out)))
}

func (d *Dispatcher) perf() string { return session.PerfFor(d.cfg.Request.ClockLimit) }

// ShouldChallenge applies the pending cap, the per-opponent cooldown and
// the rating floor.
func (d *Dispatcher) ShouldChallenge(ctx context.Context, name string) bool {
	u := strings.ToLower(name)
	if d.pending.Count() >= d.cfg.MaxPending || d.pending.Has(ctx, u) {
		return false
	}
	d.mu.Lock()
	last, seen := d.challenged[u]
	d.mu.Unlock()
	if seen && d.now().Sub(last) < d.cfg.Cooldown {
		return false
	}
	perf := d.perf()
	rating, ok := d.ratings.Get(ctx, u, perf)
	if !ok || rating < d.cfg.MinRating {
		obslog.For(ctx).Debug("challenge_skip",
			zap.String("user", name),
			zap.String("perf", perf),
			zap.Int("rating", rating),
			zap.Bool("rating_known", ok),
			zap.Int("min_rating", d.cfg.MinRating),
		)
		return false
	}
	return true
}

func (d *Dispatcher) challenge(ctx context.Context, name string) {
	log := obslog.For(ctx).With(zap.String("user", name))
	if err := d.throttle.Wait(ctx); err != nil {
		return
	}
	id, err := d.api.CreateChallenge(ctx, name, d.cfg.Request)
	switch {
	case err == nil:
		d.pending.Add(ctx, name)
		d.markChallenged(name)
		metrics.RecordOutgoing("sent")
		log.Info("challenge_sent", zap.String("challenge_id", id))
	case resilience.IsNotFound(err):
		d.markChallenged(name)
		metrics.RecordOutgoing("gone")
		log.Info("challenge_target_gone")
	default:
		metrics.RecordOutgoing("failed")
		log.Warn("challenge_failed", zap.Error(err))
	}
}

func (d *Dispatcher) markChallenged(name string) {
	d.mu.Lock()
	d.challenged[strings.ToLower(name)] = d.now()
	d.mu.Unlock()
}
