// Package botbuilder wires the bot from its configuration.
package botbuilder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-Lichess-bot/internal/admission"
	"github.com/park285/Cheese-Lichess-bot/internal/book"
	"github.com/park285/Cheese-Lichess-bot/internal/botevent"
	"github.com/park285/Cheese-Lichess-bot/internal/chat"
	"github.com/park285/Cheese-Lichess-bot/internal/config"
	"github.com/park285/Cheese-Lichess-bot/internal/engine"
	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/pipeline"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
	"github.com/park285/Cheese-Lichess-bot/internal/poscache"
	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
	"github.com/park285/Cheese-Lichess-bot/internal/session"
	"github.com/park285/Cheese-Lichess-bot/internal/statusd"
	"github.com/park285/Cheese-Lichess-bot/internal/store"
	"github.com/park285/Cheese-Lichess-bot/internal/timemgmt"
)

// Bot is the assembled process: the event listener, the outgoing
// challenger and their shared state.
type Bot struct {
	Config     *config.AppConfig
	Me         string
	Client     *platform.Client
	Modes      *book.ModeSwitch
	Manager    *session.Manager
	Listener   *admission.Listener
	Dispatcher *admission.Dispatcher
	Status     *statusd.Server

	instance string
	closers  []func() error
}

// FatalBlocking logs a configuration error once and parks until ctx ends,
// so a supervisor does not restart the process in a tight loop.
func FatalBlocking(ctx context.Context, msg string, err error) {
	obslog.L().Error("fatal_config", zap.String("msg", msg), zap.Error(err))
	<-ctx.Done()
}

func New(ctx context.Context, cfg *config.AppConfig) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	log := obslog.L()
	b := &Bot{Config: cfg, instance: session.NewInstanceID()}

	// Platform client. 429 waits also push back outgoing challenges.
	throttle := resilience.NewThrottle(cfg.ChallengeInterval)
	caller := resilience.NewCaller(
		resilience.WithMaxRetries(cfg.MaxNetRetries),
		resilience.WithRetryDelay(cfg.ReconnectDelay),
		resilience.WithRateLimitBackoff(cfg.RateLimitDefault, cfg.RateLimitMax),
		resilience.WithRetryHook(func(k resilience.Kind) { metrics.RecordRetry(k.String()) }),
		resilience.WithRateLimitHook(func(wait time.Duration) { throttle.Backoff(max(wait, cfg.ChallengeBackoff)) }),
	)
	b.Client = platform.NewClient(cfg.BaseURL, cfg.APIToken,
		platform.WithTimeout(cfg.RequestTimeout),
		platform.WithStreamReadTimeout(cfg.StreamReadTimeout),
		platform.WithCaller(caller),
	)

	account, err := b.Client.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	b.Me = strings.ToLower(account.ID)
	log.Info("account", zap.String("me", b.Me), zap.String("name", account.DisplayName()), zap.String("instance", b.instance))

	// Engine.
	spawner, err := engine.NewProcessSpawner(engine.Config{
		Path:             cfg.StockfishPath,
		Threads:          engine.ParseThreads(cfg.EngineThreads),
		MaxGames:         cfg.MaxActiveGames,
		HashMB:           cfg.EngineHashMB,
		MoveOverheadMS:   cfg.MoveOverheadMS,
		UseLargePages:    cfg.UseLargePages,
		SyzygyPath:       cfg.SyzygyPath,
		SyzygyProbeDepth: cfg.SyzygyProbeDepth,
		SyzygyProbeLimit: cfg.SyzygyProbeLimit,
		Syzygy50MoveRule: cfg.Syzygy50MoveRule,
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	engines := engine.NewManager(spawner,
		engine.WithRetry(cfg.EngineRetryDelay, cfg.EngineMaxRetries),
		engine.WithMoveOverhead(cfg.MoveOverhead()),
		engine.WithRespawnHook(metrics.RecordRespawn),
	)

	// Books and position cache.
	books := book.Load(cfg)
	b.Modes = books.Modes
	var cache *poscache.Cache
	if cfg.UseFenCache {
		cache = poscache.New(cfg.FenCachePath,
			poscache.WithQueue(cfg.FenQueueDir, cfg.OffloadMinDepth, cfg.OffloadPriority),
			poscache.WithOffloadOnMiss(cfg.OffloadOnMiss),
			poscache.WithPVPlies(cfg.EnqueuePVPlies),
			poscache.WithReloadInterval(cfg.CacheHotReload),
			poscache.WithHooks(metrics.RecordCacheHit, metrics.RecordCacheMiss),
		)
		if err := cache.Load(ctx); err != nil {
			log.Warn("fen_cache_load_failed", zap.Error(err))
		}
	}

	// Optional shared state.
	var remote *session.RedisStore
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		rdb, err := session.OpenRedis(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		b.closers = append(b.closers, rdb.Close)
		remote = session.NewRedisStore(rdb, b.instance)
		logRemoteResults(ctx, remote)
	}
	var recorder store.Recorder
	if url := strings.TrimSpace(cfg.DatabaseURL); url != "" {
		repo, err := store.NewRepository(ctx, url)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("init store: %w", err)
		}
		b.closers = append(b.closers, repo.Close)
		recorder = repo
	}

	var events botevent.Publisher = botevent.Nop{}
	var hub *statusd.Hub
	if cfg.StatusAddr != "" {
		hub = statusd.NewHub()
		events = hub
	}

	gameLogs := obslog.NewGameLogs(cfg.LogDir, cfg.LogToFile)
	player := pipeline.New(b.Client, engines,
		pipeline.WithBooks(books),
		pipeline.WithCache(cache),
		pipeline.WithPlanner(timemgmt.Planner{
			Caps:        timemgmt.PhaseCaps{Open: cfg.PhaseCapOpen, Mid: cfg.PhaseCapMid, End: cfg.PhaseCapEnd},
			Overhead:    cfg.MoveOverhead(),
			MinMoveTime: cfg.MinMoveTime,
			Jitter:      timemgmt.Jitter,
		}),
		pipeline.WithGameLogs(gameLogs),
		pipeline.WithEvents(events),
		pipeline.WithPrettyLog(cfg.LogPretty, cfg.MaxPVUCIs),
	)

	registry := session.NewRegistry(remote)
	results := session.NewResults(remote)
	runner := session.NewRunner(session.Config{
		Me:                 b.Me,
		EngineName:         engineName(cfg.StockfishPath),
		DefaultBaseMinutes: cfg.ChallengeClockSec / 60,
		ReconnectDelay:     cfg.ReconnectDelay,
		Resign: pipeline.ResignPolicy{
			Enabled:   cfg.ResignEnabled,
			AfterMove: cfg.ResignAfterMove,
			Threshold: cfg.ResignThreshold,
		},
	}, session.Deps{
		Client:   b.Client,
		Streams:  b.openGame,
		Engines:  engines,
		Player:   player,
		Registry: registry,
		Results:  results,
		Chat:     chat.New(b.Client, chat.MessagesFrom(cfg.File)),
		GameLogs: gameLogs,
		Events:   events,
		Recorder: recorder,
	})
	b.Manager = session.NewManager(runner, registry, cfg.MaxActiveGames)

	pending := session.NewPending(cfg.PendingTTL, remote)
	b.Listener = admission.NewListener(admission.ListenerConfig{
		Me:             b.Me,
		MaxActiveGames: cfg.MaxActiveGames,
		Policy: admission.Policy{
			VariantStandard: cfg.AcceptVariantStandard,
			MinBaseSeconds:  cfg.AcceptMinBaseSeconds,
			AcceptNonRated:  cfg.AcceptNonRated,
			AllowHumans:     cfg.AllowHumans,
		},
		Tournament:     admission.TournamentGate{Enabled: cfg.TournamentMode, OnlyID: cfg.OnlyTournamentID},
		ReconnectDelay: cfg.ReconnectDelay,
	}, b.Client, b.Manager, pending, b.openEvents, events)

	b.Dispatcher = admission.NewDispatcher(admission.DispatchConfig{
		Enabled:        cfg.ProactiveChallenges,
		Tournament:     cfg.TournamentMode,
		Me:             b.Me,
		MaxActiveGames: cfg.MaxActiveGames,
		MaxPending:     cfg.MaxOutgoingChallenges,
		OnlyWhenIdle:   cfg.OutgoingOnlyWhenIdle,
		Cooldown:       cfg.RechallengeCooldown,
		MinRating:      cfg.MinChallengeRating,
		Request: platform.ChallengeRequest{
			Rated:          cfg.ChallengeRated,
			ClockLimit:     cfg.ChallengeClockSec,
			ClockIncrement: cfg.ChallengeInc,
			Variant:        "standard",
		},
		Opponents: cfg.Opponents,
	}, b.Client, session.NewRatings(b.Client, cfg.RatingCacheTTL, remote), pending, b.Manager.Active, throttle)

	if hub != nil {
		b.Status = statusd.New(cfg.StatusAddr, hub, func() statusd.Snapshot {
			return statusd.Snapshot{
				Me:          b.Me,
				Instance:    b.instance,
				ActiveGames: registry.IDs(),
				Pending:     pending.Count(),
				Results:     results.Snapshot(),
				BookMode:    string(b.Modes.Current()),
				EnginePath:  cfg.StockfishPath,
				Tournament:  cfg.TournamentMode,
			}
		})
	}
	return b, nil
}

func (b *Bot) openGame(ctx context.Context, gameID string) (resilience.Source[json.RawMessage], error) {
	s, err := b.Client.StreamGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Bot) openEvents(ctx context.Context) (resilience.Source[json.RawMessage], error) {
	s, err := b.Client.StreamEvents(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Run drives the loops until ctx ends, then waits for running games to
// finalize.
func (b *Bot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(b.Listener.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(b.Dispatcher.Run(gctx)) })
	g.Go(func() error {
		if err := b.Modes.Watch(gctx); err != nil {
			obslog.L().Warn("book_mode_watch_failed", zap.Error(err))
		}
		return nil
	})
	if b.Status != nil {
		g.Go(func() error { return b.Status.Run(gctx) })
	}
	err := g.Wait()
	b.Manager.Wait()
	return err
}

// Close releases the optional stores. It is safe to call more than once.
func (b *Bot) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			obslog.L().Warn("close_failed", zap.Error(err))
		}
	}
	b.closers = nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func engineName(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if name == "" || name == "." {
		return "engine"
	}
	return name
}

func logRemoteResults(ctx context.Context, st *session.RedisStore) {
	res, err := st.Results(ctx)
	if err != nil {
		obslog.L().Warn("redis_results_failed", zap.Error(err))
		return
	}
	obslog.L().Info("shared_results",
		zap.Int64("wins", res[session.OutcomeWin]),
		zap.Int64("losses", res[session.OutcomeLoss]),
		zap.Int64("draws", res[session.OutcomeDraw]),
	)
}
