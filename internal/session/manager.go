package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
)

// NewInstanceID names this process in shared claims.
func NewInstanceID() string { return uuid.NewString() }

// Manager starts one session per claimed game, at most maxGames running
// at a time. Games beyond the limit wait for a slot.
type Manager struct {
	runner   *Runner
	registry *Registry
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

func NewManager(runner *Runner, registry *Registry, maxGames int) *Manager {
	return &Manager{
		runner:   runner,
		registry: registry,
		sem:      semaphore.NewWeighted(int64(max(1, maxGames))),
	}
}

// Start claims the game and runs it in the background. A game that is
// already active is ignored and reported as false.
func (m *Manager) Start(ctx context.Context, info *platform.GameInfo) bool {
	id := info.GID()
	log := obslog.For(ctx).With(zap.String("game_id", id))
	if !m.registry.Claim(ctx, id) {
		log.Info("duplicate_game_start")
		return false
	}
	m.wg.Go(func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("session_panic", zap.Any("panic", rec), zap.Stack("stack"))
				m.registry.Release(context.WithoutCancel(ctx), id)
			}
		}()
		if err := m.sem.Acquire(ctx, 1); err != nil {
			m.registry.Release(context.WithoutCancel(ctx), id)
			return
		}
		defer m.sem.Release(1)
		m.runner.Run(ctx, info)
	})
	return true
}

// Wait blocks until every started session has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) Active() int { return m.registry.Len() }

func (m *Manager) Registry() *Registry { return m.registry }
