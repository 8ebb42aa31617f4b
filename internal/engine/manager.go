// Package engine runs UCI engine processes and recovers from their failures.
package engine

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

// Handle is an engine exclusively owned by one game session.
type Handle interface {
	Search(ctx context.Context, pos Position, lim Limit) (Result, error)
	Close() error
}

// Spawner starts ready-to-use engines.
type Spawner interface {
	Spawn(ctx context.Context) (Handle, error)
}

type Config struct {
	Path string
	// Args and Env are passed to the engine binary.
	Args []string
	Env  []string

	// Threads <= 0 means cores / MaxGames.
	Threads        int
	MaxGames       int
	HashMB         int
	MoveOverheadMS int
	UseLargePages  bool

	SyzygyPath       string
	SyzygyProbeDepth int
	SyzygyProbeLimit int
	Syzygy50MoveRule bool
}

// ParseThreads maps "auto" (or junk) to 0.
func ParseThreads(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// AutoThreads splits the cores across concurrent games.
func AutoThreads(maxGames int) int {
	return max(1, runtime.NumCPU()/max(1, maxGames))
}

var largePageSpellings = []string{"Use Large Pages", "UseLargePages", "Use Windows Large Pages"}

// ProcessSpawner launches cfg.Path and configures it.
type ProcessSpawner struct {
	cfg Config
}

func NewProcessSpawner(cfg Config) (*ProcessSpawner, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	return &ProcessSpawner{cfg: cfg}, nil
}

// Spawn launches, handshakes, applies advertised options, pings and primes
// the engine. Launch or handshake failure is returned; option failures are
// logged and skipped.
func (s *ProcessSpawner) Spawn(ctx context.Context) (Handle, error) {
	p, err := startProcess(ctx, s.cfg.Path, s.cfg.Args, s.cfg.Env)
	if err != nil {
		return nil, err
	}
	if err := p.handshake(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}

	s.applyOptions(ctx, p)

	if err := p.EnsureReady(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	if _, err := p.Search(ctx, Position{}, Limit{Nodes: 1}); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("prime engine: %w", err)
	}
	obslog.For(ctx).Info("engine_spawned",
		zap.String("engine", p.Name()),
		zap.String("path", s.cfg.Path),
	)
	return p, nil
}

func (s *ProcessSpawner) applyOptions(ctx context.Context, p *Process) {
	log := obslog.For(ctx)
	opts := p.Options()

	setSpin := func(name string, n int, clamp bool) {
		spec, ok := opts.Lookup(name)
		if !ok {
			return
		}
		if !spec.InRange(n) {
			if !clamp {
				log.Warn("engine_option_out_of_range", zap.String("option", name), zap.Int("value", n))
				return
			}
			if spec.HasMax && n > spec.Max {
				n = spec.Max
			}
			if spec.HasMin && n < spec.Min {
				n = spec.Min
			}
		}
		if err := p.SetOption(spec.Name, strconv.Itoa(n)); err != nil {
			log.Warn("engine_option_failed", zap.String("option", name), zap.Error(err))
		}
	}
	setRaw := func(name, value string) bool {
		spec, ok := opts.Lookup(name)
		if !ok {
			return false
		}
		if err := p.SetOption(spec.Name, value); err != nil {
			log.Warn("engine_option_failed", zap.String("option", name), zap.Error(err))
			return false
		}
		return true
	}

	threads := s.cfg.Threads
	if threads <= 0 {
		threads = AutoThreads(s.cfg.MaxGames)
	}
	setSpin("Threads", threads, false)
	if s.cfg.HashMB > 0 {
		setSpin("Hash", s.cfg.HashMB, true)
	}
	setSpin("Move Overhead", s.cfg.MoveOverheadMS, false)

	if s.cfg.SyzygyPath != "" {
		if setRaw("SyzygyPath", s.cfg.SyzygyPath) {
			setSpin("SyzygyProbeDepth", s.cfg.SyzygyProbeDepth, false)
			setSpin("SyzygyProbeLimit", s.cfg.SyzygyProbeLimit, false)
			setRaw("Syzygy50MoveRule", strconv.FormatBool(s.cfg.Syzygy50MoveRule))
		}
	}

	if s.cfg.UseLargePages {
		for _, name := range largePageSpellings {
			if setRaw(name, "true") {
				log.Info("engine_large_pages", zap.String("option", name))
				break
			}
		}
	}
}

// Outcome of PlayWithRescue. When Swapped is set the caller must adopt
// Handle, even if no move was produced; the previous handle is closed.
// A nil Handle with Swapped set means the respawn failed and the caller
// has no engine until it spawns one.
type Outcome struct {
	Result  Result
	Handle  Handle
	Swapped bool
}

type Manager struct {
	spawner    Spawner
	overhead   time.Duration
	retryDelay time.Duration
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	onRespawn  func()
}

type ManagerOption func(*Manager)

func WithRetry(delay time.Duration, maxRetries int) ManagerOption {
	return func(m *Manager) {
		m.retryDelay = delay
		m.maxRetries = maxRetries
	}
}

func WithMoveOverhead(d time.Duration) ManagerOption {
	return func(m *Manager) { m.overhead = d }
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) { m.sleep = fn }
}

// WithRespawnHook is called after every successful replacement spawn.
func WithRespawnHook(fn func()) ManagerOption {
	return func(m *Manager) { m.onRespawn = fn }
}

func NewManager(sp Spawner, opts ...ManagerOption) *Manager {
	m := &Manager{
		spawner:    sp,
		overhead:   60 * time.Millisecond,
		retryDelay: 5 * time.Second,
		maxRetries: 2,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.overhead = max(20*time.Millisecond, m.overhead)
	return m
}

func (m *Manager) Spawn(ctx context.Context) (Handle, error) {
	return m.spawner.Spawn(ctx)
}

// GuardExtra is the clock margin a rescue needs on top of the retry delay.
func (m *Manager) GuardExtra() time.Duration {
	return m.overhead*5/2 + 250*time.Millisecond
}

// PlayWithRescue searches on h. On failure it respawns once and retries with
// a halved time limit, provided the clock can absorb the retry delay and
// the retry budget allows it. remaining < 0 means the clock is unknown,
// which never allows a rescue. ok=false means no move was produced.
func (m *Manager) PlayWithRescue(ctx context.Context, h Handle, pos Position, lim Limit, remaining time.Duration) (Outcome, bool) {
	log := obslog.For(ctx)

	res, err := h.Search(ctx, pos, lim)
	if err == nil {
		return Outcome{Result: res, Handle: h}, true
	}

	canWait := remaining >= 0 && remaining > m.retryDelay+m.GuardExtra()
	if !canWait || m.maxRetries <= 0 {
		log.Warn("engine_play_failed", zap.String("fallback", "instant"), zap.Error(err))
		return Outcome{}, false
	}

	fresh, err := m.spawner.Spawn(ctx)
	_ = h.Close()
	if err != nil {
		log.Error("engine_respawn_failed", zap.Error(err))
		return Outcome{Swapped: true}, false
	}
	if m.onRespawn != nil {
		m.onRespawn()
	}

	retryLim := lim.Halved()
	log.Warn("engine_play_retry",
		zap.Duration("delay", m.retryDelay),
		zap.Int("max_retries", m.maxRetries),
		zap.Duration("movetime", retryLim.MoveTime),
	)
	if err := m.sleep(ctx, m.retryDelay); err != nil {
		return Outcome{Handle: fresh, Swapped: true}, false
	}
	res, err = fresh.Search(ctx, pos, retryLim)
	if err != nil {
		log.Warn("engine_play_failed_after_retry", zap.Error(err))
		return Outcome{Handle: fresh, Swapped: true}, false
	}
	return Outcome{Result: res, Handle: fresh, Swapped: true}, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
