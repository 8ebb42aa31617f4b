package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/book"
	"github.com/park285/Cheese-Lichess-bot/internal/engine"
	"github.com/park285/Cheese-Lichess-bot/internal/pipeline"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
	"github.com/park285/Cheese-Lichess-bot/internal/store"
)

const me = "cheese"

type fakeClient struct {
	mu      sync.Mutex
	export  *platform.ExportedGame
	exports int
	resigns int
}

func (c *fakeClient) MakeMove(context.Context, string, string) error { return nil }

func (c *fakeClient) Resign(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resigns++
	return nil
}

func (c *fakeClient) ExportGame(context.Context, string) (*platform.ExportedGame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exports++
	if c.export == nil {
		return nil, errors.New("not found")
	}
	cp := *c.export
	return &cp, nil
}

type fakeHandle struct{ closed atomic.Int32 }

func (h *fakeHandle) Search(context.Context, engine.Position, engine.Limit) (engine.Result, error) {
	return engine.Result{}, nil
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

type fakeSpawner struct{ h *fakeHandle }

func (s fakeSpawner) Spawn(context.Context) (engine.Handle, error) { return s.h, nil }

type turnRecord struct {
	color     board.Color
	remaining time.Duration
	ply       int
}

type fakePlayer struct {
	mu    sync.Mutex
	turns []turnRecord
}

func (p *fakePlayer) Play(_ context.Context, t pipeline.Turn) pipeline.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turnRecord{t.Color, t.Remaining, t.Board.Ply()})
	return pipeline.Outcome{Played: true, Engine: t.Engine}
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.turns)
}

type lineSource struct {
	lines []string
	i     int
}

func (s *lineSource) Next() (json.RawMessage, error) {
	if s.i >= len(s.lines) {
		return nil, io.EOF
	}
	l := s.lines[s.i]
	s.i++
	return json.RawMessage(l), nil
}

func (s *lineSource) Close() error { return nil }

func scripted(lines ...string) StreamOpener {
	return func(context.Context, string) (resilience.Source[json.RawMessage], error) {
		return &lineSource{lines: lines}, nil
	}
}

type harness struct {
	client   *fakeClient
	handle   *fakeHandle
	player   *fakePlayer
	registry *Registry
	results  *Results
	repo     *store.MemoryRepository
}

func newHarness(t *testing.T, streams StreamOpener) (*harness, *Runner) {
	t.Helper()
	h := &harness{
		client:   &fakeClient{},
		handle:   &fakeHandle{},
		player:   &fakePlayer{},
		registry: NewRegistry(nil),
		results:  NewResults(nil),
		repo:     store.NewMemoryRepository(),
	}
	r := NewRunner(Config{Me: me, EngineName: "Stockfish", ReconnectDelay: time.Millisecond}, Deps{
		Client:   h.client,
		Streams:  streams,
		Engines:  fakeSpawner{h.handle},
		Player:   h.player,
		Registry: h.registry,
		Results:  h.results,
		Recorder: h.repo,
	})
	return h, r
}

const (
	fullWhite = `{"type":"gameFull","id":"g1","white":{"id":"cheese"},"black":{"id":"rival","name":"Rival","rating":2950},"clock":{"initial":60000,"increment":0},"initialFen":"startpos","state":{"type":"gameState","moves":"","wtime":60000,"btime":60000,"winc":0,"binc":0,"status":"started"}}`
	stateE4   = `{"type":"gameState","moves":"e2e4","wtime":59000,"btime":60000,"winc":0,"binc":0,"status":"started"}`
	stateE4E5 = `{"type":"gameState","moves":"e2e4 e7e5","wtime":59000,"btime":58000,"winc":0,"binc":0,"status":"started"}`
	stateMate = `{"type":"gameState","moves":"e2e4 e7e5","wtime":59000,"btime":58000,"winc":0,"binc":0,"status":"mate","winner":"white"}`
)

func TestTerminalStatusEndsLoopAndFinalizesOnce(t *testing.T) {
	h, r := newHarness(t, scripted(fullWhite, stateE4, stateE4E5, stateMate))
	h.client.export = &platform.ExportedGame{ID: "g1", Status: "mate", Winner: "white"}
	require.True(t, h.registry.Claim(context.Background(), "g1"))

	r.Run(context.Background(), &platform.GameInfo{GameID: "g1"})

	require.Equal(t, 2, h.player.count(), "moves on the snapshot and after e7e5")
	assert.Equal(t, board.White, h.player.turns[0].color)
	assert.Equal(t, 60*time.Second, h.player.turns[0].remaining)
	assert.Equal(t, 3, h.player.turns[1].ply)

	assert.Equal(t, Tally{Wins: 1}, h.results.Snapshot())
	assert.False(t, h.registry.Has("g1"))
	assert.EqualValues(t, 1, h.handle.closed.Load())

	rec, ok := h.repo.Get("g1")
	require.True(t, ok)
	assert.Equal(t, OutcomeWin, rec.Outcome)
	assert.Equal(t, "Rival", rec.Opponent)
	assert.Equal(t, "1+0", rec.TimeControl)
	assert.Equal(t, []string{"e4", "e5"}, rec.MovesSAN)
	assert.NotEmpty(t, rec.Opening)
	assert.Equal(t, book.OpeningName([]string{"e2e4", "e7e5"}), rec.Opening)
}

type countingSpawner struct {
	h     *fakeHandle
	calls atomic.Int32
}

func (s *countingSpawner) Spawn(context.Context) (engine.Handle, error) {
	s.calls.Add(1)
	return s.h, nil
}

// losingPlayer reports a dropped engine after its first turn, as the
// pipeline does when a rescue respawn fails.
type losingPlayer struct {
	engines []engine.Handle
}

func (p *losingPlayer) Play(_ context.Context, t pipeline.Turn) pipeline.Outcome {
	p.engines = append(p.engines, t.Engine)
	if len(p.engines) == 1 {
		return pipeline.Outcome{Played: true}
	}
	return pipeline.Outcome{Played: true, Engine: t.Engine}
}

func TestDroppedEngineIsRespawnedBeforeNextTurn(t *testing.T) {
	h, r := newHarness(t, scripted(fullWhite, stateE4, stateE4E5, stateMate))
	h.client.export = &platform.ExportedGame{ID: "g1", Status: "mate", Winner: "white"}
	sp := &countingSpawner{h: h.handle}
	player := &losingPlayer{}
	r.d.Engines = sp
	r.d.Player = player

	r.Run(context.Background(), &platform.GameInfo{GameID: "g1"})

	require.Len(t, player.engines, 2)
	assert.Same(t, h.handle, player.engines[0])
	assert.Same(t, h.handle, player.engines[1], "second turn gets a fresh engine")
	assert.EqualValues(t, 2, sp.calls.Load(), "start plus one respawn")
}

func TestUnfinishedGameIsNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opens := 0
	h, r := newHarness(t, func(context.Context, string) (resilience.Source[json.RawMessage], error) {
		opens++
		if opens > 1 {
			cancel()
			return nil, context.Canceled
		}
		return &lineSource{lines: []string{fullWhite}}, nil
	})
	h.client.export = &platform.ExportedGame{ID: "g1", Status: "started"}

	r.Run(ctx, &platform.GameInfo{GameID: "g1"})

	assert.Equal(t, 1, h.player.count())
	assert.Equal(t, Tally{}, h.results.Snapshot())
	assert.False(t, h.registry.Has("g1"))
}

func TestTerminalSnapshotNeverMoves(t *testing.T) {
	aborted := `{"type":"gameFull","id":"g1","white":{"id":"cheese"},"black":{"id":"rival"},"state":{"type":"gameState","moves":"","status":"aborted"}}`
	h, r := newHarness(t, scripted(aborted))
	h.client.export = &platform.ExportedGame{ID: "g1", Status: "aborted"}

	r.Run(context.Background(), &platform.GameInfo{GameID: "g1"})

	assert.Zero(t, h.player.count())
	assert.Equal(t, Tally{Draws: 1}, h.results.Snapshot())
	assert.Zero(t, h.repo.Len(), "unannounced games are not saved")
}

func TestColorFallsBackToExport(t *testing.T) {
	anon := `{"type":"gameFull","id":"g1","white":{},"black":{},"state":{"type":"gameState","moves":"e2e4","status":"started"}}`
	h, r := newHarness(t, scripted(anon, stateMate))
	h.client.export = &platform.ExportedGame{
		ID:      "g1",
		Status:  "mate",
		Winner:  "white",
		Players: platform.ExportPlayers{Black: platform.ExportPlayer{User: platform.User{ID: "Cheese"}}},
	}

	r.Run(context.Background(), &platform.GameInfo{GameID: "g1"})

	require.Equal(t, 1, h.player.count())
	assert.Equal(t, board.Black, h.player.turns[0].color)
	assert.Less(t, h.player.turns[0].remaining, time.Duration(0), "clock absent")
	assert.Equal(t, Tally{Losses: 1}, h.results.Snapshot())
	assert.Equal(t, 2, h.client.exports, "one color lookup, one finalize")
}

func TestConcurrentClaimsSucceedOnce(t *testing.T) {
	reg := NewRegistry(nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Go(func() {
			if reg.Claim(context.Background(), "g1") {
				wins.Add(1)
			}
		})
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.Equal(t, []string{"g1"}, reg.IDs())
	assert.True(t, reg.Release(context.Background(), "g1"))
	assert.False(t, reg.Release(context.Background(), "g1"))
}

// gatedSource blocks until the test opens the gate, then ends the game.
type gatedSource struct {
	gate <-chan struct{}
	done bool
}

func (s *gatedSource) Next() (json.RawMessage, error) {
	if s.done {
		return nil, io.EOF
	}
	<-s.gate
	s.done = true
	return json.RawMessage(`{"type":"gameState","moves":"","status":"aborted"}`), nil
}

func (s *gatedSource) Close() error { return nil }

func TestManagerIgnoresDuplicateGameStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	h, r := newHarness(t, func(context.Context, string) (resilience.Source[json.RawMessage], error) {
		return &gatedSource{gate: gate}, nil
	})
	m := NewManager(r, h.registry, 2)
	info := &platform.GameInfo{GameID: "g1", Color: "white"}

	require.True(t, m.Start(context.Background(), info))
	assert.False(t, m.Start(context.Background(), info))
	assert.Equal(t, 1, m.Active())

	close(gate)
	m.Wait()
	assert.Zero(t, m.Active())
	assert.EqualValues(t, 1, h.handle.closed.Load())
}

func TestManagerLimitsConcurrentGames(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate := make(chan struct{})
	var opened atomic.Int32
	h, r := newHarness(t, func(context.Context, string) (resilience.Source[json.RawMessage], error) {
		opened.Add(1)
		return &gatedSource{gate: gate}, nil
	})
	m := NewManager(r, h.registry, 1)

	require.True(t, m.Start(context.Background(), &platform.GameInfo{GameID: "a"}))
	require.True(t, m.Start(context.Background(), &platform.GameInfo{GameID: "b"}))
	require.Eventually(t, func() bool { return opened.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, opened.Load(), "second game waits for a slot")

	close(gate)
	m.Wait()
	assert.EqualValues(t, 2, opened.Load())
}

func TestOutcomeFor(t *testing.T) {
	cases := []struct {
		status, winner string
		mine           board.Color
		want           string
	}{
		{"mate", "white", board.White, OutcomeWin},
		{"resign", "white", board.Black, OutcomeLoss},
		{"outoftime", "", board.White, OutcomeDraw},
		{"draw", "", board.Black, OutcomeDraw},
		{"stalemate", "", board.White, OutcomeDraw},
		{"variantEnd", "black", board.White, ""},
		{"started", "", board.White, ""},
		{"created", "", board.Black, ""},
		{"", "", board.White, ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, OutcomeFor(c.status, c.winner, c.mine), "%s/%s", c.status, c.winner)
	}
}

func TestPendingSweepAndCase(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewPending(30*time.Second, nil)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	p.Add(ctx, "SomeBot")
	assert.True(t, p.Has(ctx, "somebot"))
	assert.Equal(t, 1, p.Count())

	now = now.Add(31 * time.Second)
	assert.Equal(t, []string{"somebot"}, p.Sweep())
	assert.Zero(t, p.Count())
	assert.False(t, p.Remove(ctx, "somebot"))
}

type fakeUsers struct {
	calls atomic.Int32
	user  *platform.PublicUser
	err   error
}

func (f *fakeUsers) User(context.Context, string) (*platform.PublicUser, error) {
	f.calls.Add(1)
	return f.user, f.err
}

func TestRatingsCacheAndFallback(t *testing.T) {
	users := &fakeUsers{user: &platform.PublicUser{Perfs: map[string]platform.Perf{"blitz": {Rating: 3100}}}}
	r := NewRatings(users, time.Minute, nil)
	ctx := context.Background()

	n, ok := r.Get(ctx, "Bot", PerfRapid)
	require.True(t, ok)
	assert.Equal(t, 3100, n, "falls back to blitz")
	_, _ = r.Get(ctx, "bot", PerfRapid)
	assert.EqualValues(t, 1, users.calls.Load())

	failing := &fakeUsers{err: errors.New("boom")}
	r = NewRatings(failing, time.Minute, nil)
	_, ok = r.Get(ctx, "x", PerfBlitz)
	assert.False(t, ok)
	_, _ = r.Get(ctx, "x", PerfBlitz)
	assert.EqualValues(t, 1, failing.calls.Load(), "misses are cached")
}

func TestPerfFor(t *testing.T) {
	assert.Equal(t, PerfBullet, PerfFor(179))
	assert.Equal(t, PerfBlitz, PerfFor(180))
	assert.Equal(t, PerfBlitz, PerfFor(479))
	assert.Equal(t, PerfRapid, PerfFor(600))
	assert.Equal(t, PerfRapid, PerfFor(1500))
	assert.Equal(t, PerfClassical, PerfFor(1501))
}
