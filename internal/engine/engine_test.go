package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSpawner(t *testing.T, cfg Config, env ...string) (*ProcessSpawner, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "uci.log")
	cfg.Path = os.Args[0]
	cfg.Env = append([]string{"FAKE_UCI_ENGINE=1", "FAKE_UCI_LOG=" + logPath}, env...)
	sp, err := NewProcessSpawner(cfg)
	require.NoError(t, err)
	return sp, logPath
}

func TestSpawnAppliesAdvertisedOptions(t *testing.T) {
	sp, logPath := fakeSpawner(t, Config{
		Threads:        4,
		HashMB:         2048,
		MoveOverheadMS: 60,
		UseLargePages:  true,
		SyzygyPath:     "/tb",
	})

	h, err := sp.Spawn(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	log := string(raw)

	assert.Contains(t, log, "setoption name Threads value 4")
	assert.Contains(t, log, "setoption name Hash value 512", "hash is clamped to the advertised max")
	assert.Contains(t, log, "setoption name Move Overhead value 60")
	assert.Contains(t, log, "setoption name UseLargePages value true")
	assert.Contains(t, log, "setoption name SyzygyPath value /tb")
	assert.NotContains(t, log, "SyzygyProbeDepth", "unadvertised options are skipped")
	assert.NotContains(t, log, "Use Large Pages")
	assert.Contains(t, log, "go nodes 1", "engine is primed after configuration")
}

func TestProcessSearchParsesInfo(t *testing.T) {
	sp, _ := fakeSpawner(t, Config{Threads: 1}, "FAKE_UCI_BESTMOVE=d2d4")
	h, err := sp.Spawn(context.Background())
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Search(context.Background(), Position{Moves: []string{"e2e4"}}, Limit{MoveTime: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "d2d4", res.Move)
	assert.Equal(t, "e7e5", res.Ponder)
	assert.Equal(t, 12, res.Info.Depth)
	assert.Equal(t, 18, res.Info.SelDepth)
	assert.EqualValues(t, 123456, res.Info.Nodes)
	assert.Equal(t, 34, res.Info.Score.CP)
	assert.Equal(t, []string{"d2d4", "e7e5", "g1f3"}, res.Info.PV)
}

func TestSearchTimeoutMarksBroken(t *testing.T) {
	sp, _ := fakeSpawner(t, Config{Threads: 1}, "FAKE_UCI_HANG=1")
	h, err := sp.Spawn(context.Background())
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = h.Search(ctx, Position{}, Limit{Depth: 5})
	require.Error(t, err)

	_, err = h.Search(context.Background(), Position{}, Limit{Depth: 5})
	assert.ErrorIs(t, err, ErrEngineBroken)
}

func TestParseOption(t *testing.T) {
	spec, ok := parseOption("option name Move Overhead type spin default 10 min 0 max 5000")
	require.True(t, ok)
	assert.Equal(t, "Move Overhead", spec.Name)
	assert.Equal(t, "spin", spec.Type)
	assert.True(t, spec.HasMax)
	assert.Equal(t, 5000, spec.Max)
	assert.False(t, spec.InRange(6000))

	_, ok = parseOption("id name Foo")
	assert.False(t, ok)
}

func TestParseInfoMate(t *testing.T) {
	var info Info
	parseInfo("info depth 30 score mate -3 nodes 10 pv h7h8", &info)
	assert.True(t, info.Score.IsMate)
	assert.Equal(t, -MateValue+3, info.Score.Centipawns())
	parseInfo("info string NNUE evaluation enabled", &info)
	assert.Equal(t, 30, info.Depth)
}

type fakeHandle struct {
	results []error
	limits  []Limit
	closed  bool
	move    string
}

func (f *fakeHandle) Search(_ context.Context, _ Position, lim Limit) (Result, error) {
	f.limits = append(f.limits, lim)
	if len(f.results) > 0 {
		err := f.results[0]
		f.results = f.results[1:]
		if err != nil {
			return Result{}, err
		}
	}
	return Result{Move: f.move}, nil
}

func (f *fakeHandle) Close() error {
	f.closed = true
	return nil
}

type fakeSpawn struct {
	next  *fakeHandle
	err   error
	calls int
}

func (s *fakeSpawn) Spawn(context.Context) (Handle, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.next, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestPlayWithRescueSwapsHandle(t *testing.T) {
	old := &fakeHandle{results: []error{errors.New("timeout")}}
	fresh := &fakeHandle{move: "g1f3"}
	sp := &fakeSpawn{next: fresh}
	respawns := 0
	m := NewManager(sp, WithRetry(5*time.Second, 2), WithSleep(noSleep), WithRespawnHook(func() { respawns++ }))

	out, ok := m.PlayWithRescue(context.Background(), old, Position{}, Limit{MoveTime: time.Second}, 30*time.Second)
	require.True(t, ok)
	assert.True(t, out.Swapped)
	assert.Same(t, fresh, out.Handle)
	assert.Equal(t, "g1f3", out.Result.Move)
	assert.True(t, old.closed)
	assert.Equal(t, 500*time.Millisecond, fresh.limits[0].MoveTime)
	assert.Equal(t, 1, respawns)
}

func TestPlayWithRescueDropsBrokenHandleWhenRespawnFails(t *testing.T) {
	old := &fakeHandle{results: []error{errors.New("crash")}}
	sp := &fakeSpawn{err: errors.New("binary missing")}
	respawns := 0
	m := NewManager(sp, WithRetry(time.Second, 2), WithSleep(noSleep), WithRespawnHook(func() { respawns++ }))

	out, ok := m.PlayWithRescue(context.Background(), old, Position{}, Limit{MoveTime: time.Second}, time.Minute)
	assert.False(t, ok)
	assert.True(t, out.Swapped, "caller must drop the closed handle")
	assert.Nil(t, out.Handle)
	assert.True(t, old.closed)
	assert.Equal(t, 1, sp.calls)
	assert.Zero(t, respawns)
}

func TestPlayWithRescueSkippedWhenLowOnTime(t *testing.T) {
	old := &fakeHandle{results: []error{errors.New("crash")}}
	sp := &fakeSpawn{next: &fakeHandle{}}
	m := NewManager(sp, WithRetry(5*time.Second, 2), WithSleep(noSleep))

	_, ok := m.PlayWithRescue(context.Background(), old, Position{}, Limit{MoveTime: time.Second}, 5*time.Second)
	assert.False(t, ok)
	assert.Zero(t, sp.calls)
	assert.False(t, old.closed)

	_, ok = m.PlayWithRescue(context.Background(), &fakeHandle{results: []error{errors.New("crash")}}, Position{}, Limit{Depth: 1}, -1)
	assert.False(t, ok, "unknown clock never rescues")
}

func TestPlayWithRescueDisabledByBudget(t *testing.T) {
	sp := &fakeSpawn{next: &fakeHandle{}}
	m := NewManager(sp, WithRetry(time.Second, 0), WithSleep(noSleep))
	_, ok := m.PlayWithRescue(context.Background(), &fakeHandle{results: []error{errors.New("x")}}, Position{}, Limit{Nodes: 100}, time.Minute)
	assert.False(t, ok)
	assert.Zero(t, sp.calls)
}

func TestLimitHalvedKeepsDepthAndFloor(t *testing.T) {
	assert.Equal(t, Limit{Depth: 10}, Limit{Depth: 10}.Halved())
	assert.Equal(t, 20*time.Millisecond, Limit{MoveTime: 30 * time.Millisecond}.Halved().MoveTime)
}

func TestBuildCommands(t *testing.T) {
	assert.Equal(t, "position startpos moves e2e4 e7e5", buildPositionCommand(Position{Moves: []string{"e2e4", "e7e5"}}))
	cmd, err := buildGoCommand(Limit{MoveTime: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "go movetime 1500", cmd)
	_, err = buildGoCommand(Limit{})
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix(buildPositionCommand(Position{FEN: "8/8/8/8/8/8/8/K1k5 w - - 0 1"}), "position fen "))
}

func TestParseThreads(t *testing.T) {
	assert.Equal(t, 0, ParseThreads("auto"))
	assert.Equal(t, 3, ParseThreads("3"))
	assert.GreaterOrEqual(t, AutoThreads(64), 1)
}
