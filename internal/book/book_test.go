package book

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
)

type mapSource map[string]uint16

func (m mapSource) Lookup(string) ([]Candidate, error) {
	out := make([]Candidate, 0, len(m))
	for mv, w := range m {
		out = append(out, Candidate{Move: mv, Weight: w})
	}
	return out, nil
}

type failingSource struct{}

func (failingSource) Lookup(string) ([]Candidate, error) { return nil, errors.New("corrupt") }

func TestBestMovePrefersHeavierAcrossBooks(t *testing.T) {
	books := []Named{
		{Label: "A", Source: mapSource{"e2e4": 10}},
		{Label: "B", Source: mapSource{"d2d4": 20}},
	}
	got, ok := Choose(books, board.StartFEN, BestMove, nil)
	require.True(t, ok)
	assert.Equal(t, "d2d4", got.Move)
	assert.Equal(t, "B", got.Label)
}

func TestBestMoveTieGoesToEarlierBook(t *testing.T) {
	books := []Named{
		{Label: "A", Source: mapSource{"e2e4": 15}},
		{Label: "B", Source: mapSource{"d2d4": 15}},
	}
	got, ok := Choose(books, board.StartFEN, BestMove, nil)
	require.True(t, ok)
	assert.Equal(t, "e2e4", got.Move)
	assert.Equal(t, "A", got.Label)
}

func TestBestMoveTieSameBookUsesMoveText(t *testing.T) {
	books := []Named{{Label: "A", Source: mapSource{"g1f3": 5, "c2c4": 5}}}
	got, ok := Choose(books, board.StartFEN, BestMove, nil)
	require.True(t, ok)
	assert.Equal(t, "c2c4", got.Move)
}

func TestFirstMatchUsesFirstBookWithEntries(t *testing.T) {
	books := []Named{
		{Label: "broken", Source: failingSource{}},
		{Label: "A", Source: mapSource{"e2e4": 1, "c2c4": 3}},
		{Label: "B", Source: mapSource{"d2d4": 100}},
	}
	got, ok := Choose(books, board.StartFEN, FirstMatch, nil)
	require.True(t, ok)
	assert.Equal(t, "c2c4", got.Move)
	assert.Equal(t, "A", got.Label)
}

func TestChooseSkipsIllegalMoves(t *testing.T) {
	b := board.New()
	books := []Named{{Label: "A", Source: mapSource{"e2e5": 50, "e2e4": 1}}}
	got, ok := Choose(books, b.FEN(), BestMove, b.IsLegal)
	require.True(t, ok)
	assert.Equal(t, "e2e4", got.Move)

	_, ok = Choose([]Named{{Label: "A", Source: mapSource{"e2e5": 50}}}, b.FEN(), FirstMatch, b.IsLegal)
	assert.False(t, ok)
}

func TestSelectorModes(t *testing.T) {
	white := Named{Label: "W", Source: mapSource{"e2e4": 10}}
	draw := Named{Label: "D", Source: mapSource{"d2d4": 30}}
	modes := NewModeSwitch("decisive", "")
	s := &Selector{
		White:  Group{Books: []Named{white}, Policy: BestMove},
		Draw:   Group{Books: []Named{draw, white}, Policy: FirstMatch},
		Modes:  modes,
		MaxPly: 20,
	}

	got, ok := s.Pick(board.New(), board.White)
	require.True(t, ok)
	assert.Equal(t, "e2e4", got.Move)

	modes.current = Mixed
	books, policy := s.Books(board.White)
	assert.Equal(t, []string{"W", "D", "W"}, labelsOf(books), "duplicates kept in mixed mode")
	assert.Equal(t, BestMove, policy)
	got, ok = s.Pick(board.New(), board.White)
	require.True(t, ok)
	assert.Equal(t, "d2d4", got.Move)

	modes.current = Drawish
	books, policy = s.Books(board.White)
	assert.Equal(t, []string{"D", "W"}, labelsOf(books))
	assert.Equal(t, FirstMatch, policy)

	_, ok = s.Pick(board.New(), board.Black)
	assert.True(t, ok, "drawish list serves both colors")
}

func TestSelectorPlyCeiling(t *testing.T) {
	s := &Selector{
		White:  Group{Books: []Named{{Label: "W", Source: mapSource{"g1f3": 1, "b1c3": 1}}}, Policy: BestMove},
		Black:  Group{Books: []Named{{Label: "B", Source: mapSource{"g8f6": 1}}}, Policy: BestMove},
		Modes:  NewModeSwitch("decisive", ""),
		MaxPly: 2,
	}
	b := board.New()
	require.NoError(t, b.Rebuild([]string{"g1f3", "g8f6"}))
	_, ok := s.Pick(b, board.White)
	assert.False(t, ok, "ply 3 is past the ceiling")

	s.MaxPly = 0
	_, ok = s.Pick(board.New(), board.White)
	assert.False(t, ok, "zero turns the book off")
}

func labelsOf(books []Named) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Label)
	}
	return out
}

func TestModeSwitchToggleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode.txt")
	s := NewModeSwitch("mixed", path)
	assert.Equal(t, Mixed, s.Current())

	require.NoError(t, os.WriteFile(path, []byte("Drawish\n"), 0o644))
	assert.Equal(t, Drawish, s.Refresh())

	require.NoError(t, os.WriteFile(path, []byte("nonsense"), 0o644))
	assert.Equal(t, Mixed, s.Refresh(), "invalid content falls back to the default")

	s = NewModeSwitch("bogus", "")
	assert.Equal(t, Decisive, s.Current())
}

func TestModeSwitchWatch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "mode.txt")
	s := NewModeSwitch("decisive", path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("drawish"), 0o644))
	require.Eventually(t, func() bool { return s.Current() == Drawish }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestModeSwitchWatchRefreshesDuringSteadyWrites(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "mode.txt")
	require.NoError(t, os.WriteFile(path, []byte("decisive"), 0o644))
	s := NewModeSwitch("decisive", path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = os.WriteFile(path, []byte("mixed"), 0o644)
			}
		}
	}()

	// Writes arrive faster than the debounce window the whole time.
	require.Eventually(t, func() bool { return s.Current() == Mixed }, 3*time.Second, 10*time.Millisecond)

	close(stop)
	<-writerDone
	cancel()
	require.NoError(t, <-done)
}

func TestOpeningName(t *testing.T) {
	assert.Contains(t, OpeningName([]string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"}), "Ruy Lopez")
	assert.Equal(t, OpeningName([]string{"e2e4", "e7e5"}), OpeningName([]string{"e2e4", "e7e5", "a1a8"}), "stops at the first illegal move")
}

func TestLoadFromPathErrors(t *testing.T) {
	_, err := LoadFromPath("")
	assert.Error(t, err)
	_, err = LoadFromPath(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
