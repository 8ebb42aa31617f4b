package session

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
)

const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeDraw = "draw"
)

// decisiveStatuses carry a winner when the game was not drawn.
var decisiveStatuses = map[string]struct{}{
	"mate":      {},
	"resign":    {},
	"timeout":   {},
	"outoftime": {},
	"abandoned": {},
	"nostart":   {},
}

// OutcomeFor classifies a finished game for the side we played. An empty
// result means the status is not countable; unfinished games never count.
func OutcomeFor(status, winner string, mine board.Color) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if !platform.IsTerminal(status) {
		return ""
	}
	w := board.ParseColor(winner)
	if _, ok := decisiveStatuses[status]; ok {
		switch {
		case w == board.NoColor:
			return OutcomeDraw
		case w == mine:
			return OutcomeWin
		default:
			return OutcomeLoss
		}
	}
	if status == "draw" || w == board.NoColor {
		return OutcomeDraw
	}
	return ""
}

// Tally is a snapshot of the result counters.
type Tally struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// Results counts finished games, mirrored to metrics and the shared store.
type Results struct {
	remote *RedisStore

	mu sync.Mutex
	t  Tally
}

func NewResults(remote *RedisStore) *Results {
	return &Results{remote: remote}
}

func (r *Results) Record(ctx context.Context, outcome string) {
	r.mu.Lock()
	switch outcome {
	case OutcomeWin:
		r.t.Wins++
	case OutcomeLoss:
		r.t.Losses++
	case OutcomeDraw:
		r.t.Draws++
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	metrics.RecordResult(outcome)
	if r.remote != nil {
		if err := r.remote.IncrResult(ctx, outcome); err != nil {
			obslog.For(ctx).Warn("remote_result_failed", zap.String("outcome", outcome), zap.Error(err))
		}
	}
}

func (r *Results) Snapshot() Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t
}
