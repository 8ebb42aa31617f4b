package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/engine"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/poscache"
)

const resignProbeTime = 50 * time.Millisecond

// ResignPolicy gives up lost positions once the game is long enough.
type ResignPolicy struct {
	Enabled bool
	// AfterMove is the first fullmove at which resigning is considered.
	AfterMove int
	// Threshold in centipawns; the mover resigns below -Threshold.
	Threshold int
}

// ShouldResign runs a shallow search and compares the mover's score with
// the threshold. Search failures never resign.
func (rp ResignPolicy) ShouldResign(ctx context.Context, h engine.Handle, b *board.Board) bool {
	if !rp.Enabled || h == nil || b.Fullmove() < rp.AfterMove {
		return false
	}
	fen := b.StartFEN()
	if fen == board.StartFEN {
		fen = ""
	}
	res, err := h.Search(ctx, engine.Position{FEN: fen, Moves: b.Moves()}, engine.Limit{MoveTime: resignProbeTime})
	if err != nil || !res.Info.Score.Known {
		return false
	}
	// Mover-relative, mates folded to ±10000.
	score := poscache.WhiteScore(res.Info.Score, board.White)
	if score < -rp.Threshold {
		obslog.For(ctx).Info("resign_threshold", zap.Int("score", score), zap.Int("threshold", rp.Threshold))
		return true
	}
	return false
}
