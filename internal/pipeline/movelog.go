package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/poscache"
)

// logMove writes the searched move to the process log and the game's JSONL
// file.
func (p *Pipeline) logMove(ctx context.Context, t Turn, e poscache.Entry, elapsed time.Duration) {
	fullmove := t.Board.Fullmove()
	var clockMS, incMS *int64
	if t.clockKnown() {
		c, i := t.Remaining.Milliseconds(), t.Increment.Milliseconds()
		clockMS, incMS = &c, &i
	}

	if p.pretty {
		obslog.For(ctx).Info(prettyLine(fullmove, e, elapsed, t.Remaining, p.maxPVUCIs))
	} else {
		obslog.For(ctx).Info("move_played",
			zap.Int("fullmove", fullmove),
			zap.String("uci", e.BestMove),
			zap.Int("depth", e.DepthReached),
			zap.Intp("score_cp_white_pov", e.Score),
			zap.Duration("elapsed", elapsed),
		)
	}

	p.gameLogs.Write(t.GameID, "move_played",
		zap.String("gid", t.GameID),
		zap.Int("fullmove", fullmove),
		zap.String("uci", e.BestMove),
		zap.Int("depth", e.DepthReached),
		zap.Int("seldepth", e.SelDepth),
		zap.Int64("nodes", e.Nodes),
		zap.Int64("nps", e.NPS),
		zap.Int("hashfull", e.HashFull),
		zap.Intp("score_cp_white_pov", e.Score),
		zap.String("pv_uci", e.PV),
		zap.Float64("elapsed_s", roundMillis(elapsed)),
		zap.Int64p("our_clock_ms_before", clockMS),
		zap.Int64p("our_inc_ms", incMS),
	)
}

func prettyLine(fullmove int, e poscache.Entry, elapsed, remaining time.Duration, maxPV int) string {
	clock := "n/a"
	if remaining >= 0 {
		clock = fmt.Sprintf("%ds", int(remaining.Seconds()))
	}
	return fmt.Sprintf("Move %d: %s  [d=%d/%s | nps=%s | nodes=%s | hash=%s | score=%s | %.2fs | clock=%s]  pv: %s",
		fullmove, e.BestMove,
		e.DepthReached, orDash(int64(e.SelDepth)),
		orDash(e.NPS), orDash(e.Nodes), orDash(int64(e.HashFull)),
		scoreText(e.Score), elapsed.Seconds(), clock,
		CompactPV(e.PV, maxPV),
	)
}

// CompactPV keeps the first n plies of a space-separated PV and marks the
// cut with an ellipsis.
func CompactPV(pv string, n int) string {
	moves := strings.Fields(pv)
	if n <= 0 || len(moves) <= n {
		return strings.Join(moves, " ")
	}
	return strings.Join(moves[:n], " ") + " …"
}

func orDash(v int64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprint(v)
}

func scoreText(s *int) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprint(*s)
}

func roundMillis(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}
