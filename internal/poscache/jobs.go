package poscache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

const jobVersion = 1

// Job asks the external worker to analyse one position.
type Job struct {
	FEN      string `json:"fen"`
	FENFull  string `json:"fen_full"`
	MinDepth int    `json:"min_depth"`
	Priority int    `json:"priority"`
	TS       int64  `json:"ts"`
	Tag      string `json:"tag"`
	Version  int    `json:"version"`
}

// Enqueue writes a job file named after the position. A job for the same
// position overwrites the previous one.
func (c *Cache) Enqueue(key, fenFull, tag string) error {
	if c == nil || c.queueDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.queueDir, 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	job := Job{
		FEN:      key,
		FENFull:  fenFull,
		MinDepth: c.minDepth,
		Priority: c.priority,
		TS:       c.clock().Unix(),
		Tag:      tag,
		Version:  jobVersion,
	}
	return writeJSON(filepath.Join(c.queueDir, JobName(key)+".json"), job)
}

// EnqueuePV queues the positions reached along pv, up to the configured
// number of plies. It stops at the first move that does not apply.
func (c *Cache) EnqueuePV(ctx context.Context, b *board.Board, pv []string, tag string) int {
	if c == nil || c.queueDir == "" || c.pvPlies <= 0 {
		return 0
	}
	log := obslog.For(ctx)
	walk := b.Clone()
	queued := 0
	for i, mv := range pv {
		if i >= c.pvPlies {
			break
		}
		if err := walk.Push(mv); err != nil {
			break
		}
		fen := walk.FEN()
		key, err := Normalize(fen)
		if err != nil {
			break
		}
		if err := c.Enqueue(key, fen, fmt.Sprintf("%s#pv%d", tag, i+1)); err != nil {
			log.Warn("fen_job_enqueue_failed", zap.String("fen", key), zap.Error(err))
			continue
		}
		queued++
	}
	return queued
}
