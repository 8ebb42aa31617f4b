// Package poscache stores analysed positions in a JSON file shared with an
// external analysis worker, and hands cache misses to that worker as jobs.
package poscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/engine"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

const (
	SourceLocal     = "bot-local"
	SourceTransient = "transient"

	mateScore = 10000
)

// Entry is one analysed position. Score is from white's point of view.
type Entry struct {
	FEN          string `json:"fen"`
	FENFull      string `json:"fen_full,omitempty"`
	BestMove     string `json:"bestmove"`
	PV           string `json:"pv,omitempty"`
	DepthReached int    `json:"depth_reached"`
	Score        *int   `json:"score,omitempty"`
	SelDepth     int    `json:"seldepth,omitempty"`
	Nodes        int64  `json:"nodes,omitempty"`
	NPS          int64  `json:"nps,omitempty"`
	HashFull     int    `json:"hashfull,omitempty"`
	Source       string `json:"source,omitempty"`
	TS           int64  `json:"ts"`
}

func (e Entry) PVMoves() []string { return strings.Fields(e.PV) }

// SearchFunc runs the engine for the position being probed.
type SearchFunc func(ctx context.Context) (engine.Result, error)

type Cache struct {
	path        string
	queueDir    string
	offload     bool
	minDepth    int
	priority    int
	pvPlies     int
	reloadEvery time.Duration
	now         func() time.Time
	onHit       func()
	onMiss      func()

	mu        sync.Mutex
	entries   map[string]Entry
	mtime     time.Time
	lastCheck time.Time
}

type Option func(*Cache)

// WithQueue enables offload jobs into dir for misses.
func WithQueue(dir string, minDepth, priority int) Option {
	return func(c *Cache) {
		c.queueDir = strings.TrimSpace(dir)
		c.minDepth = minDepth
		c.priority = priority
	}
}

func WithOffloadOnMiss(on bool) Option {
	return func(c *Cache) { c.offload = on }
}

// WithPVPlies sets how many plies of a fresh PV are queued as follow-up jobs.
func WithPVPlies(n int) Option {
	return func(c *Cache) { c.pvPlies = n }
}

func WithReloadInterval(d time.Duration) Option {
	return func(c *Cache) { c.reloadEvery = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithHooks(onHit, onMiss func()) Option {
	return func(c *Cache) {
		c.onHit = onHit
		c.onMiss = onMiss
	}
}

// New returns a cache backed by path. An empty path yields a disabled cache
// that always searches.
func New(path string, opts ...Option) *Cache {
	c := &Cache{
		path:        strings.TrimSpace(path),
		offload:     true,
		minDepth:    22,
		priority:    5,
		pvPlies:     10,
		reloadEvery: 10 * time.Second,
		now:         time.Now,
		entries:     make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Enabled() bool { return c != nil && c.path != "" }

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Lookup returns the entry stored under the normalized form of fen.
func (c *Cache) Lookup(fen string) (Entry, bool) {
	if !c.Enabled() {
		return Entry{}, false
	}
	key, err := Normalize(fen)
	if err != nil {
		return Entry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Load reads the file, creating it empty when missing.
func (c *Cache) Load(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if _, err := os.Stat(c.path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
		if err := writeJSON(c.path, map[string]Entry{}); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mergeFileLocked(); err != nil {
		return err
	}
	c.lastCheck = c.now()
	obslog.For(ctx).Info("fen_cache_loaded", zap.String("path", c.path), zap.Int("entries", len(c.entries)))
	return nil
}

// Probe answers from the cache, or runs search and records the result.
// Misses are offloaded to the job queue before searching.
func (c *Cache) Probe(ctx context.Context, b *board.Board, search SearchFunc) (Entry, bool, error) {
	fenFull := b.FEN()
	key, keyErr := Normalize(fenFull)
	if !c.Enabled() || keyErr != nil {
		res, err := search(ctx)
		if err != nil {
			return Entry{}, false, err
		}
		return entryFromResult(key, fenFull, res, b.Turn(), SourceTransient, c.clock()), false, nil
	}
	log := obslog.For(ctx)

	c.maybeReload(ctx)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && e.BestMove != "" && b.IsLegal(e.BestMove) {
		if c.onHit != nil {
			c.onHit()
		}
		log.Debug("fen_cache_hit", zap.String("fen", key), zap.String("move", e.BestMove), zap.Int("depth", e.DepthReached))
		return e, true, nil
	}
	if c.onMiss != nil {
		c.onMiss()
	}

	tag := fmt.Sprintf("%s:ply%d", obslog.GameIDFromContext(ctx), b.Ply())
	if c.offload && c.queueDir != "" {
		if err := c.Enqueue(key, fenFull, tag); err != nil {
			log.Warn("fen_job_enqueue_failed", zap.String("fen", key), zap.Error(err))
		}
	}

	res, err := search(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	e = entryFromResult(key, fenFull, res, b.Turn(), SourceLocal, c.now())
	if res.Move == "" {
		return e, false, nil
	}

	c.mu.Lock()
	if prev, ok := c.entries[key]; !ok || prev.DepthReached <= e.DepthReached || !b.IsLegal(prev.BestMove) {
		c.entries[key] = e
	}
	err = c.persistLocked()
	c.mu.Unlock()
	if err != nil {
		log.Warn("fen_cache_persist_failed", zap.String("path", c.path), zap.Error(err))
	}

	if c.offload && c.queueDir != "" && c.pvPlies > 0 {
		c.EnqueuePV(ctx, b, res.Info.PV, tag)
	}
	return e, false, nil
}

func (c *Cache) clock() time.Time {
	if c == nil || c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Cache) maybeReload(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.reloadEvery {
		return
	}
	c.lastCheck = now

	st, err := os.Stat(c.path)
	if err != nil || !st.ModTime().After(c.mtime) {
		return
	}
	before := len(c.entries)
	if err := c.mergeFileLocked(); err != nil {
		obslog.For(ctx).Warn("fen_cache_reload_failed", zap.String("path", c.path), zap.Error(err))
		return
	}
	obslog.For(ctx).Info("fen_cache_reloaded", zap.Int("before", before), zap.Int("after", len(c.entries)))
}

// mergeFileLocked folds the file into memory, re-keying through Normalize
// and keeping the deeper entry on collision.
func (c *Cache) mergeFileLocked() error {
	st, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("stat cache: %w", err)
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	disk := map[string]Entry{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &disk); err != nil {
			return fmt.Errorf("decode cache: %w", err)
		}
	}
	mergeInto(c.entries, disk)
	c.mtime = st.ModTime()
	return nil
}

func mergeInto(dst, src map[string]Entry) {
	for k, e := range src {
		key, err := Normalize(k)
		if err != nil {
			if e.FEN == "" {
				continue
			}
			if key, err = Normalize(e.FEN); err != nil {
				continue
			}
		}
		e.FEN = key
		if prev, ok := dst[key]; ok && prev.DepthReached >= e.DepthReached {
			continue
		}
		dst[key] = e
	}
}

// persistLocked re-reads the file so concurrent writers are not clobbered,
// then writes the merged view whole.
func (c *Cache) persistLocked() error {
	if err := c.mergeFileLocked(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := writeJSON(c.path, c.entries); err != nil {
		return err
	}
	if st, err := os.Stat(c.path); err == nil {
		c.mtime = st.ModTime()
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func entryFromResult(key, fenFull string, res engine.Result, turn board.Color, source string, now time.Time) Entry {
	e := Entry{
		FEN:          key,
		FENFull:      fenFull,
		BestMove:     res.Move,
		PV:           strings.Join(res.Info.PV, " "),
		DepthReached: res.Info.Depth,
		SelDepth:     res.Info.SelDepth,
		Nodes:        res.Info.Nodes,
		NPS:          res.Info.NPS,
		HashFull:     res.Info.HashFull,
		Source:       source,
		TS:           now.Unix(),
	}
	if res.Info.Score.Known {
		v := WhiteScore(res.Info.Score, turn)
		e.Score = &v
	}
	return e
}

// WhiteScore converts a mover-relative score to white's point of view, with
// mates mapped to ±(10000 - distance).
func WhiteScore(s engine.Score, turn board.Color) int {
	v := s.CP
	if s.IsMate {
		d := s.Mate
		if d < 0 {
			d = -d
		}
		v = mateScore - d
		if s.Mate <= 0 {
			v = -v
		}
	}
	if turn == board.Black {
		v = -v
	}
	return v
}
