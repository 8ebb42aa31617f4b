// Package pipeline decides and submits one move per turn. Tiers run in a
// fixed order and the first that produces a move wins: ultra panic, hard
// panic, opening book, tablebase probe, then a timed search through the
// position cache.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/book"
	"github.com/park285/Cheese-Lichess-bot/internal/botevent"
	"github.com/park285/Cheese-Lichess-bot/internal/engine"
	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/poscache"
	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
	"github.com/park285/Cheese-Lichess-bot/internal/timemgmt"
)

const (
	SourceUltra  = "ultra"
	SourcePanic  = "panic"
	SourceBook   = "book"
	SourceTB     = "tb"
	SourceCache  = "cache"
	SourceSearch = "search"

	ultraPanicAt = 2 * time.Second
	hardPanicAt  = 12 * time.Second
	panicTime    = 60 * time.Millisecond
	microNodes   = 2000
)

var (
	errNoResult = errors.New("engine produced no result")
	errNoEngine = errors.New("no engine attached")
)

// Mover submits moves to the platform.
type Mover interface {
	MakeMove(ctx context.Context, gameID, uci string) error
	Resign(ctx context.Context, gameID string) error
}

// BookPicker offers an opening move for the side to move.
type BookPicker interface {
	Pick(b *board.Board, color board.Color) (book.Choice, bool)
}

// Turn is everything the pipeline needs for one move. Remaining < 0 means
// the clock is unknown.
type Turn struct {
	GameID      string
	Board       *board.Board
	Color       board.Color
	Engine      engine.Handle
	Remaining   time.Duration
	Increment   time.Duration
	BaseMinutes int
}

func (t Turn) clockKnown() bool { return t.Remaining >= 0 }

// Outcome reports the move played, if any. Engine is the handle the session
// must keep using; it differs from Turn.Engine after a respawn.
type Outcome struct {
	Played   bool
	Move     string
	Source   string
	Resigned bool
	Engine   engine.Handle
}

type Pipeline struct {
	mover     Mover
	engines   *engine.Manager
	books     BookPicker
	cache     *poscache.Cache
	planner   timemgmt.Planner
	gameLogs  *obslog.GameLogs
	events    botevent.Publisher
	pretty    bool
	maxPVUCIs int
	now       func() time.Time
}

type Option func(*Pipeline)

func WithBooks(b BookPicker) Option {
	return func(p *Pipeline) { p.books = b }
}

func WithCache(c *poscache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithPlanner(pl timemgmt.Planner) Option {
	return func(p *Pipeline) { p.planner = pl }
}

func WithGameLogs(g *obslog.GameLogs) Option {
	return func(p *Pipeline) { p.gameLogs = g }
}

func WithEvents(pub botevent.Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

// WithPrettyLog logs one summary line per searched move, with the PV cut to
// maxPV plies.
func WithPrettyLog(on bool, maxPV int) Option {
	return func(p *Pipeline) {
		p.pretty = on
		p.maxPVUCIs = maxPV
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(mover Mover, engines *engine.Manager, opts ...Option) *Pipeline {
	p := &Pipeline{
		mover:     mover,
		engines:   engines,
		planner:   timemgmt.Planner{Caps: timemgmt.DefaultPhaseCaps(), Jitter: timemgmt.Jitter},
		events:    botevent.Nop{},
		maxPVUCIs: 6,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play runs the tiers for one turn. Submission races ("not your turn",
// "game already over") are logged and reported as not played.
func (p *Pipeline) Play(ctx context.Context, t Turn) Outcome {
	log := obslog.For(ctx)
	out := Outcome{Engine: t.Engine}

	if t.clockKnown() && t.Remaining <= ultraPanicAt {
		return p.micro(ctx, t, out, SourceUltra)
	}

	if t.clockKnown() && t.Remaining <= hardPanicAt {
		res, err := p.quick(ctx, t, engine.Limit{MoveTime: panicTime})
		if err != nil {
			log.Warn("panic_search_failed", zap.Error(err))
			return p.micro(ctx, t, out, SourcePanic)
		}
		if res.Move == "" {
			return p.micro(ctx, t, out, SourcePanic)
		}
		return p.submit(ctx, t, out, res.Move, SourcePanic)
	}

	if p.books != nil {
		if choice, ok := p.books.Pick(t.Board, t.Color); ok {
			log.Info("book_move", zap.String("uci", choice.Move), zap.String("book", choice.Label), zap.Uint16("weight", choice.Weight))
			return p.submit(ctx, t, out, choice.Move, SourceBook)
		}
	}

	if res, err := p.quick(ctx, t, engine.Limit{Depth: 1}); err != nil {
		log.Warn("tb_probe_failed", zap.Error(err))
	} else if res.Info.TBHits > 0 && len(res.Info.PV) > 0 {
		log.Info("tb_hit", zap.String("uci", res.Info.PV[0]), zap.Int64("tbhits", res.Info.TBHits))
		return p.submit(ctx, t, out, res.Info.PV[0], SourceTB)
	}

	return p.search(ctx, t, out)
}

func (p *Pipeline) search(ctx context.Context, t Turn, out Outcome) Outcome {
	log := obslog.For(ctx)
	params := timemgmt.Params{
		Remaining:   max(0, t.Remaining),
		Increment:   t.Increment,
		Ply:         t.Board.Ply(),
		InCheck:     t.Board.InCheck(),
		Forced:      t.Board.LegalMoveCount() <= 2,
		BaseMinutes: max(1, t.BaseMinutes),
	}
	limit := engine.Limit{MoveTime: p.planner.Think(params, t.clockKnown())}
	pos := p.position(t.Board)

	handle := t.Engine
	started := p.now()
	entry, hit, err := p.cache.Probe(ctx, t.Board, func(ctx context.Context) (engine.Result, error) {
		if handle == nil {
			return engine.Result{}, errNoEngine
		}
		res, ok := p.engines.PlayWithRescue(ctx, handle, pos, limit, t.Remaining)
		if res.Swapped {
			handle = res.Handle
		}
		if !ok {
			return engine.Result{}, errNoResult
		}
		return res.Result, nil
	})
	out.Engine = handle
	if err != nil {
		log.Warn("search_failed", zap.Duration("movetime", limit.MoveTime), zap.Error(err))
		t.Engine = handle
		return p.micro(ctx, t, out, SourcePanic)
	}
	if entry.BestMove == "" {
		return p.resign(ctx, t, out)
	}

	source := SourceSearch
	if hit {
		source = SourceCache
	}
	out = p.submit(ctx, t, out, entry.BestMove, source)
	if out.Played {
		p.logMove(ctx, t, entry, p.now().Sub(started))
	}
	return out
}

// micro plays something immediately: a tiny node-limited search, else the
// first legal move, else resigns.
func (p *Pipeline) micro(ctx context.Context, t Turn, out Outcome, source string) Outcome {
	mv := ""
	if res, err := p.quick(ctx, t, engine.Limit{Nodes: microNodes}); err == nil {
		mv = res.Move
	}
	if mv == "" {
		mv, _ = t.Board.FirstLegal()
	}
	if mv == "" {
		return p.resign(ctx, t, out)
	}
	return p.submit(ctx, t, out, mv, source)
}

func (p *Pipeline) resign(ctx context.Context, t Turn, out Outcome) Outcome {
	log := obslog.For(ctx)
	if err := p.mover.Resign(ctx, t.GameID); err != nil {
		if !resilience.IsBenign(err) {
			log.Warn("resign_failed", zap.Error(err))
		}
		return out
	}
	log.Info("resigned_no_move")
	out.Resigned = true
	return out
}

func (p *Pipeline) submit(ctx context.Context, t Turn, out Outcome, mv, source string) Outcome {
	log := obslog.For(ctx)
	if err := p.mover.MakeMove(ctx, t.GameID, mv); err != nil {
		if resilience.IsBenign(err) {
			log.Info("move_race", zap.String("uci", mv), zap.String("source", source), zap.Error(err))
		} else {
			log.Warn("move_submit_failed", zap.String("uci", mv), zap.String("source", source), zap.Error(err))
		}
		return out
	}
	if err := t.Board.Push(mv); err != nil {
		log.Warn("move_push_failed", zap.String("uci", mv), zap.Error(err))
	}
	metrics.RecordMove(source)
	botevent.Emit(p.events, botevent.MovePlayed, t.GameID, map[string]any{"uci": mv, "source": source})
	if source != SourceSearch && source != SourceCache {
		log.Info("move_played", zap.String("uci", mv), zap.String("source", source), zap.Int("fullmove", t.Board.Fullmove()))
	}
	out.Played = true
	out.Move = mv
	out.Source = source
	return out
}

// quick runs a short search on the current handle without rescue.
func (p *Pipeline) quick(ctx context.Context, t Turn, lim engine.Limit) (engine.Result, error) {
	if t.Engine == nil {
		return engine.Result{}, errNoEngine
	}
	return t.Engine.Search(ctx, p.position(t.Board), lim)
}

func (p *Pipeline) position(b *board.Board) engine.Position {
	fen := b.StartFEN()
	if fen == board.StartFEN {
		fen = ""
	}
	return engine.Position{FEN: fen, Moves: b.Moves()}
}
