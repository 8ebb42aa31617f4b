package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/book"
	"github.com/park285/Cheese-Lichess-bot/internal/botevent"
	"github.com/park285/Cheese-Lichess-bot/internal/chat"
	"github.com/park285/Cheese-Lichess-bot/internal/engine"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/pipeline"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
	"github.com/park285/Cheese-Lichess-bot/internal/store"
)

const finalizeTimeout = 15 * time.Second

// GameClient is the part of the platform API a session calls.
type GameClient interface {
	pipeline.Mover
	ExportGame(ctx context.Context, gameID string) (*platform.ExportedGame, error)
}

// StreamOpener opens the event stream of one game.
type StreamOpener func(ctx context.Context, gameID string) (resilience.Source[json.RawMessage], error)

// Player decides and submits a move for one turn.
type Player interface {
	Play(ctx context.Context, t pipeline.Turn) pipeline.Outcome
}

type Config struct {
	Me                 string
	EngineName         string
	DefaultBaseMinutes int
	ReconnectDelay     time.Duration
	Resign             pipeline.ResignPolicy
}

type Deps struct {
	Client   GameClient
	Streams  StreamOpener
	Engines  engine.Spawner
	Player   Player
	Registry *Registry
	Results  *Results
	Chat     *chat.Chatter
	GameLogs *obslog.GameLogs
	Events   botevent.Publisher
	Recorder store.Recorder
}

// Runner plays games. Each Run call owns one game from its first snapshot
// to finalization.
type Runner struct {
	cfg Config
	d   Deps
	now func() time.Time
}

func NewRunner(cfg Config, d Deps) *Runner {
	if d.Events == nil {
		d.Events = botevent.Nop{}
	}
	if d.Registry == nil {
		d.Registry = NewRegistry(nil)
	}
	if d.Results == nil {
		d.Results = NewResults(nil)
	}
	if cfg.DefaultBaseMinutes <= 0 {
		cfg.DefaultBaseMinutes = 10
	}
	return &Runner{cfg: cfg, d: d, now: time.Now}
}

// game is the per-session state. Only the session goroutine touches it.
type game struct {
	id         string
	hintColor  board.Color
	color      board.Color
	initialFEN string
	board      *board.Board
	engine     engine.Handle

	baseSec int
	incSec  int

	opponent       string
	opponentRating int
	rated          bool
	source         string
	status         string
	winner         string
	opening        string
	startedAt      time.Time

	colorFetched bool
	clockWarned  bool
	announced    bool
	finalized    bool

	bg sync.WaitGroup
}

// Run plays the game until a terminal status and always finalizes once.
func (r *Runner) Run(ctx context.Context, info *platform.GameInfo) {
	id := info.GID()
	ctx = obslog.ContextWithGameID(ctx, id)
	log := obslog.For(ctx)

	g := &game{
		id:        id,
		hintColor: board.ParseColor(info.Color),
		baseSec:   -1,
		incSec:    -1,
		opponent:  info.Opponent.DisplayName(),
		rated:     info.Rated,
		source:    info.Source,
		startedAt: r.now(),
	}
	defer r.finalize(ctx, g)

	h, err := r.d.Engines.Spawn(ctx)
	if err != nil {
		log.Error("engine_spawn_failed", zap.Error(err))
		return
	}
	g.engine = h

	open := func(ctx context.Context) (resilience.Source[json.RawMessage], error) {
		return r.d.Streams(ctx, id)
	}
	for raw := range resilience.Reconnect(ctx, "game", r.cfg.ReconnectDelay, open) {
		ev, err := platform.DecodeGameEvent(raw)
		if err != nil {
			log.Warn("game_event_invalid", zap.Error(err))
			continue
		}
		if r.handle(ctx, g, ev) {
			return
		}
	}
}

// handle reports whether the session is over.
func (r *Runner) handle(ctx context.Context, g *game, ev platform.GameEvent) bool {
	switch ev.Type {
	case platform.GameEventFull:
		return r.onFull(ctx, g, ev.Full)
	case platform.GameEventState:
		return r.onState(ctx, g, ev.State)
	default:
		return false
	}
}

func (r *Runner) onFull(ctx context.Context, g *game, full *platform.GameFull) bool {
	r.resolveColor(ctx, g, full)
	if full.Clock != nil {
		if s, ok := full.Clock.Initial.Seconds(); ok {
			g.baseSec = s
		}
		if s, ok := full.Clock.Increment.Seconds(); ok {
			g.incSec = s
		}
	}
	opp := full.Black
	if g.color == board.Black {
		opp = full.White
	}
	g.opponent = opp.DisplayName()
	g.opponentRating = opp.Rating
	g.rated = full.Rated
	if full.Source != "" {
		g.source = full.Source
	}
	if g.initialFEN == "" {
		g.initialFEN = full.InitialFEN
	}

	g.status, g.winner = strings.ToLower(full.State.Status), full.State.Winner
	if platform.IsTerminal(g.status) {
		return true
	}
	r.rebuild(ctx, g, full.State.MoveList())
	r.announce(ctx, g)
	r.maybeMove(ctx, g, &full.State, false)
	return false
}

func (r *Runner) onState(ctx context.Context, g *game, st *platform.GameState) bool {
	g.status, g.winner = strings.ToLower(st.Status), st.Winner
	if platform.IsTerminal(g.status) {
		return true
	}
	r.rebuild(ctx, g, st.MoveList())
	r.maybeMove(ctx, g, st, true)
	return false
}

// resolveColor uses the snapshot's player ids, then the gameStart hint,
// then a single export lookup.
func (r *Runner) resolveColor(ctx context.Context, g *game, full *platform.GameFull) {
	me := r.cfg.Me
	switch {
	case me != "" && strings.EqualFold(full.White.ID, me):
		g.color = board.White
	case me != "" && strings.EqualFold(full.Black.ID, me):
		g.color = board.Black
	}
	if g.color != board.NoColor {
		return
	}
	if g.hintColor != board.NoColor {
		g.color = g.hintColor
		return
	}
	if g.colorFetched {
		return
	}
	g.colorFetched = true
	exp, err := r.d.Client.ExportGame(ctx, g.id)
	if err != nil {
		obslog.For(ctx).Warn("color_lookup_failed", zap.Error(err))
		return
	}
	g.color = colorFromExport(exp, me)
}

func colorFromExport(exp *platform.ExportedGame, me string) board.Color {
	switch {
	case strings.EqualFold(exp.Players.White.User.ID, me):
		return board.White
	case strings.EqualFold(exp.Players.Black.User.ID, me):
		return board.Black
	}
	return board.NoColor
}

// rebuild replays the authoritative move list from the initial position.
func (r *Runner) rebuild(ctx context.Context, g *game, moves []string) {
	if g.board == nil {
		b, err := board.FromFEN(g.initialFEN)
		if err != nil {
			obslog.For(ctx).Warn("initial_fen_invalid", zap.String("fen", g.initialFEN), zap.Error(err))
			b = board.New()
		}
		g.board = b
	}
	if err := g.board.Rebuild(moves); err != nil {
		obslog.For(ctx).Warn("board_rebuild_failed", zap.Int("moves", len(moves)), zap.Error(err))
	}
}

func (r *Runner) announce(ctx context.Context, g *game) {
	if g.announced {
		return
	}
	g.announced = true
	tc := r.timeControl(g)
	url := "https://lichess.org/" + g.id
	obslog.For(ctx).Info("game_start",
		zap.String("color", g.color.String()),
		zap.String("opponent", g.opponent),
		zap.Int("opponent_rating", g.opponentRating),
		zap.String("time_control", tc),
		zap.String("source", g.source),
		zap.String("url", url),
	)
	if err := r.d.GameLogs.Open(g.id); err != nil {
		obslog.For(ctx).Warn("game_log_open_failed", zap.Error(err))
	}
	r.d.GameLogs.Write(g.id, "game_start",
		zap.String("gid", g.id),
		zap.String("color", g.color.String()),
		zap.String("opponent", g.opponent),
		zap.Int("opponent_rating", g.opponentRating),
		zap.String("time_control", tc),
		zap.String("source", g.source),
		zap.String("url", url),
	)
	botevent.Emit(r.d.Events, botevent.GameStart, g.id, map[string]any{
		"color":        g.color.String(),
		"opponent":     g.opponent,
		"time_control": tc,
	})
	vars := r.vars(g)
	g.bg.Go(func() { r.d.Chat.Greet(ctx, g.id, vars) })
}

func (r *Runner) maybeMove(ctx context.Context, g *game, st *platform.GameState, resignCheck bool) {
	if g.board == nil || g.color == board.NoColor || g.board.Turn() != g.color || g.board.IsGameOver() {
		return
	}
	remaining, inc := r.clocks(ctx, g, st)

	if g.engine == nil {
		if h, err := r.d.Engines.Spawn(ctx); err != nil {
			obslog.For(ctx).Warn("engine_respawn_failed", zap.Error(err))
		} else {
			g.engine = h
		}
	}

	if resignCheck && r.cfg.Resign.ShouldResign(ctx, g.engine, g.board) {
		err := r.d.Client.Resign(ctx, g.id)
		switch {
		case err == nil:
			obslog.For(ctx).Info("resigned", zap.Int("fullmove", g.board.Fullmove()))
			return
		case resilience.IsBenign(err):
			return
		default:
			obslog.For(ctx).Warn("resign_failed", zap.Error(err))
		}
	}

	out := r.d.Player.Play(ctx, pipeline.Turn{
		GameID:      g.id,
		Board:       g.board,
		Color:       g.color,
		Engine:      g.engine,
		Remaining:   remaining,
		Increment:   inc,
		BaseMinutes: r.baseMinutes(g),
	})
	// nil after a failed rescue: the old handle is already closed.
	g.engine = out.Engine
}

// clocks returns our remaining time (negative when unknown) and increment,
// and fills in base and increment when the snapshot carried none.
func (r *Runner) clocks(ctx context.Context, g *game, st *platform.GameState) (time.Duration, time.Duration) {
	mine, myInc := st.WTime, st.WInc
	if g.color == board.Black {
		mine, myInc = st.BTime, st.BInc
	}

	remaining := time.Duration(-1)
	if ms, ok := mine.Millis(); ok {
		remaining = time.Duration(ms) * time.Millisecond
	} else if !g.clockWarned {
		g.clockWarned = true
		obslog.For(ctx).Warn("clock_unknown", zap.String("color", g.color.String()))
	}

	if g.baseSec < 0 {
		w, okw := st.WTime.Millis()
		b, okb := st.BTime.Millis()
		if okw || okb {
			g.baseSec = int(max(w, b) / 1000)
		}
	}
	var inc time.Duration
	if ms, ok := myInc.Millis(); ok {
		inc = time.Duration(ms) * time.Millisecond
		if g.incSec < 0 {
			g.incSec = int(ms / 1000)
		}
	} else if g.incSec > 0 {
		inc = time.Duration(g.incSec) * time.Second
	}
	return remaining, inc
}

func (r *Runner) baseMinutes(g *game) int {
	if g.baseSec > 0 {
		return max(1, g.baseSec/60)
	}
	return r.cfg.DefaultBaseMinutes
}

func (r *Runner) timeControl(g *game) string {
	if g.baseSec < 0 {
		return "?"
	}
	return fmt.Sprintf("%d+%d", g.baseSec/60, max(0, g.incSec))
}

func (r *Runner) vars(g *game) chat.Vars {
	return chat.Vars{Me: r.cfg.Me, Opponent: g.opponent, Engine: r.cfg.EngineName}
}

// finalize closes the engine, records the result and releases the game.
// It runs on a context detached from shutdown so bookkeeping completes.
func (r *Runner) finalize(ctx context.Context, g *game) {
	if g.finalized {
		return
	}
	g.finalized = true
	if g.engine != nil {
		_ = g.engine.Close()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	log := obslog.For(ctx)

	status, winner := g.status, g.winner
	if exp, err := r.d.Client.ExportGame(ctx, g.id); err != nil {
		log.Warn("game_export_failed", zap.Error(err))
	} else {
		status, winner = strings.ToLower(exp.Status), exp.Winner
		if g.color == board.NoColor {
			g.color = colorFromExport(exp, r.cfg.Me)
		}
	}

	outcome := ""
	if g.color != board.NoColor {
		outcome = OutcomeFor(status, winner, g.color)
	}
	if outcome != "" {
		r.d.Results.Record(ctx, outcome)
	} else {
		log.Info("game_result_uncounted", zap.String("status", status), zap.String("winner", winner))
	}

	r.d.Registry.Release(ctx, g.id)
	// ECO lines only apply from the standard start.
	if g.board != nil && g.board.StartFEN() == board.StartFEN {
		g.opening = book.OpeningName(g.board.Moves())
	}
	tally := r.d.Results.Snapshot()
	log.Info("game_end",
		zap.String("status", status),
		zap.String("winner", winner),
		zap.String("outcome", outcome),
		zap.String("opening", g.opening),
		zap.Int("wins", tally.Wins),
		zap.Int("losses", tally.Losses),
		zap.Int("draws", tally.Draws),
	)
	r.d.GameLogs.Write(g.id, "game_end",
		zap.String("gid", g.id),
		zap.String("status", status),
		zap.String("winner", winner),
		zap.String("result", outcome),
		zap.String("opening", g.opening),
	)
	r.d.GameLogs.Close(g.id)
	botevent.Emit(r.d.Events, botevent.GameEnd, g.id, map[string]any{
		"status":  status,
		"winner":  winner,
		"outcome": outcome,
	})

	g.bg.Wait()
	if g.announced {
		r.d.Chat.Goodbye(ctx, g.id, r.vars(g))
	}
	r.save(ctx, g, status, winner, outcome)
}

func (r *Runner) save(ctx context.Context, g *game, status, winner, outcome string) {
	if r.d.Recorder == nil || !g.announced {
		return
	}
	rec := store.GameRecord{
		GameID:         g.id,
		Color:          g.color.String(),
		Me:             r.cfg.Me,
		Opponent:       g.opponent,
		OpponentRating: g.opponentRating,
		TimeControl:    r.timeControl(g),
		Rated:          g.rated,
		Status:         status,
		Winner:         winner,
		Outcome:        outcome,
		Opening:        g.opening,
		StartedAt:      g.startedAt,
		EndedAt:        r.now(),
	}
	if g.board != nil {
		rec.MovesUCI = g.board.Moves()
		rec.MovesSAN = g.board.SAN()
	}
	if err := r.d.Recorder.SaveResult(ctx, rec); err != nil {
		obslog.For(ctx).Warn("game_save_failed", zap.Error(err))
	}
}
