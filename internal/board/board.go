// Package board wraps the chess library behind the small surface the bot
// needs: replaying UCI move lists, legal move queries and FEN output.
package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var ErrIllegalMove = errors.New("illegal move")

type Color uint8

const (
	NoColor Color = iota
	White
	Black
)

// ParseColor accepts "white"/"black" in any case, and "w"/"b".
func ParseColor(s string) Color {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White
	case "black", "b":
		return Black
	default:
		return NoColor
	}
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "unknown"
	}
}

func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

type Board struct {
	startFEN string
	game     *chesslib.Game
	history  []string
}

func New() *Board {
	return &Board{startFEN: StartFEN, game: chesslib.NewGame()}
}

// FromFEN starts from an arbitrary position. "startpos" and "" mean the
// standard start.
func FromFEN(fen string) (*Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return New(), nil
	}
	game, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}
	return &Board{startFEN: fen, game: game}, nil
}

func gameFromFEN(fen string) (*chesslib.Game, error) {
	opt, err := chesslib.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return chesslib.NewGame(opt), nil
}

// Reset returns to the starting position.
func (b *Board) Reset() {
	if g, err := gameFromFEN(b.startFEN); err == nil {
		b.game = g
	} else {
		b.game = chesslib.NewGame()
	}
	b.history = b.history[:0]
}

// Push plays one UCI move.
func (b *Board) Push(uci string) error {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if err := b.game.PushNotationMove(uci, chesslib.UCINotation{}, nil); err != nil {
		return fmt.Errorf("%w %q: %v", ErrIllegalMove, uci, err)
	}
	b.history = append(b.history, uci)
	return nil
}

// Rebuild resets and replays moves, stopping at the first illegal one.
func (b *Board) Rebuild(moves []string) error {
	b.Reset()
	for _, mv := range moves {
		if err := b.Push(mv); err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) Turn() Color {
	if b.game.Position().Turn() == chesslib.White {
		return White
	}
	return Black
}

func (b *Board) FEN() string { return b.game.FEN() }

// StartFEN is the position the move history is replayed from.
func (b *Board) StartFEN() string { return b.startFEN }

// Fullmove is the FEN fullmove counter.
func (b *Board) Fullmove() int {
	fields := strings.Fields(b.game.FEN())
	if len(fields) < 6 {
		return 1 + len(b.history)/2
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Ply is the 1-based number of the half-move about to be played.
func (b *Board) Ply() int {
	p := (b.Fullmove() - 1) * 2
	if b.Turn() == White {
		return p + 1
	}
	return p + 2
}

// Moves returns the UCI moves played since the start position.
func (b *Board) Moves() []string {
	return append([]string(nil), b.history...)
}

func (b *Board) LegalMoves() []string {
	valid := b.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, m := range valid {
		out = append(out, m.String())
	}
	return out
}

func (b *Board) LegalMoveCount() int { return len(b.game.ValidMoves()) }

func (b *Board) FirstLegal() (string, bool) {
	valid := b.game.ValidMoves()
	if len(valid) == 0 {
		return "", false
	}
	return valid[0].String(), true
}

func (b *Board) IsLegal(uci string) bool {
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, m := range b.game.ValidMoves() {
		if m.String() == uci {
			return true
		}
	}
	return false
}

// InCheck reports whether the side to move is in check.
func (b *Board) InCheck() bool {
	moves := b.game.Moves()
	if len(moves) == 0 {
		return false
	}
	return moves[len(moves)-1].HasTag(chesslib.Check)
}

// IsGameOver is true on mate, stalemate or an automatic draw.
func (b *Board) IsGameOver() bool {
	if b.game.Outcome() != chesslib.NoOutcome {
		return true
	}
	return len(b.game.ValidMoves()) == 0
}

// HasEnPassantCapture reports whether a legal capture lands on sq en passant.
func (b *Board) HasEnPassantCapture(sq string) bool {
	for _, m := range b.game.ValidMoves() {
		if m.HasTag(chesslib.EnPassant) && m.S2().String() == sq {
			return true
		}
	}
	return false
}

func (b *Board) Clone() *Board {
	return &Board{
		startFEN: b.startFEN,
		game:     b.game.Clone(),
		history:  append([]string(nil), b.history...),
	}
}

// SAN replays the history from the start position and returns it in
// algebraic notation. Replay stops at the first move that fails to decode.
func (b *Board) SAN() []string {
	game, err := gameFromFEN(b.startFEN)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(b.history))
	for _, uci := range b.history {
		pos := game.Position()
		mv, err := chesslib.UCINotation{}.Decode(pos, uci)
		if err != nil {
			break
		}
		san := chesslib.AlgebraicNotation{}.Encode(pos, mv)
		if err := game.Move(mv, nil); err != nil {
			break
		}
		out = append(out, san)
	}
	return out
}
