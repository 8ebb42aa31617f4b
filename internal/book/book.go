// Package book picks opening moves from one or more Polyglot books.
package book

import (
	"fmt"
	"os"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

// Candidate is one weighted book move.
type Candidate struct {
	Move   string
	Weight uint16
}

// Source is a weighted move lookup for a position.
type Source interface {
	Lookup(fen string) ([]Candidate, error)
}

// Named is a source with the label used in logs.
type Named struct {
	Label  string
	Source Source
}

// Polyglot serves moves from a loaded .bin book.
type Polyglot struct {
	book *chesslib.PolyglotBook
}

func LoadFromPath(bookPath string) (*Polyglot, error) {
	if strings.TrimSpace(bookPath) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(os.ExpandEnv(bookPath))
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", bookPath, err)
	}
	defer file.Close()

	book, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", bookPath, err)
	}
	return &Polyglot{book: book}, nil
}

func (p *Polyglot) Lookup(fen string) ([]Candidate, error) {
	hashStr, err := chesslib.NewZobristHasher().HashPosition(fen)
	if err != nil {
		return nil, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := p.book.FindMoves(chesslib.ZobristHashToUint64(hashStr))
	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		mv := chesslib.DecodeMove(e.Move).ToMove()
		out = append(out, Candidate{Move: mv.String(), Weight: e.Weight})
	}
	return out, nil
}

// OpeningName labels a move sequence with its ECO code and title, or "" when
// no opening matches.
func OpeningName(moves []string) string {
	game := chesslib.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			break
		}
	}
	eco := opening.NewBookECO().Find(game.Moves())
	if eco == nil {
		return ""
	}
	return eco.Code() + " " + eco.Title()
}
