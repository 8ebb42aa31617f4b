package book

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
	"github.com/park285/Cheese-Lichess-bot/internal/config"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

// Group is an ordered book list with its selection policy.
type Group struct {
	Books  []Named
	Policy Policy
}

func (g Group) labels() string {
	if len(g.Books) == 0 {
		return "none"
	}
	out := make([]string, 0, len(g.Books))
	for _, b := range g.Books {
		out = append(out, b.Label)
	}
	return strings.Join(out, ", ")
}

// Selector resolves the book lists for a side and the current mode. White
// and Black are the primary lists; Draw is the drawish fallback.
type Selector struct {
	White  Group
	Black  Group
	Draw   Group
	Modes  *ModeSwitch
	MaxPly int
}

// Books returns the lists consulted for color under the current mode, and
// the policy that applies. Mixed mode keeps a book listed in both groups
// twice.
func (s *Selector) Books(color board.Color) ([]Named, Policy) {
	primary := s.White
	if color == board.Black {
		primary = s.Black
	}
	switch s.Modes.Current() {
	case Drawish:
		return s.Draw.Books, s.Draw.Policy
	case Mixed:
		out := make([]Named, 0, len(primary.Books)+len(s.Draw.Books))
		out = append(out, primary.Books...)
		out = append(out, s.Draw.Books...)
		return out, primary.Policy
	default:
		return primary.Books, primary.Policy
	}
}

// Pick returns a legal book move for the side to move, or false when the
// book is off, past its ply ceiling or has nothing.
func (s *Selector) Pick(b *board.Board, color board.Color) (Choice, bool) {
	if s == nil || s.MaxPly <= 0 || b.Ply() > s.MaxPly {
		return Choice{}, false
	}
	books, policy := s.Books(color)
	return Choose(books, b.FEN(), policy, b.IsLegal)
}

// Load builds the selector from the config file's opening_books section,
// or from the single-book environment paths when that section is absent.
// Books that fail to load are logged and skipped.
func Load(cfg *config.AppConfig) *Selector {
	s := &Selector{
		Modes:  NewModeSwitch(cfg.BookMode, cfg.BookModeFile),
		MaxPly: cfg.BookPlies,
	}
	fc := cfg.File
	if fc != nil && fc.OpeningBooks.Enabled && len(fc.Books) > 0 {
		s.White = openGroup(fc.ResolveGroup(config.GroupWhite))
		s.Black = openGroup(fc.ResolveGroup(config.GroupBlack))
		s.Draw = openGroup(fc.ResolveGroup(config.GroupDraw))
	} else {
		s.White = openSingle(cfg.BookPathWhite)
		s.Black = openSingle(cfg.BookPathBlack)
		s.Draw = openSingle(cfg.BookPathDraw)
	}

	log := obslog.L()
	log.Info("opening_books",
		zap.String("white", s.White.labels()),
		zap.String("black", s.Black.labels()),
		zap.String("draw", s.Draw.labels()),
		zap.String("mode", string(s.Modes.Current())),
		zap.Int("max_ply", s.MaxPly),
	)
	return s
}

func openGroup(paths, labels []string, selection string) Group {
	g := Group{Policy: ParsePolicy(selection)}
	for i, p := range paths {
		src, err := LoadFromPath(p)
		if err != nil {
			obslog.L().Warn("opening_book_open_failed", zap.String("book", labels[i]), zap.Error(err))
			continue
		}
		g.Books = append(g.Books, Named{Label: labels[i], Source: src})
	}
	return g
}

func openSingle(path string) Group {
	if path == "" {
		return Group{Policy: BestMove}
	}
	return openGroup([]string{path}, []string{filepath.Base(path)}, string(BestMove))
}
