package book

import (
	"sort"
	"strings"
)

type Policy string

const (
	FirstMatch Policy = "first_match"
	BestMove   Policy = "best_move"
)

func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == FirstMatch {
		return FirstMatch
	}
	return BestMove
}

// Choice is the move picked from a book list.
type Choice struct {
	Move   string
	Weight uint16
	Label  string
}

type scored struct {
	weight uint16
	idx    int
	label  string
}

// Choose applies policy to books in order. legal filters out moves that do
// not apply to the position; nil accepts everything.
//
// first_match plays the heaviest move of the first book with any usable
// entry. best_move takes the union across books keeping each move's
// heaviest weight, and breaks ties by earlier book, then by move text.
func Choose(books []Named, fen string, policy Policy, legal func(string) bool) (Choice, bool) {
	if len(books) == 0 {
		return Choice{}, false
	}
	ok := func(mv string) bool { return mv != "" && (legal == nil || legal(mv)) }

	if policy == FirstMatch {
		for _, b := range books {
			cands := usable(b, fen, ok)
			if len(cands) == 0 {
				continue
			}
			sort.SliceStable(cands, func(i, j int) bool { return cands[i].Weight > cands[j].Weight })
			return Choice{Move: cands[0].Move, Weight: cands[0].Weight, Label: b.Label}, true
		}
		return Choice{}, false
	}

	best := make(map[string]scored)
	for idx, b := range books {
		for _, c := range usable(b, fen, ok) {
			cur, seen := best[c.Move]
			if !seen || c.Weight > cur.weight || (c.Weight == cur.weight && idx < cur.idx) {
				best[c.Move] = scored{weight: c.Weight, idx: idx, label: b.Label}
			}
		}
	}
	if len(best) == 0 {
		return Choice{}, false
	}
	moves := make([]string, 0, len(best))
	for mv := range best {
		moves = append(moves, mv)
	}
	sort.Slice(moves, func(i, j int) bool {
		a, b := best[moves[i]], best[moves[j]]
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if a.idx != b.idx {
			return a.idx < b.idx
		}
		return moves[i] < moves[j]
	})
	top := best[moves[0]]
	return Choice{Move: moves[0], Weight: top.weight, Label: top.label}, true
}

func usable(b Named, fen string, ok func(string) bool) []Candidate {
	if b.Source == nil {
		return nil
	}
	cands, err := b.Source.Lookup(fen)
	if err != nil {
		return nil
	}
	out := cands[:0:0]
	for _, c := range cands {
		if ok(c.Move) {
			out = append(out, c)
		}
	}
	return out
}
