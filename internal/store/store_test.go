package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBuildPGNOrientsPlayers(t *testing.T) {
	g := GameRecord{
		GameID:      "abc12345",
		Color:       "black",
		Me:          "cheese-bot",
		Opponent:    "rival",
		TimeControl: "10+0",
		Status:      "mate",
		Winner:      "black",
		Outcome:     "win",
		Opening:     "A00 Barnes Opening",
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		EndedAt:     time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(g)
	for _, want := range []string{
		`[White "rival"]`,
		`[Black "cheese-bot"]`,
		`[Date "2026.03.04"]`,
		`[Result "0-1"]`,
		`[Opening "A00 Barnes Opening"]`,
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestPGNResult(t *testing.T) {
	cases := []struct{ winner, outcome, want string }{
		{"white", "loss", "1-0"},
		{"black", "win", "0-1"},
		{"", "draw", "1/2-1/2"},
		{"", "", "*"},
	}
	for _, c := range cases {
		if got := PGNResult(c.winner, c.outcome); got != c.want {
			t.Fatalf("PGNResult(%q,%q) = %q, want %q", c.winner, c.outcome, got, c.want)
		}
	}
}

func TestMemoryRepositoryUpserts(t *testing.T) {
	m := NewMemoryRepository()
	ctx := context.Background()
	_ = m.SaveResult(ctx, GameRecord{GameID: "g1", Outcome: "draw"})
	_ = m.SaveResult(ctx, GameRecord{GameID: "g1", Outcome: "win"})
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
	if g, _ := m.Get("g1"); g.Outcome != "win" {
		t.Fatalf("outcome = %q", g.Outcome)
	}
}

func TestNilRepositoryIsNoop(t *testing.T) {
	var r *Repository
	if err := r.SaveResult(context.Background(), GameRecord{GameID: "x"}); err != nil {
		t.Fatalf("nil repo: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestNewRepositoryRequiresURL(t *testing.T) {
	if _, err := NewRepository(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty url")
	}
}
