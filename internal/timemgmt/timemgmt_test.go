package timemgmt

import (
	"testing"
	"time"
)

func fixed(f float64) func() float64 { return func() float64 { return f } }

func TestOpeningThinksLongerThanEndgame(t *testing.T) {
	opening := MoveTime(Params{Remaining: 900 * time.Second, Increment: 10 * time.Second, Ply: 5, BaseMinutes: 15}, fixed(1))
	endgame := MoveTime(Params{Remaining: 900 * time.Second, Increment: 10 * time.Second, Ply: 65, BaseMinutes: 15}, fixed(1))
	if opening <= endgame {
		t.Fatalf("opening=%v endgame=%v", opening, endgame)
	}

	// Extremes of the jitter range still keep the ordering.
	lo := MoveTime(Params{Remaining: 900 * time.Second, Increment: 10 * time.Second, Ply: 5, BaseMinutes: 15}, fixed(0.85))
	hi := MoveTime(Params{Remaining: 900 * time.Second, Increment: 10 * time.Second, Ply: 65, BaseMinutes: 15}, fixed(1.15))
	if lo <= hi {
		t.Fatalf("jittered opening=%v endgame=%v", lo, hi)
	}
}

func TestBelowBankUsesQuarter(t *testing.T) {
	for _, rem := range []time.Duration{time.Second, 4 * time.Second, 5 * time.Second} {
		got := MoveTime(Params{Remaining: rem, Increment: 2 * time.Second, Ply: 40, BaseMinutes: 3}, Jitter)
		if got > rem/4 {
			t.Fatalf("remaining=%v got=%v", rem, got)
		}
	}
}

func TestBudgetFormula(t *testing.T) {
	// base 5: RM=25, pool=(300-3)+0=297, budget=11.88, ply 30 ×1.2 = 14.256s
	got := MoveTime(Params{Remaining: 300 * time.Second, Ply: 30, BaseMinutes: 5}, nil)
	want := time.Duration(14.256 * float64(time.Second))
	if diff := got - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Fatalf("got=%v want=%v", got, want)
	}

	check := MoveTime(Params{Remaining: 300 * time.Second, Ply: 30, BaseMinutes: 5, InCheck: true}, nil)
	forced := MoveTime(Params{Remaining: 300 * time.Second, Ply: 30, BaseMinutes: 5, Forced: true}, nil)
	if !(check > got && forced < got) {
		t.Fatalf("check=%v forced=%v base=%v", check, forced, got)
	}
}

func TestBudgetClamps(t *testing.T) {
	if got := MoveTime(Params{Remaining: 10 * time.Hour, Ply: 1, BaseMinutes: 1}, nil); got != maxBudget {
		t.Fatalf("cap: %v", got)
	}
	if got := MoveTime(Params{Remaining: 10 * time.Second, Ply: 80, BaseMinutes: 30}, nil); got != minBudget {
		t.Fatalf("floor: %v", got)
	}
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if j := Jitter(); j < 0.85 || j > 1.15 {
			t.Fatalf("jitter out of range: %v", j)
		}
	}
}

func TestPlannerThink(t *testing.T) {
	pl := Planner{Caps: DefaultPhaseCaps(), Overhead: 60 * time.Millisecond, MinMoveTime: 400 * time.Millisecond, Jitter: fixed(1)}

	if got := pl.Think(Params{}, false); got != 400*time.Millisecond {
		t.Fatalf("unknown clock: %v", got)
	}
	if got := pl.Think(Params{Remaining: time.Hour, Ply: 1, BaseMinutes: 60}, true); got != 30*time.Second {
		t.Fatalf("opening cap: %v", got)
	}
	if got := pl.Think(Params{Remaining: time.Hour, Ply: 50, BaseMinutes: 60}, true); got != 45*time.Second {
		t.Fatalf("middlegame cap: %v", got)
	}
	if pl.Guard() != 150*time.Millisecond {
		t.Fatalf("guard: %v", pl.Guard())
	}
	if got := pl.Think(Params{Remaining: 100 * time.Millisecond, Ply: 50, BaseMinutes: 1}, true); got != 20*time.Millisecond {
		t.Fatalf("floor: %v", got)
	}
}
