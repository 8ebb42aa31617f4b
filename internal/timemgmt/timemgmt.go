// Package timemgmt decides how long to think for one move.
package timemgmt

import (
	"math/rand/v2"
	"time"
)

const (
	maxBudget = 60 * time.Second
	minBudget = 2 * time.Second
)

// Params describe the clock situation of the side to move.
type Params struct {
	Remaining   time.Duration
	Increment   time.Duration
	Ply         int
	InCheck     bool
	Forced      bool
	BaseMinutes int
}

// Jitter is a uniform factor in [0.85, 1.15].
func Jitter() float64 { return 0.85 + rand.Float64()*0.30 }

// MoveTime budgets one move. A 3s reserve plus one increment is never
// spent; below it the move takes a quarter of what is left. jitter nil
// means no variation.
func MoveTime(p Params, jitter func() float64) time.Duration {
	t := max(0, p.Remaining.Seconds())
	inc := max(0, p.Increment.Seconds())

	bank := 3 + inc
	if t <= bank {
		return seconds(t * 0.25)
	}

	rm := 15.0
	switch {
	case p.BaseMinutes >= 15:
		rm = 35
	case p.BaseMinutes >= 5:
		rm = 25
	}
	pool := (t - bank) + 0.5*inc*rm
	budget := pool / rm

	switch {
	case p.Ply < 20:
		budget *= 1.5
	case p.Ply < 60:
		budget *= 1.2
	}
	if p.InCheck {
		budget *= 1.3
	}
	if p.Forced {
		budget *= 0.7
	}

	budget = min(budget, t-bank)
	budget = min(budget, maxBudget.Seconds())
	budget = max(budget, minBudget.Seconds())

	if jitter != nil {
		budget *= jitter()
	}
	return seconds(budget)
}

// PhaseCaps bound a move by game phase: opening before ply 30, middlegame
// before ply 70.
type PhaseCaps struct {
	Open time.Duration
	Mid  time.Duration
	End  time.Duration
}

func DefaultPhaseCaps() PhaseCaps {
	return PhaseCaps{Open: 30 * time.Second, Mid: 45 * time.Second, End: 60 * time.Second}
}

func (c PhaseCaps) For(ply int) time.Duration {
	switch {
	case ply < 30:
		return c.Open
	case ply < 70:
		return c.Mid
	default:
		return c.End
	}
}

// Planner turns a clock reading into a search time.
type Planner struct {
	Caps        PhaseCaps
	Overhead    time.Duration
	MinMoveTime time.Duration
	Jitter      func() float64
}

// Guard is the margin kept off the clock for transmission.
func (pl Planner) Guard() time.Duration {
	return max(20*time.Millisecond, pl.Overhead) * 5 / 2
}

// Think returns the movetime for a normal search. An unknown clock gets the
// configured minimum.
func (pl Planner) Think(p Params, clockKnown bool) time.Duration {
	if !clockKnown {
		return max(400*time.Millisecond, pl.MinMoveTime)
	}
	budget := MoveTime(p, pl.Jitter)
	if c := pl.Caps.For(p.Ply); c > 0 {
		budget = min(budget, c)
	}
	if p.Remaining > 0 {
		budget = min(budget, p.Remaining-pl.Guard())
	}
	return max(20*time.Millisecond, budget)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
