package engine

import (
	"strconv"
	"strings"
	"time"
)

// MateValue is the centipawn stand-in for a forced mate.
const MateValue = 30000

// Score is from the side to move's point of view.
type Score struct {
	CP     int
	Mate   int
	IsMate bool
	Known  bool
}

// Centipawns folds mate scores into ±MateValue.
func (s Score) Centipawns() int {
	if !s.IsMate {
		return s.CP
	}
	if s.Mate >= 0 {
		return MateValue - s.Mate
	}
	return -MateValue - s.Mate
}

// Negate flips the point of view.
func (s Score) Negate() Score {
	return Score{CP: -s.CP, Mate: -s.Mate, IsMate: s.IsMate, Known: s.Known}
}

type Info struct {
	Depth    int
	SelDepth int
	Nodes    int64
	NPS      int64
	HashFull int
	TBHits   int64
	Time     time.Duration
	Score    Score
	PV       []string
}

type Result struct {
	Move   string
	Ponder string
	Info   Info
}

// parseInfo merges one "info ..." line into cur. Lines carrying only
// "string" or "currmove" data leave cur untouched.
func parseInfo(line string, cur *Info) {
	parts := strings.Fields(line)
	for i := 1; i < len(parts); i++ {
		next := func() (string, bool) {
			if i+1 >= len(parts) {
				return "", false
			}
			i++
			return parts[i], true
		}
		switch parts[i] {
		case "depth":
			if v, ok := next(); ok {
				cur.Depth = atoi(v)
			}
		case "seldepth":
			if v, ok := next(); ok {
				cur.SelDepth = atoi(v)
			}
		case "nodes":
			if v, ok := next(); ok {
				cur.Nodes = atoi64(v)
			}
		case "nps":
			if v, ok := next(); ok {
				cur.NPS = atoi64(v)
			}
		case "hashfull":
			if v, ok := next(); ok {
				cur.HashFull = atoi(v)
			}
		case "tbhits":
			if v, ok := next(); ok {
				cur.TBHits = atoi64(v)
			}
		case "time":
			if v, ok := next(); ok {
				cur.Time = time.Duration(atoi64(v)) * time.Millisecond
			}
		case "score":
			kind, ok1 := next()
			val, ok2 := next()
			if !ok1 || !ok2 {
				continue
			}
			n, err := strconv.Atoi(val)
			if err != nil {
				continue
			}
			switch kind {
			case "cp":
				cur.Score = Score{CP: n, Known: true}
			case "mate":
				cur.Score = Score{Mate: n, IsMate: true, Known: true}
			}
		case "pv":
			cur.PV = append([]string(nil), parts[i+1:]...)
			return
		case "string":
			return
		}
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
