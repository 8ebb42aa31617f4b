// Package admission decides which inbound challenges and game starts the
// bot takes, and issues outgoing challenges when it is idle.
package admission

import (
	"strings"

	"github.com/park285/Cheese-Lichess-bot/internal/platform"
)

// Decline reasons, as understood by the platform.
const (
	ReasonGeneric  = "generic"
	ReasonLater    = "later"
	ReasonTooFast  = "tooFast"
	ReasonRated    = "rated"
	ReasonStandard = "standard"
	ReasonOnlyBot  = "onlyBot"
)

// Policy holds the inbound acceptance rules.
type Policy struct {
	Me              string
	VariantStandard bool
	MinBaseSeconds  int
	AcceptNonRated  bool
	AllowHumans     bool
}

// Evaluate returns ok, or the decline reason for the first rule broken.
func (p Policy) Evaluate(ch *platform.Challenge) (ok bool, reason string) {
	if ch == nil {
		return false, ReasonGeneric
	}
	if p.VariantStandard && ch.Variant.Key != "standard" {
		return false, ReasonStandard
	}
	if !p.AcceptNonRated && !ch.Rated {
		return false, ReasonRated
	}
	if ch.TimeControl.Limit < p.MinBaseSeconds {
		return false, ReasonTooFast
	}
	if !p.AllowHumans && (ch.Challenger == nil || !ch.Challenger.IsBot()) {
		return false, ReasonOnlyBot
	}
	me := strings.ToLower(p.Me)
	if ch.ChallengerID() == me || ch.DestID() != me {
		return false, ReasonGeneric
	}
	if !isOpen(ch.Status) {
		return false, ReasonGeneric
	}
	return true, ""
}

// isOpen is true while a challenge can still be answered.
func isOpen(status string) bool {
	switch strings.ToLower(status) {
	case "", "created", "pending":
		return true
	}
	return false
}

var tournamentSources = map[string]struct{}{
	"tournament": {},
	"swiss":      {},
	"arena":      {},
}

// TournamentGate admits only game starts from tournaments, optionally a
// single one.
type TournamentGate struct {
	Enabled bool
	OnlyID  string
}

// Admit reports whether a game start may be played, with a reason when not.
func (g TournamentGate) Admit(info *platform.GameInfo) (bool, string) {
	if !g.Enabled {
		return true, ""
	}
	if _, ok := tournamentSources[strings.ToLower(info.Source)]; !ok {
		return false, "non_tournament_source"
	}
	if only := strings.ToLower(strings.TrimSpace(g.OnlyID)); only != "" {
		tid := info.TournamentID
		if tid == "" {
			tid = info.SwissID
		}
		if strings.ToLower(tid) != only {
			return false, "other_tournament"
		}
	}
	return true, ""
}
