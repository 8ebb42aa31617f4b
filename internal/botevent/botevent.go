// Package botevent carries lifecycle notifications (game start/end, moves,
// challenge decisions) to whoever is listening, such as the status server.
package botevent

import "time"

const (
	GameStart         = "game_start"
	MovePlayed        = "move_played"
	GameEnd           = "game_end"
	ChallengeAccepted = "challenge_accepted"
	ChallengeDeclined = "challenge_declined"
)

type Event struct {
	Kind   string         `json:"kind"`
	GameID string         `json:"game_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	TS     time.Time      `json:"ts"`
}

type Publisher interface {
	Publish(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Emit stamps and publishes an event; a nil publisher is ignored.
func Emit(p Publisher, kind, gameID string, data map[string]any) {
	if p == nil {
		return
	}
	p.Publish(Event{Kind: kind, GameID: gameID, Data: data, TS: time.Now()})
}
