package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Incoming event types.
const (
	EventChallenge         = "challenge"
	EventChallengeCanceled = "challengeCanceled"
	EventChallengeDeclined = "challengeDeclined"
	EventGameStart         = "gameStart"
	EventGameFinish        = "gameFinish"
)

// Per-game stream event types.
const (
	GameEventFull  = "gameFull"
	GameEventState = "gameState"
	GameEventChat  = "chatLine"
)

var ErrInvalidEvent = errors.New("invalid event")

// Event is a validated incoming event. Exactly one of Challenge or Game is
// set for known types; other types carry only Type.
type Event struct {
	Type      string
	Challenge *Challenge
	Game      *GameInfo
}

type rawEvent struct {
	Type      string     `json:"type"`
	Challenge *Challenge `json:"challenge"`
	Game      *GameInfo  `json:"game"`
}

// DecodeEvent parses and validates one line of the incoming event stream.
func DecodeEvent(line []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev := Event{Type: strings.TrimSpace(raw.Type)}
	switch ev.Type {
	case EventChallenge, EventChallengeCanceled, EventChallengeDeclined:
		if raw.Challenge == nil || strings.TrimSpace(raw.Challenge.ID) == "" {
			return Event{}, fmt.Errorf("%w: %s without challenge id", ErrInvalidEvent, ev.Type)
		}
		raw.Challenge.Status = strings.ToLower(raw.Challenge.Status)
		if raw.Challenge.Status == "" {
			raw.Challenge.Status = "created"
		}
		ev.Challenge = raw.Challenge
	case EventGameStart, EventGameFinish:
		if raw.Game == nil || raw.Game.GID() == "" {
			return Event{}, fmt.Errorf("%w: %s without game id", ErrInvalidEvent, ev.Type)
		}
		raw.Game.Color = strings.ToLower(raw.Game.Color)
		raw.Game.Source = strings.ToLower(raw.Game.Source)
		ev.Game = raw.Game
	case "":
		return Event{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return ev, nil
}

// GameEvent is a validated per-game stream event.
type GameEvent struct {
	Type  string
	Full  *GameFull
	State *GameState
}

// Status is the lower-cased game status carried by the event.
func (e GameEvent) Status() string {
	switch {
	case e.Full != nil:
		return strings.ToLower(e.Full.State.Status)
	case e.State != nil:
		return strings.ToLower(e.State.Status)
	}
	return ""
}

func (e GameEvent) Winner() string {
	switch {
	case e.Full != nil:
		return e.Full.State.Winner
	case e.State != nil:
		return e.State.Winner
	}
	return ""
}

// CurrentState returns the moves and clocks of either event shape.
func (e GameEvent) CurrentState() *GameState {
	if e.Full != nil {
		return &e.Full.State
	}
	return e.State
}

// DecodeGameEvent parses and validates one line of a game stream.
func DecodeGameEvent(line []byte) (GameEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return GameEvent{}, fmt.Errorf("decode game event: %w", err)
	}
	ev := GameEvent{Type: strings.TrimSpace(head.Type)}
	switch ev.Type {
	case GameEventFull:
		var full GameFull
		if err := json.Unmarshal(line, &full); err != nil {
			return GameEvent{}, fmt.Errorf("decode gameFull: %w", err)
		}
		if full.ID == "" {
			return GameEvent{}, fmt.Errorf("%w: gameFull without id", ErrInvalidEvent)
		}
		ev.Full = &full
	case GameEventState:
		var st GameState
		if err := json.Unmarshal(line, &st); err != nil {
			return GameEvent{}, fmt.Errorf("decode gameState: %w", err)
		}
		ev.State = &st
	case "":
		return GameEvent{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return ev, nil
}

// TerminalStatuses end a game session.
var TerminalStatuses = map[string]struct{}{
	"aborted":    {},
	"mate":       {},
	"resign":     {},
	"stalemate":  {},
	"timeout":    {},
	"outoftime":  {},
	"draw":       {},
	"nostart":    {},
	"cheat":      {},
	"variantend": {},
	"abandoned":  {},
}

func IsTerminal(status string) bool {
	_, ok := TerminalStatuses[strings.ToLower(status)]
	return ok
}
