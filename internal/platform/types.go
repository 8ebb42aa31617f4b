package platform

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Rating   int    `json:"rating"`
}

// DisplayName prefers the human-facing name.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	case u.ID != "":
		return u.ID
	default:
		return "?"
	}
}

func (u User) IsBot() bool { return strings.EqualFold(u.Title, "BOT") }

type Perf struct {
	Rating int  `json:"rating"`
	Games  int  `json:"games"`
	Prov   bool `json:"prov"`
}

type PublicUser struct {
	User
	Perfs map[string]Perf `json:"perfs"`
}

// Rating returns the rating for perf, or ok=false when the perf is absent.
func (u *PublicUser) Rating(perf string) (int, bool) {
	p, ok := u.Perfs[perf]
	if !ok || p.Rating == 0 {
		return 0, false
	}
	return p.Rating, true
}

type Variant struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type TimeControl struct {
	Type      string `json:"type"`
	Limit     int    `json:"limit"`
	Increment int    `json:"increment"`
}

type Challenge struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Challenger  *User       `json:"challenger"`
	DestUser    *User       `json:"destUser"`
	Variant     Variant     `json:"variant"`
	Rated       bool        `json:"rated"`
	Speed       string      `json:"speed"`
	TimeControl TimeControl `json:"timeControl"`
	Color       string      `json:"color"`
}

func (c *Challenge) ChallengerID() string {
	if c.Challenger == nil {
		return ""
	}
	return strings.ToLower(c.Challenger.ID)
}

func (c *Challenge) DestID() string {
	if c.DestUser == nil {
		return ""
	}
	return strings.ToLower(c.DestUser.ID)
}

// GameInfo is the game object of gameStart and gameFinish events.
type GameInfo struct {
	ID           string    `json:"id"`
	GameID       string    `json:"gameId"`
	Color        string    `json:"color"`
	FEN          string    `json:"fen"`
	Source       string    `json:"source"`
	TournamentID string    `json:"tournamentId"`
	SwissID      string    `json:"swissId"`
	Opponent     User      `json:"opponent"`
	Rated        bool      `json:"rated"`
	Speed        string    `json:"speed"`
	Winner       string    `json:"winner"`
	Status       StatusRef `json:"status"`
}

// GID returns the game id, whichever field carried it.
func (g *GameInfo) GID() string {
	if g.GameID != "" {
		return g.GameID
	}
	return g.ID
}

// StatusRef decodes either "mate" or {"id":30,"name":"mate"}.
type StatusRef struct {
	Name string
}

func (s *StatusRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &s.Name)
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	s.Name = obj.Name
	return nil
}

// Clock is a clock field that may be absent, numeric or a numeric string.
type Clock struct {
	Value float64
	Known bool
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*c = Clock{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return nil
	}
	*c = Clock{Value: f, Known: true}
	return nil
}

// Millis returns the raw value as milliseconds.
func (c Clock) Millis() (int64, bool) {
	if !c.Known {
		return 0, false
	}
	return int64(c.Value), true
}

// Seconds converts to whole seconds; values above 1000 are taken as ms.
func (c Clock) Seconds() (int, bool) {
	if !c.Known {
		return 0, false
	}
	v := c.Value
	if v > 1000 {
		v /= 1000
	}
	return int(v + 0.5), true
}

type GameState struct {
	Type   string `json:"type"`
	Moves  string `json:"moves"`
	WTime  Clock  `json:"wtime"`
	BTime  Clock  `json:"btime"`
	WInc   Clock  `json:"winc"`
	BInc   Clock  `json:"binc"`
	Status string `json:"status"`
	Winner string `json:"winner"`
}

// MoveList splits the space separated UCI move string.
func (s *GameState) MoveList() []string { return strings.Fields(s.Moves) }

type GameClock struct {
	Initial   Clock `json:"initial"`
	Increment Clock `json:"increment"`
}

type GameFull struct {
	ID           string     `json:"id"`
	Rated        bool       `json:"rated"`
	Variant      Variant    `json:"variant"`
	Clock        *GameClock `json:"clock"`
	Speed        string     `json:"speed"`
	White        User       `json:"white"`
	Black        User       `json:"black"`
	InitialFEN   string     `json:"initialFen"`
	TournamentID string     `json:"tournamentId"`
	Source       string     `json:"source"`
	State        GameState  `json:"state"`
}

type ExportPlayer struct {
	User   User `json:"user"`
	Rating int  `json:"rating"`
}

type ExportPlayers struct {
	White ExportPlayer `json:"white"`
	Black ExportPlayer `json:"black"`
}

type ExportedGame struct {
	ID         string        `json:"id"`
	Rated      bool          `json:"rated"`
	Speed      string        `json:"speed"`
	Status     string        `json:"status"`
	Winner     string        `json:"winner"`
	Moves      string        `json:"moves"`
	Players    ExportPlayers `json:"players"`
	CreatedAt  int64         `json:"createdAt"`
	LastMoveAt int64         `json:"lastMoveAt"`
}

type OngoingGame struct {
	GameID   string `json:"gameId"`
	FullID   string `json:"fullId"`
	Color    string `json:"color"`
	IsMyTurn bool   `json:"isMyTurn"`
	Opponent User   `json:"opponent"`
}

// ChallengeRequest is the form of an outgoing challenge.
type ChallengeRequest struct {
	Rated          bool
	ClockLimit     int
	ClockIncrement int
	Color          string
	Variant        string
}
