package platform

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeEventValidates(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"challenge","challenge":{}}`)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`{"type":"gameStart","game":{}}`)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	ev, err := DecodeEvent([]byte(`{"type":"somethingNew"}`))
	if err != nil || ev.Type != "somethingNew" {
		t.Fatalf("unknown types pass through: %+v %v", ev, err)
	}
}

func TestDecodeChallengeDefaultsStatus(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"challenge","challenge":{"id":"c1","challenger":{"id":"Foo","title":"BOT"},"destUser":{"id":"Me"},"variant":{"key":"standard"},"rated":true,"timeControl":{"type":"clock","limit":300,"increment":2}}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	ch := ev.Challenge
	if ch.Status != "created" || ch.ChallengerID() != "foo" || ch.DestID() != "me" || !ch.Challenger.IsBot() {
		t.Fatalf("unexpected challenge: %+v", ch)
	}
	if diff := cmp.Diff(TimeControl{Type: "clock", Limit: 300, Increment: 2}, ch.TimeControl); diff != "" {
		t.Fatalf("time control mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeGameFullWithOddClocks(t *testing.T) {
	line := `{"type":"gameFull","id":"g1","clock":{"initial":180000,"increment":2000},
		"white":{"id":"me"},"black":{"id":"opp","name":"Opp","rating":2900},
		"state":{"type":"gameState","moves":"e2e4 e7e5","wtime":"179000","btime":"n/a","winc":2000,"binc":2000,"status":"started"}}`
	ev, err := DecodeGameEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeGameEvent: %v", err)
	}
	if ev.Full == nil || ev.Status() != "started" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	st := ev.CurrentState()
	if ms, ok := st.WTime.Millis(); !ok || ms != 179000 {
		t.Fatalf("wtime=%d ok=%v", ms, ok)
	}
	if _, ok := st.BTime.Millis(); ok {
		t.Fatal("non-numeric btime must be unknown")
	}
	if s, ok := ev.Full.Clock.Initial.Seconds(); !ok || s != 180 {
		t.Fatalf("initial=%d", s)
	}
	if s, ok := ev.Full.Clock.Increment.Seconds(); !ok || s != 2 {
		t.Fatalf("increment=%d", s)
	}
	if diff := cmp.Diff([]string{"e2e4", "e7e5"}, st.MoveList()); diff != "" {
		t.Fatalf("moves (-want +got):\n%s", diff)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{"mate", "Resign", "outoftime", "aborted"} {
		if !IsTerminal(s) {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if IsTerminal("started") || IsTerminal("") {
		t.Fatal("started is not terminal")
	}
}
