package botbuilder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/Cheese-Lichess-bot/internal/config"
)

func TestEngineName(t *testing.T) {
	cases := map[string]string{
		"/usr/local/bin/stockfish":    "stockfish",
		"C:/engines/stockfish-17.exe": "stockfish-17",
		"":                            "engine",
	}
	for in, want := range cases {
		if got := engineName(in); got != want {
			t.Fatalf("engineName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(context.Canceled); err != nil {
		t.Fatalf("canceled should be swallowed, got %v", err)
	}
	boom := errors.New("boom")
	if err := ignoreCanceled(boom); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
}

func TestFatalBlockingWaitsForContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		FatalBlocking(ctx, "missing token", config.ErrMissingToken)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("returned before cancel")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not return after cancel")
	}
}

func TestNewRejectsNilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}
