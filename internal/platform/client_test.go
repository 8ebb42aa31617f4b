package platform

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})

	noSleep := func(context.Context, time.Duration) error { return nil }
	return NewClient("http://lichess.test", "tok",
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }),
		WithCaller(resilience.NewCaller(resilience.WithSleep(noSleep))),
		WithTimeout(2*time.Second),
	)
}

func TestAccountSendsBearerToken(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Request.Header.Peek("Authorization")) != "Bearer tok" {
			ctx.SetStatusCode(401)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"id":"cheesebot","username":"CheeseBot","title":"BOT"}`)
	})

	u, err := c.Account(context.Background())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if u.ID != "cheesebot" || !u.IsBot() {
		t.Fatalf("unexpected account: %+v", u)
	}
}

func TestAPIErrorCarriesStatusAndRetryAfter(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls++
		if calls == 1 {
			ctx.Response.Header.Set("Retry-After", "3")
			ctx.SetStatusCode(429)
			return
		}
		ctx.SetStatusCode(400)
		ctx.SetBodyString(`{"error":"Piece on e2 cannot move"}`)
	})

	err := c.MakeMove(context.Background(), "g1", "e2e4")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 400 || !strings.Contains(apiErr.Body, "cannot move") {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if calls != 2 {
		t.Fatalf("expected the 429 to be retried once, calls=%d", calls)
	}
}

func TestCreateChallengeSendsForm(t *testing.T) {
	var form string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/api/challenge/SomeBot" {
			ctx.SetStatusCode(404)
			return
		}
		form = string(ctx.PostBody())
		ctx.SetBodyString(`{"challenge":{"id":"ch1","status":"created"}}`)
	})

	id, err := c.CreateChallenge(context.Background(), "SomeBot", ChallengeRequest{Rated: true, ClockLimit: 600, Color: "random"})
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if id != "ch1" {
		t.Fatalf("id=%q", id)
	}
	for _, want := range []string{"rated=true", "clock.limit=600", "clock.increment=0", "color=random"} {
		if !strings.Contains(form, want) {
			t.Fatalf("form %q missing %q", form, want)
		}
	}
}

func TestStreamSkipsKeepAlivesAndEnds(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/x-ndjson")
		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			_, _ = w.WriteString("\n")
			_, _ = w.WriteString(`{"type":"gameStart","game":{"gameId":"abc","color":"white"}}` + "\n")
			_, _ = w.WriteString("\n\n")
			_, _ = w.WriteString(`{"type":"challenge","challenge":{"id":"c1"}}` + "\n")
			_ = w.Flush()
		})
	})

	s, err := c.StreamEvents(context.Background())
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	defer s.Close()

	var types []string
	for {
		line, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		ev, err := DecodeEvent(line)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		types = append(types, ev.Type)
	}
	if strings.Join(types, ",") != "gameStart,challenge" {
		t.Fatalf("types=%v", types)
	}
}

func TestStreamOpenErrorIsAPIError(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(404)
		ctx.SetBodyString("not found")
	})
	_, err := c.StreamGame(context.Background(), "gone")
	if !resilience.IsNotFound(err) {
		t.Fatalf("expected 404, got %v", err)
	}
}
