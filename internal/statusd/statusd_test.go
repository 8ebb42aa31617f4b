package statusd

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Lichess-bot/internal/botevent"
	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/session"
)

func newTestServer(t *testing.T, snap SnapshotFunc) (*Server, *httptest.Server) {
	t.Helper()
	s := New("", NewHub(), snap)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestStatusSnapshot(t *testing.T) {
	_, ts := newTestServer(t, func() Snapshot {
		return Snapshot{
			Me:          "cheese",
			ActiveGames: []string{"g1", "g2"},
			Pending:     1,
			Results:     session.Tally{Wins: 3, Draws: 1},
			BookMode:    "mixed",
			EnginePath:  "/usr/bin/stockfish",
		}
	})
	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "cheese", got["me"])
	assert.Equal(t, []any{"g1", "g2"}, got["active_games"])
	assert.EqualValues(t, 1, got["pending_challenges"])
	assert.Equal(t, "mixed", got["book_mode"])
	results := got["results"].(map[string]any)
	assert.EqualValues(t, 3, results["wins"])
}

func TestStatusWithoutSnapshotHasEmptyGames(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"active_games":[]`)
}

func TestMetricsExposed(t *testing.T) {
	metrics.RecordOutgoing("sent")
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "lbot_outgoing_challenges_total"), "bot metrics registered")
}

func TestEventsStreamPublishedEvents(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	botevent.Emit(s.hub, botevent.GameStart, "g1", map[string]any{"color": "white"})

	var ev botevent.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, botevent.GameStart, ev.Kind)
	assert.Equal(t, "g1", ev.GameID)
	assert.Equal(t, "white", ev.Data["color"])

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	_, ch := h.subscribe()
	for range subscriberBuffer + 5 {
		h.Publish(botevent.Event{Kind: botevent.MovePlayed})
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.EqualValues(t, 5, h.Dropped())
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New("", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
