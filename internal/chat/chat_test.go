package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Lichess-bot/internal/config"
)

type post struct{ game, room, text string }

type recordingPoster struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (r *recordingPoster) PostChat(_ context.Context, gameID, room, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, post{gameID, room, text})
	return r.err
}

func TestGreetRendersTemplates(t *testing.T) {
	p := &recordingPoster{}
	msgs := Messages{Greeting: "Hi {opponent}, {me} here with {engine}", GreetingSpectators: "Watch {me}"}
	c := New(p, msgs, WithInterval(0))

	c.Greet(context.Background(), "g1", Vars{Me: "bot", Opponent: "alice", Engine: "Stockfish"})

	require.Len(t, p.posts, 2)
	assert.Equal(t, post{"g1", RoomPlayer, "Hi alice, bot here with Stockfish"}, p.posts[0])
	assert.Equal(t, post{"g1", RoomSpectator, "Watch bot"}, p.posts[1])
}

func TestBlankTemplateIsSkipped(t *testing.T) {
	p := &recordingPoster{}
	c := New(p, Messages{Goodbye: "GG"}, WithInterval(0))
	c.Goodbye(context.Background(), "g1", Vars{})
	require.Len(t, p.posts, 1)
	assert.Equal(t, RoomPlayer, p.posts[0].room)
}

func TestPostFailureIsSwallowed(t *testing.T) {
	p := &recordingPoster{err: errors.New("boom")}
	c := New(p, DefaultMessages(), WithInterval(0))
	c.Greet(context.Background(), "g1", Vars{})
	assert.Len(t, p.posts, 2)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", 600)
	out := Truncate(long, 500)
	assert.Equal(t, 500, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Equal(t, "short", Truncate("short", 500))
}

func TestMessagesFromFileOverlaysNonBlank(t *testing.T) {
	fc := &config.FileConfig{Messages: config.Messages{Greeting: "  hello  ", Goodbye: "   "}}
	m := MessagesFrom(fc)
	assert.Equal(t, "hello", m.Greeting)
	assert.Equal(t, DefaultMessages().Goodbye, m.Goodbye)
	assert.Equal(t, DefaultMessages(), MessagesFrom(nil))
}

func TestNilChatterIsSafe(t *testing.T) {
	var c *Chatter
	c.Greet(context.Background(), "g1", Vars{})
	c.Goodbye(context.Background(), "g1", Vars{})
}
