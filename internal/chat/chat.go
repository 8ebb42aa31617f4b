// Package chat posts greeting and goodbye lines into game chat rooms.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/park285/Cheese-Lichess-bot/internal/config"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

const (
	RoomPlayer    = "player"
	RoomSpectator = "spectator"

	defaultInterval = 2 * time.Second
	defaultMaxLen   = 500
)

// Poster abstracts the platform chat endpoint.
type Poster interface {
	PostChat(ctx context.Context, gameID, room, text string) error
}

// Messages are the chat templates. Placeholders {me}, {opponent} and
// {engine} are substituted; unknown braces are left as written.
type Messages struct {
	Greeting           string
	Goodbye            string
	GreetingSpectators string
	GoodbyeSpectators  string
}

func DefaultMessages() Messages {
	return Messages{
		Greeting:           "Good luck & have fun!",
		Goodbye:            "GG! Thanks for the game.",
		GreetingSpectators: "Welcome, spectators! Enjoy the game 👋",
		GoodbyeSpectators:  "Thanks for watching!",
	}
}

// MessagesFrom overlays non-blank file messages on the defaults.
func MessagesFrom(fc *config.FileConfig) Messages {
	m := DefaultMessages()
	if fc == nil {
		return m
	}
	pick := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	pick(&m.Greeting, fc.Messages.Greeting)
	pick(&m.Goodbye, fc.Messages.Goodbye)
	pick(&m.GreetingSpectators, fc.Messages.GreetingSpectators)
	pick(&m.GoodbyeSpectators, fc.Messages.GoodbyeSpectators)
	return m
}

// Vars fill the template placeholders.
type Vars struct {
	Me       string
	Opponent string
	Engine   string
}

func (v Vars) render(tmpl string) string {
	return strings.NewReplacer("{me}", v.Me, "{opponent}", v.Opponent, "{engine}", v.Engine).Replace(tmpl)
}

// Chatter paces posts to one every interval across all games. Failures are
// logged and never returned.
type Chatter struct {
	poster  Poster
	msgs    Messages
	maxLen  int
	limiter *rate.Limiter
}

type Option func(*Chatter)

func WithInterval(d time.Duration) Option {
	return func(c *Chatter) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithMaxLen(n int) Option {
	return func(c *Chatter) {
		if n > 1 {
			c.maxLen = n
		}
	}
}

func New(p Poster, msgs Messages, opts ...Option) *Chatter {
	c := &Chatter{
		poster:  p,
		msgs:    msgs,
		maxLen:  defaultMaxLen,
		limiter: rate.NewLimiter(rate.Every(defaultInterval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chatter) Greet(ctx context.Context, gameID string, v Vars) {
	if c == nil {
		return
	}
	c.post(ctx, gameID, RoomPlayer, v.render(c.msgs.Greeting))
	c.post(ctx, gameID, RoomSpectator, v.render(c.msgs.GreetingSpectators))
}

func (c *Chatter) Goodbye(ctx context.Context, gameID string, v Vars) {
	if c == nil {
		return
	}
	c.post(ctx, gameID, RoomPlayer, v.render(c.msgs.Goodbye))
	c.post(ctx, gameID, RoomSpectator, v.render(c.msgs.GoodbyeSpectators))
}

func (c *Chatter) post(ctx context.Context, gameID, room, text string) {
	text = Truncate(strings.TrimSpace(text), c.maxLen)
	if text == "" || c.poster == nil {
		return
	}
	log := obslog.For(ctx)
	if err := c.limiter.Wait(ctx); err != nil {
		log.Debug("chat_skipped", zap.String("room", room), zap.Error(err))
		return
	}
	if err := c.poster.PostChat(ctx, gameID, room, text); err != nil {
		log.Warn("chat_post_failed", zap.String("room", room), zap.Error(err))
	}
}

// Truncate cuts s to at most max runes, ending with an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
