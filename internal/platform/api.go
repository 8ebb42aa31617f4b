package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/valyala/fasthttp"
)

func (c *Client) Account(ctx context.Context) (*User, error) {
	var u User
	err := c.call(ctx, "account", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodGet, "/api/account", nil, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) User(ctx context.Context, username string) (*PublicUser, error) {
	var u PublicUser
	err := c.call(ctx, "user_public_data", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodGet, "/api/user/"+url.PathEscape(username), nil, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) OngoingGames(ctx context.Context) ([]OngoingGame, error) {
	var out struct {
		NowPlaying []OngoingGame `json:"nowPlaying"`
	}
	err := c.call(ctx, "ongoing_games", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodGet, "/api/account/playing", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.NowPlaying, nil
}

func (c *Client) ExportGame(ctx context.Context, gameID string) (*ExportedGame, error) {
	var g ExportedGame
	err := c.call(ctx, "export_game", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodGet, "/game/export/"+url.PathEscape(gameID)+"?moves=true&clocks=false", nil, &g)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) AcceptChallenge(ctx context.Context, challengeID string) error {
	return c.call(ctx, "accept_challenge", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodPost, "/api/challenge/"+url.PathEscape(challengeID)+"/accept", nil, nil)
	})
}

func (c *Client) DeclineChallenge(ctx context.Context, challengeID, reason string) error {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	if reason != "" {
		args.Set("reason", reason)
	}
	return c.call(ctx, "decline_challenge", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodPost, "/api/challenge/"+url.PathEscape(challengeID)+"/decline", args, nil)
	})
}

// CreateChallenge challenges username and returns the new challenge id.
func (c *Client) CreateChallenge(ctx context.Context, username string, r ChallengeRequest) (string, error) {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("rated", strconv.FormatBool(r.Rated))
	args.Set("clock.limit", strconv.Itoa(r.ClockLimit))
	args.Set("clock.increment", strconv.Itoa(r.ClockIncrement))
	if r.Color != "" {
		args.Set("color", r.Color)
	}
	if r.Variant != "" {
		args.Set("variant", r.Variant)
	}

	var out struct {
		ID        string     `json:"id"`
		Challenge *Challenge `json:"challenge"`
	}
	err := c.call(ctx, "challenge_create", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodPost, "/api/challenge/"+url.PathEscape(username), args, &out)
	})
	if err != nil {
		return "", err
	}
	if out.Challenge != nil && out.Challenge.ID != "" {
		return out.Challenge.ID, nil
	}
	return out.ID, nil
}

func (c *Client) MakeMove(ctx context.Context, gameID, uci string) error {
	desc := fmt.Sprintf("make_move(%s)", uci)
	return c.call(ctx, desc, func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodPost, "/api/bot/game/"+url.PathEscape(gameID)+"/move/"+url.PathEscape(uci), nil, nil)
	})
}

func (c *Client) Resign(ctx context.Context, gameID string) error {
	return c.call(ctx, "resign_game", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodPost, "/api/bot/game/"+url.PathEscape(gameID)+"/resign", nil, nil)
	})
}

// PostChat writes text into room ("player" or "spectator").
func (c *Client) PostChat(ctx context.Context, gameID, room, text string) error {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("room", room)
	args.Set("text", text)
	return c.call(ctx, "post_chat", func(ctx context.Context) error {
		return c.doJSON(ctx, fasthttp.MethodPost, "/api/bot/game/"+url.PathEscape(gameID)+"/chat", args, nil)
	})
}

// StreamEvents opens the incoming event stream.
func (c *Client) StreamEvents(ctx context.Context) (*Stream, error) {
	return c.openStream(ctx, "/api/stream/event")
}

// StreamGame opens the state stream of one game.
func (c *Client) StreamGame(ctx context.Context, gameID string) (*Stream, error) {
	return c.openStream(ctx, "/api/bot/game/stream/"+url.PathEscape(gameID))
}

// OnlineBots reads up to n names from the online bots stream.
func (c *Client) OnlineBots(ctx context.Context, n int) ([]string, error) {
	s, err := c.openStream(ctx, "/api/bot/online?nb="+strconv.Itoa(n))
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var names []string
	for len(names) < n {
		line, err := s.Next()
		if err != nil {
			break
		}
		var u User
		if json.Unmarshal(line, &u) != nil {
			continue
		}
		if name := u.DisplayName(); name != "?" {
			names = append(names, name)
		}
	}
	return names, nil
}
