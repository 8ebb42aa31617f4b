package admission

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/botevent"
	"github.com/park285/Cheese-Lichess-bot/internal/metrics"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
	"github.com/park285/Cheese-Lichess-bot/internal/platform"
	"github.com/park285/Cheese-Lichess-bot/internal/resilience"
	"github.com/park285/Cheese-Lichess-bot/internal/session"
)

// ChallengeAPI answers inbound challenges.
type ChallengeAPI interface {
	AcceptChallenge(ctx context.Context, challengeID string) error
	DeclineChallenge(ctx context.Context, challengeID, reason string) error
}

// GameStarter launches sessions; Start is false for duplicates.
type GameStarter interface {
	Start(ctx context.Context, info *platform.GameInfo) bool
	Active() int
}

// EventOpener opens the account's incoming event stream.
type EventOpener func(ctx context.Context) (resilience.Source[json.RawMessage], error)

type ListenerConfig struct {
	Me             string
	MaxActiveGames int
	Policy         Policy
	Tournament     TournamentGate
	ReconnectDelay time.Duration
}

// Listener consumes the incoming event stream: it answers challenges,
// starts sessions and keeps outgoing-challenge bookkeeping tidy.
type Listener struct {
	cfg     ListenerConfig
	api     ChallengeAPI
	games   GameStarter
	pending *session.Pending
	events  botevent.Publisher
	open    EventOpener
}

func NewListener(cfg ListenerConfig, api ChallengeAPI, games GameStarter, pending *session.Pending, open EventOpener, events botevent.Publisher) *Listener {
	if events == nil {
		events = botevent.Nop{}
	}
	cfg.Me = strings.ToLower(cfg.Me)
	cfg.Policy.Me = cfg.Me
	return &Listener{cfg: cfg, api: api, games: games, pending: pending, events: events, open: open}
}

// Run consumes events until ctx is done, reconnecting as needed.
func (l *Listener) Run(ctx context.Context) error {
	obslog.For(ctx).Info("listening_for_events")
	for raw := range resilience.Reconnect(ctx, "events", l.cfg.ReconnectDelay, resilience.Opener[json.RawMessage](l.open)) {
		ev, err := platform.DecodeEvent(raw)
		if err != nil {
			obslog.For(ctx).Warn("event_invalid", zap.Error(err))
			continue
		}
		l.Handle(ctx, ev)
	}
	return ctx.Err()
}

func (l *Listener) Handle(ctx context.Context, ev platform.Event) {
	switch ev.Type {
	case platform.EventChallenge:
		l.onChallenge(ctx, ev.Challenge)
	case platform.EventChallengeDeclined, platform.EventChallengeCanceled:
		if ev.Challenge.ChallengerID() == l.cfg.Me {
			l.clearPending(ctx, ev.Challenge.DestID(), ev.Type)
		}
	case platform.EventGameStart:
		l.onGameStart(ctx, ev.Game)
	case platform.EventGameFinish:
		if opp := ev.Game.Opponent.ID; opp != "" {
			l.pending.Remove(ctx, opp)
		}
	}
}

func (l *Listener) onChallenge(ctx context.Context, ch *platform.Challenge) {
	log := obslog.For(ctx).With(zap.String("challenge_id", ch.ID))
	inbound := ch.DestID() == l.cfg.Me
	outgoing := ch.ChallengerID() == l.cfg.Me
	name := "?"
	if ch.Challenger != nil {
		name = ch.Challenger.DisplayName()
	}

	if l.cfg.Tournament.Enabled && inbound {
		l.decline(ctx, ch, name, "tournament_only", ReasonGeneric)
		return
	}
	if outgoing {
		if !isOpen(ch.Status) {
			l.clearPending(ctx, ch.DestID(), ch.Status)
		}
		return
	}
	if !inbound {
		return
	}

	if l.games.Active() >= l.cfg.MaxActiveGames {
		l.decline(ctx, ch, name, "capacity", ReasonLater)
		return
	}
	ok, reason := l.cfg.Policy.Evaluate(ch)
	if !ok {
		l.decline(ctx, ch, name, reason, reason)
		return
	}
	if err := l.api.AcceptChallenge(ctx, ch.ID); err != nil {
		if resilience.IsBenign(err) {
			log.Info("challenge_gone", zap.Error(err))
		} else {
			log.Warn("challenge_accept_failed", zap.Error(err))
		}
		return
	}
	metrics.RecordChallenge("accepted", "")
	botevent.Emit(l.events, botevent.ChallengeAccepted, "", map[string]any{"challenge_id": ch.ID, "from": name})
	log.Info("challenge_accepted",
		zap.String("from", name),
		zap.Int("base_s", ch.TimeControl.Limit),
		zap.Int("inc_s", ch.TimeControl.Increment),
		zap.Bool("rated", ch.Rated),
	)
}

func (l *Listener) decline(ctx context.Context, ch *platform.Challenge, name, why, reason string) {
	log := obslog.For(ctx).With(zap.String("challenge_id", ch.ID))
	if err := l.api.DeclineChallenge(ctx, ch.ID, reason); err != nil {
		if resilience.IsBenign(err) {
			log.Info("challenge_gone", zap.Error(err))
		} else {
			log.Warn("challenge_decline_failed", zap.Error(err))
		}
		return
	}
	metrics.RecordChallenge("declined", why)
	botevent.Emit(l.events, botevent.ChallengeDeclined, "", map[string]any{"challenge_id": ch.ID, "from": name, "reason": why})
	log.Info("challenge_declined",
		zap.String("from", name),
		zap.String("why", why),
		zap.Int("base_s", ch.TimeControl.Limit),
		zap.String("variant", ch.Variant.Key),
	)
}

func (l *Listener) onGameStart(ctx context.Context, info *platform.GameInfo) {
	log := obslog.For(ctx).With(zap.String("game_id", info.GID()))
	if ok, why := l.cfg.Tournament.Admit(info); !ok {
		log.Info("game_start_ignored", zap.String("why", why), zap.String("source", info.Source))
		return
	}
	if opp := info.Opponent.ID; opp != "" {
		l.pending.Remove(ctx, opp)
	}
	l.games.Start(ctx, info)
}

func (l *Listener) clearPending(ctx context.Context, opponent, status string) {
	if opponent == "" {
		return
	}
	if l.pending.Remove(ctx, opponent) {
		obslog.For(ctx).Info("pending_cleared", zap.String("opponent", opponent), zap.String("status", status))
	}
}
