package obslog

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const gameIDKey ctxKey = "game_id"

// ContextWithGameID tags ctx so loggers derived through For carry the game id.
func ContextWithGameID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, gameIDKey, id)
}

func GameIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(gameIDKey).(string); ok {
		return v
	}
	return ""
}

// For returns the global logger, with a game_id field when ctx carries one.
func For(ctx context.Context) *zap.Logger {
	if id := GameIDFromContext(ctx); id != "" {
		return L().With(zap.String("game_id", id))
	}
	return L()
}
