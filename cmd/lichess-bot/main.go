package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/botbuilder"
	"github.com/park285/Cheese-Lichess-bot/internal/config"
	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if errors.Is(err, config.ErrMissingToken) || errors.Is(err, config.ErrMissingEngine) {
		botbuilder.FatalBlocking(ctx, "required configuration missing", err)
		return
	}
	if err != nil {
		botbuilder.FatalBlocking(ctx, "invalid configuration", err)
		return
	}
	if _, err := os.Stat(cfg.StockfishPath); err != nil {
		botbuilder.FatalBlocking(ctx, "engine binary not found", err)
		return
	}

	bot, err := botbuilder.New(ctx, cfg)
	if err != nil {
		obslog.L().Error("startup_failed", zap.Error(err))
		_ = obslog.L().Sync()
		os.Exit(1)
	}
	defer bot.Close()

	obslog.L().Info("bot_started", zap.String("me", bot.Me), zap.Int("max_games", cfg.MaxActiveGames))
	if err := bot.Run(ctx); err != nil {
		obslog.L().Error("bot_stopped", zap.Error(err))
	}
	obslog.L().Info("bot_shutdown")
	_ = obslog.L().Sync()
}
