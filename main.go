package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"phantom-wallet-bot/internal/bot"
	"phantom-wallet-bot/internal/config"
	"phantom-wallet-bot/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Log.Fatal().Err(err).Msg("config")
	}
	logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx, cfg); err != nil {
		logging.Log.Error().Err(err).Msg("bot stopped")
		os.Exit(1)
	}
}
