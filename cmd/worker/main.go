package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rl1809/order-saga/internal/app"
	"github.com/rl1809/order-saga/internal/config"
	"github.com/rl1809/order-saga/internal/logger"
)

func main() {
	cfg := config.Load(":8090")
	log := logger.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunWorker(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("worker exited")
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}
