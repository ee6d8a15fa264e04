package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"NewsDesk/internal/app"
	"NewsDesk/internal/config"
	"NewsDesk/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	service, err := app.NewService(ctx, cfg, logger)
	if err != nil {
		logger.Error("service init failed", "error", err)
		os.Exit(1)
	}

	if err := service.Run(ctx); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}
