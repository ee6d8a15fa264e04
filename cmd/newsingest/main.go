package main

import (
	"context"
	"os"

	"NewsDesk/internal/app"
	"NewsDesk/internal/config"
	"NewsDesk/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	job, err := app.NewIngestJob(ctx, cfg, logger)
	if err != nil {
		logger.Error("ingest init failed", "error", err)
		os.Exit(1)
	}

	if err := job.Run(ctx); err != nil {
		logger.Error("ingest run failed", "error", err)
		os.Exit(1)
	}
}
