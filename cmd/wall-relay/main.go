package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/moneyfestation-dev/manifest-wall/internal/app"
	"github.com/moneyfestation-dev/manifest-wall/internal/config"
	"github.com/moneyfestation-dev/manifest-wall/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to relay config")
	flag.Parse()

	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger()

	application, err := app.BuildRelay(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("event relay started",
		slog.String("stream", cfg.Relay.Stream),
		slog.Int("batch_size", cfg.Relay.BatchSize),
		slog.Duration("poll_interval", application.PollInterval))
	if err := application.Relay.Run(ctx, application.PollInterval); err != nil {
		logger.Error("event relay stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("event relay stopped")
}
