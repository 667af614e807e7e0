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
	configPath := flag.String("config", "configs/node.yaml", "path to node config")
	flag.Parse()

	cfg, err := config.LoadNode(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger()
	application, err := app.BuildNode(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if err := application.Close(); err != nil {
		logger.Error("close failed", slog.String("error", err.Error()))
	}
	if runErr != nil {
		logger.Error("wall node stopped with error", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
