// cmd/sweep/main.go runs the overdue sweep once, for cron-style deployments.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jules-labs/librarydesk/internal/config"
	"github.com/jules-labs/librarydesk/internal/logging"
	"github.com/jules-labs/librarydesk/internal/server"
	"github.com/jules-labs/librarydesk/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	deps, err := server.NewDeps(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	updated, err := deps.Circulation.SweepOverdue(ctx)
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	logger.Info("overdue sweep done", "updated", len(updated))
	return nil
}
