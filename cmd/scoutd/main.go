// Command scoutd runs the adaptive game-server polling daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bf1942ingest/scoutd/internal/config"
	"github.com/bf1942ingest/scoutd/internal/logging"
	"github.com/bf1942ingest/scoutd/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	return supervisor.Run(context.Background(), cfg, logger)
}
