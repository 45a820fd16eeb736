// Package supervisor owns process-scoped resource lifecycle: it wires
// the store, exclusion cache, querier, master-list client, and scheduler
// together, installs signal handling, and tears resources down in order
// on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bf1942ingest/scoutd/internal/config"
	"github.com/bf1942ingest/scoutd/internal/exclusions"
	"github.com/bf1942ingest/scoutd/internal/gamespy1"
	"github.com/bf1942ingest/scoutd/internal/masterlist"
	"github.com/bf1942ingest/scoutd/internal/model"
	"github.com/bf1942ingest/scoutd/internal/querier"
	"github.com/bf1942ingest/scoutd/internal/scheduler"
	"github.com/bf1942ingest/scoutd/internal/store"
)

// Run builds every component from cfg, starts the scheduler, and blocks
// until a SIGINT/SIGTERM arrives or the scheduler returns on its own. The
// database pool is closed last, after every worker and background task
// has drained.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	exclCache := exclusions.New(st, logger)

	q := querier.New(func(ctx context.Context, ip string, port int) (model.RawProbeResult, error) {
		return gamespy1.Query(ctx, ip, port)
	}, cfg.QueryTimeout(), logger)

	ml := masterlist.New(cfg.MasterListURL, logger)

	schedCfg := scheduler.Config{
		WorkerCount:             cfg.WorkerCount,
		PollIntervalActiveS:     cfg.PollIntervalActiveS,
		PollIntervalEmptyS:      cfg.PollIntervalEmptyS,
		PollIntervalOfflineS:    cfg.PollIntervalOfflineS,
		OfflineFailureThreshold: cfg.OfflineFailureThreshold,
		MasterListPollInterval:  cfg.MasterListPollInterval(),
		MasterListMaxBackoff:    cfg.MasterListMaxBackoff(),
	}
	sched := scheduler.New(schedCfg, q, st, exclCache, ml, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	logger.Info("scoutd starting", "worker_count", cfg.WorkerCount)
	if err := sched.Run(runCtx); err != nil {
		logger.Error("scheduler exited with error", "error", err)
		return err
	}
	logger.Info("scoutd shut down cleanly")
	return nil
}
