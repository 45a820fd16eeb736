// Package scheduler implements the adaptive polling scheduler: it seeds
// a Known-Set from the store, discovers new servers from the master
// list, keeps exactly one live Poll Entry per known, unparked address,
// parks addresses the Exclusion Cache currently excludes, and runs a
// worker pool that probes each entry as it comes due and reschedules it
// according to the next-delay policy.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bf1942ingest/scoutd/internal/exclusions"
	"github.com/bf1942ingest/scoutd/internal/model"
)

// materializedViewRefreshInterval matches the exclusion cache's refresh
// cadence; both are periodic maintenance tasks with no external trigger.
const materializedViewRefreshInterval = 300 * time.Second

// Prober probes a single server. internal/querier.Querier satisfies this.
type Prober interface {
	Query(ctx context.Context, addr model.Address) (model.RawProbeResult, error)
}

// Recorder is the subset of the store adapter the scheduler drives.
type Recorder interface {
	ProcessSuccess(ctx context.Context, addr model.Address, raw model.RawProbeResult, excl *exclusions.Snapshot) error
	ProcessFailure(ctx context.Context, addr model.Address, offlineThreshold int) error
	LoadKnownServers(ctx context.Context) ([]model.Address, error)
	RefreshMaterializedView(ctx context.Context) error
}

// MasterList discovers the current server population.
type MasterList interface {
	Run(ctx context.Context, baseInterval, maxBackoff time.Duration, onServers func([]model.Address))
}

// Config is the subset of tunables the scheduler needs, kept narrow so
// tests can construct one without the full env-loaded config.
type Config struct {
	WorkerCount             int
	PollIntervalActiveS     int
	PollIntervalEmptyS      int
	PollIntervalOfflineS    int
	OfflineFailureThreshold int
	MasterListPollInterval  time.Duration
	MasterListMaxBackoff    time.Duration
}

// Scheduler owns the Poll Entry queue plus the Known-Set and Parked-Set.
type Scheduler struct {
	cfg        Config
	queue      *Queue
	prober     Prober
	store      Recorder
	exclusions *exclusions.Cache
	masterList MasterList
	logger     *slog.Logger

	mu     sync.Mutex
	known  map[model.Address]struct{}
	parked map[model.Address]struct{}
}

// New builds a Scheduler. Call Run to seed the Known-Set and start the
// worker pool and background tasks.
func New(cfg Config, prober Prober, store Recorder, excl *exclusions.Cache, masterList MasterList, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		queue:      NewQueue(),
		prober:     prober,
		store:      store,
		exclusions: excl,
		masterList: masterList,
		logger:     logger,
		known:      make(map[model.Address]struct{}),
		parked:     make(map[model.Address]struct{}),
	}
}

// Run seeds the Known-Set, starts the worker pool plus the discovery,
// exclusion-refresh, and materialized-view-refresh background tasks, and
// blocks until ctx is canceled or a background task returns an error.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.seed(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.exclusions.Run(ctx, 300*time.Second, s.releaseParked)
		return nil
	})

	g.Go(func() error {
		s.masterList.Run(ctx, s.cfg.MasterListPollInterval, s.cfg.MasterListMaxBackoff, s.onDiscovered)
		return nil
	})

	g.Go(func() error {
		s.refreshMaterializedViewLoop(ctx)
		return nil
	})

	for i := 0; i < s.cfg.WorkerCount; i++ {
		g.Go(func() error {
			s.worker(ctx)
			return nil
		})
	}

	return g.Wait()
}

// seed refreshes the exclusion cache first (so the first pass over known
// servers parks correctly), then loads every known address from the
// store, parking excluded ones and enqueueing the rest immediately.
func (s *Scheduler) seed(ctx context.Context) error {
	snap, err := s.exclusions.Refresh(ctx)
	if err != nil {
		return err
	}

	addrs, err := s.store.LoadKnownServers(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range addrs {
		s.known[addr] = struct{}{}
		if exclusions.Excludes(snap, addr) {
			s.parked[addr] = struct{}{}
			continue
		}
		s.queue.Push(addr, time.Now())
	}
	return nil
}

// onDiscovered admits newly-seen addresses into the Known-Set, parking
// or enqueueing each per the current exclusion snapshot. Addresses
// already known are left untouched — the Known-Set only grows.
func (s *Scheduler) onDiscovered(addrs []model.Address) {
	snap := s.exclusions.Current()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range addrs {
		if _, known := s.known[addr]; known {
			continue
		}
		s.known[addr] = struct{}{}
		if exclusions.Excludes(snap, addr) {
			s.parked[addr] = struct{}{}
			continue
		}
		s.queue.Push(addr, time.Now())
	}
}

// releaseParked is the exclusion cache's refresh callback: any parked
// address no longer excluded under the new snapshot is unparked and
// enqueued immediately. It never scans or evicts a live Poll Entry —
// a server excluded mid-flight is caught by the worker's own re-check
// instead, at the cost of at most one spurious probe.
func (s *Scheduler) releaseParked(snap *exclusions.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr := range s.parked {
		if !exclusions.Excludes(snap, addr) {
			delete(s.parked, addr)
			s.queue.Push(addr, time.Now())
		}
	}
}

func (s *Scheduler) park(addr model.Address) {
	s.mu.Lock()
	s.parked[addr] = struct{}{}
	s.mu.Unlock()
}

// worker pops due entries and processes them until ctx is canceled.
func (s *Scheduler) worker(ctx context.Context) {
	for {
		addr, ok := s.queue.PopDue(ctx)
		if !ok {
			return
		}

		if s.exclusions.IsServerExcluded(addr) {
			s.park(addr)
			continue
		}

		attemptID := uuid.New().String()

		result, err := s.prober.Query(ctx, addr)
		if err != nil {
			if procErr := s.store.ProcessFailure(ctx, addr, s.cfg.OfflineFailureThreshold); procErr != nil {
				s.logger.Error("failed to record probe failure", "attempt_id", attemptID, "ip", addr.IP, "port", addr.Port, "error", procErr)
			}
			s.queue.Push(addr, time.Now().Add(time.Duration(s.cfg.PollIntervalOfflineS)*time.Second))
			continue
		}

		if procErr := s.store.ProcessSuccess(ctx, addr, result, s.exclusions.Current()); procErr != nil {
			s.logger.Error("failed to record probe success", "attempt_id", attemptID, "ip", addr.IP, "port", addr.Port, "error", procErr)
			s.queue.Push(addr, time.Now().Add(time.Duration(s.cfg.PollIntervalOfflineS)*time.Second))
			continue
		}

		delaySeconds := nextDelaySeconds(result.Info, s.cfg.PollIntervalActiveS, s.cfg.PollIntervalEmptyS)
		s.queue.Push(addr, time.Now().Add(time.Duration(delaySeconds)*time.Second))
	}
}

func (s *Scheduler) refreshMaterializedViewLoop(ctx context.Context) {
	ticker := time.NewTicker(materializedViewRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.RefreshMaterializedView(ctx); err != nil {
				s.logger.Warn("materialized view refresh failed", "error", err)
			}
		}
	}
}
