package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Gates are deployment-level switches consulted once per build cycle.
// A gated-off source or job is excluded from the active set entirely;
// changing a gate does not affect tasks already dispatched.
type Gates struct {
	// DisabledSources names sources excluded regardless of their stored
	// enabled flag.
	DisabledSources map[string]bool

	// DisabledJobs names "source/endpoint" jobs excluded individually.
	DisabledJobs map[string]bool
}

func (g Gates) allows(source, endpoint string) bool {
	if g.DisabledSources[source] {
		return false
	}
	return !g.DisabledJobs[domain.JobID(source, endpoint)]
}

// Scheduler owns the recurring sync job set. Each cycle it rebuilds the
// active set from the enabled sources, then dispatches due jobs to the task
// queue. Jobs sharing a cadence are staggered deterministically so they do
// not all hit their targets at once.
//
// For multi-instance deployments, configure a DistributedLock so only one
// instance dispatches per cycle.
type Scheduler struct {
	sourceStore driven.SourceStore
	history     driven.SyncHistoryStore
	taskQueue   driven.TaskQueue
	lock        driven.DistributedLock
	gates       Gates
	logger      *slog.Logger

	// Internal state
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration
	entries  map[string]*domain.ScheduleEntry

	// Lock configuration
	lockTTL      time.Duration
	lockRequired bool

	// now is swappable for tests.
	now func() time.Time
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	SourceStore  driven.SourceStore
	History      driven.SyncHistoryStore
	TaskQueue    driven.TaskQueue
	Lock         driven.DistributedLock // Optional: coordination across instances
	Gates        Gates
	Logger       *slog.Logger
	PollInterval time.Duration // How often a cycle runs (default: 30s)
	LockTTL      time.Duration // TTL for the distributed lock (default: 60s)
	LockRequired bool          // If true, skip the cycle when the lock cannot be acquired
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 60 * time.Second
	}

	return &Scheduler{
		sourceStore:  cfg.SourceStore,
		history:      cfg.History,
		taskQueue:    cfg.TaskQueue,
		lock:         cfg.Lock,
		gates:        cfg.Gates,
		logger:       logger,
		interval:     interval,
		entries:      make(map[string]*domain.ScheduleEntry),
		lockTTL:      lockTTL,
		lockRequired: cfg.LockRequired,
		now:          time.Now,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "poll_interval", s.interval)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run a cycle immediately on start
	s.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle runs one scheduling cycle: rebuild the active job set, then dispatch
// every due job. Exported so a CLI can trigger a cycle directly.
func (s *Scheduler) Cycle(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, "scheduler", s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			if s.lockRequired {
				return
			}
		} else if !acquired {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle")
			return
		} else {
			defer func() {
				if err := s.lock.Release(ctx, "scheduler"); err != nil {
					s.logger.Warn("failed to release scheduler lock", "error", err)
				}
			}()
		}
	}

	if err := s.rebuildEntries(ctx); err != nil {
		s.logger.Error("failed to build active job set", "error", err)
		return
	}
	s.dispatchDue(ctx)
}

// rebuildEntries evaluates sources, endpoints and gates into the active job
// set. Entries that survive the rebuild keep their next-run slot; new
// entries start staggered within their cadence window.
func (s *Scheduler) rebuildEntries(ctx context.Context) error {
	sources, err := s.sourceStore.List(ctx)
	if err != nil {
		return err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]*domain.ScheduleEntry)
	for _, source := range sources {
		if !source.Enabled {
			continue
		}
		for _, endpoint := range source.Endpoints {
			if !endpoint.Enabled || !s.gates.allows(source.Name, endpoint.Name) {
				continue
			}

			jobID := domain.JobID(source.Name, endpoint.Name)
			if existing, ok := s.entries[jobID]; ok && existing.Cadence == source.Cadence {
				active[jobID] = existing
				continue
			}
			active[jobID] = domain.NewScheduleEntry(source.Name, endpoint.Name, source.Cadence, now)
		}
	}
	s.entries = active
	return nil
}

// dispatchDue enqueues a sync task for every due job. A job whose endpoint
// is still mid-sync is skipped, not queued behind itself.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.RLock()
	due := make([]domain.ScheduleEntry, 0)
	for _, entry := range s.entries {
		if entry.IsDue(now) {
			due = append(due, *entry)
		}
	}
	s.mu.RUnlock()

	for _, entry := range due {
		wm, err := s.history.GetWatermark(ctx, entry.Source, entry.Endpoint)
		if err != nil {
			s.logger.Error("failed to check watermark", "job", entry.JobID, "error", err)
			continue
		}
		if wm.Status == domain.WatermarkStatusRunning {
			s.logger.Debug("job still running, skipping trigger", "job", entry.JobID)
			s.advanceEntry(entry.JobID, now)
			continue
		}

		task := domain.NewSyncEndpointTask(entry.Source, entry.Endpoint)
		if err := s.taskQueue.Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue sync task", "job", entry.JobID, "error", err)
			continue
		}

		s.logger.Info("dispatched sync job",
			"job", entry.JobID,
			"task_id", task.ID,
			"next_run", s.advanceEntry(entry.JobID, now),
		)
	}
}

// advanceEntry moves a job to its next cadence slot and returns the new slot.
// A concurrent rebuild may have dropped the job; advancing is then a no-op.
func (s *Scheduler) advanceEntry(jobID string, now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[jobID]
	if !ok {
		return time.Time{}
	}
	entry.AdvanceNextRun(now)
	return entry.NextRun
}

// ActiveJobs returns a snapshot of the active job set, for health and debug
// output.
func (s *Scheduler) ActiveJobs() []domain.ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScheduleEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, *entry)
	}
	return out
}
