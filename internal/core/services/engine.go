package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driving"
	"github.com/custodia-labs/conduit-core/internal/pool"
	"github.com/custodia-labs/conduit-core/internal/processor"
)

// Verify interface compliance
var _ driving.SyncRunner = (*SyncEngine)(nil)

const defaultBatchSize = 200

// SyncEngine coordinates one endpoint sync end to end:
//  1. Resolve the source and endpoint
//  2. Guard against a sync already in progress
//  3. Mark the watermark running
//  4. Fetch pages through the target's connection pool
//  5. Transform and validate each record
//  6. Bulk-upsert batches with per-record fallback
//  7. Record the run and advance the watermark on success
//
// Within one endpoint the engine is strictly sequential: page N+1 is not
// fetched until page N's batch has been persisted.
type SyncEngine struct {
	sourceStore driven.SourceStore
	recordStore driven.RecordStore
	history     driven.SyncHistoryStore
	connectors  driven.ConnectorFactory
	processors  *processor.Registry
	pools       *pool.Manager
	retry       pool.RetryConfig
	batchSize   int
	policy      domain.ConflictPolicy
	logger      *slog.Logger
}

// SyncEngineConfig holds dependencies for SyncEngine.
type SyncEngineConfig struct {
	SourceStore driven.SourceStore
	RecordStore driven.RecordStore
	History     driven.SyncHistoryStore
	Connectors  driven.ConnectorFactory
	Processors  *processor.Registry
	Pools       *pool.Manager
	Retry       pool.RetryConfig
	BatchSize   int
	Policy      domain.ConflictPolicy
	Logger      *slog.Logger
}

// NewSyncEngine creates a new sync engine.
func NewSyncEngine(cfg SyncEngineConfig) *SyncEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	policy := cfg.Policy
	if policy == "" {
		policy = domain.ConflictUpdate
	}

	return &SyncEngine{
		sourceStore: cfg.SourceStore,
		recordStore: cfg.RecordStore,
		history:     cfg.History,
		connectors:  cfg.Connectors,
		processors:  cfg.Processors,
		pools:       cfg.Pools,
		retry:       cfg.Retry,
		batchSize:   batchSize,
		policy:      policy,
		logger:      logger,
	}
}

// Run executes one sync of an endpoint.
func (e *SyncEngine) Run(ctx context.Context, sourceName, endpointName string, opts domain.RunOptions) (*domain.SyncRun, error) {
	mode := resolveMode(opts)
	run := domain.NewSyncRun(sourceName, endpointName, mode)
	run.DryRun = opts.DryRun
	run.WindowStart = opts.WindowStart
	run.WindowEnd = opts.WindowEnd

	e.logger.Info("starting sync",
		"source", sourceName,
		"endpoint", endpointName,
		"mode", mode,
		"dry_run", opts.DryRun,
	)

	source, err := e.sourceStore.Get(ctx, sourceName)
	if err != nil {
		return e.failRun(ctx, run, nil, fmt.Errorf("failed to get source: %w", err))
	}
	if !source.Enabled && !opts.Force {
		return e.failRun(ctx, run, nil, fmt.Errorf("source %s: %w", sourceName, domain.ErrSourceDisabled))
	}

	endpoint, err := source.Endpoint(endpointName)
	if err != nil {
		return e.failRun(ctx, run, nil, err)
	}
	if !endpoint.Enabled && !opts.Force {
		return e.failRun(ctx, run, nil, fmt.Errorf("endpoint %s/%s: %w", sourceName, endpointName, domain.ErrSourceDisabled))
	}

	wm, err := e.history.GetWatermark(ctx, sourceName, endpointName)
	if err != nil {
		return e.failRun(ctx, run, nil, fmt.Errorf("failed to get watermark: %w", err))
	}

	// A watermark stuck in running means another instance is mid-sync.
	// The watermark row is left alone so that run can finish it.
	if wm.Status == domain.WatermarkStatusRunning && !opts.Force {
		return e.failRun(ctx, run, nil,
			fmt.Errorf("%s/%s: %w", sourceName, endpointName, domain.ErrSyncInProgress))
	}

	proc, err := e.processors.Get(endpointName)
	if err != nil {
		return e.failRun(ctx, run, nil, err)
	}

	connector, err := e.connectors.Create(source, endpoint)
	if err != nil {
		return e.failRun(ctx, run, nil, fmt.Errorf("failed to create connector: %w", err))
	}
	defer closeConnector(connector)

	run.Start()
	if err := e.history.RecordRun(ctx, run); err != nil {
		e.logger.Warn("failed to record run start", "run_id", run.ID, "error", err)
	}

	if !opts.DryRun {
		now := time.Now()
		wm.Status = domain.WatermarkStatusRunning
		wm.StartedAt = &now
		wm.CompletedAt = nil
		wm.ErrorMessage = ""
		if err := e.history.SaveWatermark(ctx, wm); err != nil {
			return e.failRun(ctx, run, nil, fmt.Errorf("failed to mark watermark running: %w", err))
		}
	}

	target := e.pools.Get(sourceName)

	err = pool.RetryTransient(ctx, e.retry, func() error {
		return target.Do(ctx, connector.TestConnection)
	})
	if err != nil {
		return e.failRun(ctx, run, wm, fmt.Errorf("connection test failed: %w", err))
	}

	filter := e.buildFilter(wm, opts, mode)
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.batchSize
	}

	tally, err := e.pump(ctx, run, proc, connector, target, filter, batchSize, opts)
	run.TotalRecords = tally.total
	run.SuccessCount = tally.successCount()
	run.ErrorCount = tally.errorCount()
	if err != nil {
		return e.failRun(ctx, run, wm, err)
	}

	run.Complete(domain.RunStatusSucceeded, "")
	if err := e.history.RecordRun(ctx, run); err != nil {
		e.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}

	if !opts.DryRun {
		wm.Status = domain.WatermarkStatusSuccess
		wm.TotalRecords = tally.total
		wm.SuccessCount = tally.successCount()
		wm.ErrorCount = tally.errorCount()
		wm.CompletedAt = run.CompletedAt
		wm.ErrorMessage = ""

		// Prefer the max source-side modification time; an incremental or
		// full run with no better signal advances to its own end time.
		advanceTo := tally.maxModified
		if advanceTo.IsZero() && mode != domain.SyncModeWindow {
			advanceTo = *run.CompletedAt
		}
		wm.Advance(advanceTo)

		if err := e.history.SaveWatermark(ctx, wm); err != nil {
			return e.failRun(ctx, run, nil, fmt.Errorf("failed to save watermark: %w", err))
		}
	}

	e.logger.Info("sync complete",
		"source", sourceName,
		"endpoint", endpointName,
		"total", tally.total,
		"success", tally.successCount(),
		"errors", tally.errorCount(),
		"duration_s", run.Duration(),
	)

	return run, nil
}

// RunAll syncs every enabled endpoint of every enabled source. Run-level
// failures are collected, not fatal: each endpoint still gets its attempt.
func (e *SyncEngine) RunAll(ctx context.Context, opts domain.RunOptions) ([]*domain.SyncRun, error) {
	sources, err := e.sourceStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	var runs []*domain.SyncRun
	var errs []error

	for _, source := range sources {
		if !source.Enabled && !opts.Force {
			continue
		}
		for _, endpoint := range source.Endpoints {
			if !endpoint.Enabled && !opts.Force {
				continue
			}
			run, err := e.Run(ctx, source.Name, endpoint.Name, opts)
			runs = append(runs, run)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", source.Name, endpoint.Name, err))
			}
			if ctx.Err() != nil {
				return runs, errors.Join(append(errs, ctx.Err())...)
			}
		}
	}

	return runs, errors.Join(errs...)
}

// Status returns the watermark for an endpoint.
func (e *SyncEngine) Status(ctx context.Context, source, endpoint string) (*domain.Watermark, error) {
	return e.history.GetWatermark(ctx, source, endpoint)
}

// Source returns one source definition.
func (e *SyncEngine) Source(ctx context.Context, name string) (*domain.Source, error) {
	return e.sourceStore.Get(ctx, name)
}

// Sources returns all source definitions.
func (e *SyncEngine) Sources(ctx context.Context) ([]*domain.Source, error) {
	return e.sourceStore.List(ctx)
}

// tally accumulates counters across the run. Store outcomes are merged into
// one BatchResult; processor rejections are counted separately since they
// never reach the store.
type tally struct {
	total       int
	rejects     int
	stored      domain.BatchResult
	maxModified time.Time
}

func (t *tally) successCount() int { return t.stored.Persisted }

func (t *tally) errorCount() int { return t.rejects + len(t.stored.Rejected) }

// pump drives the fetch/transform/persist loop until the connector reports
// no more pages.
func (e *SyncEngine) pump(ctx context.Context, run *domain.SyncRun, proc *processor.Processor,
	connector driven.Connector, target *pool.Pool, filter driven.PageFilter,
	batchSize int, opts domain.RunOptions) (*tally, error) {

	t := &tally{}
	cursor := ""
	batch := make([]*domain.CanonicalRecord, 0, batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return t, err
		}

		var page []domain.RawRecord
		var next string
		err := pool.RetryTransient(ctx, e.retry, func() error {
			return target.Do(ctx, func(opCtx context.Context) error {
				var fetchErr error
				page, next, fetchErr = connector.FetchPage(opCtx, cursor, filter)
				return fetchErr
			})
		})
		if err != nil {
			return t, fmt.Errorf("failed to fetch page: %w", err)
		}

		for _, raw := range page {
			t.total++

			rec, warnings, rejection := proc.Transform(raw)
			for _, w := range warnings {
				e.logger.Debug("field nulled during transform",
					"source", run.Source, "endpoint", run.Endpoint,
					"field", w.Field, "reason", w.Message)
			}
			if rejection != nil {
				t.rejects++
				e.logger.Warn("record rejected",
					"source", run.Source, "endpoint", run.Endpoint,
					"external_id", rejection.ExternalID,
					"reason", rejection.Reason,
					"fields", rejection.Fields)
				continue
			}

			// HTTP sources cannot filter the window's upper bound server
			// side, so it is enforced here.
			if opts.WindowEnd != nil && rec.ModifiedAt != nil && rec.ModifiedAt.After(*opts.WindowEnd) {
				continue
			}

			if rec.ModifiedAt != nil && rec.ModifiedAt.After(t.maxModified) {
				t.maxModified = *rec.ModifiedAt
			}

			batch = append(batch, rec)
			if len(batch) >= batchSize {
				if err := e.flush(ctx, run, t, batch, opts.DryRun); err != nil {
					return t, err
				}
				batch = batch[:0]
			}
		}

		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	if err := e.flush(ctx, run, t, batch, opts.DryRun); err != nil {
		return t, err
	}
	return t, nil
}

// flush persists one accumulated batch. In dry-run mode it only counts what
// would have been persisted.
func (e *SyncEngine) flush(ctx context.Context, run *domain.SyncRun, t *tally,
	batch []*domain.CanonicalRecord, dryRun bool) error {

	if len(batch) == 0 {
		return nil
	}
	if dryRun {
		t.stored.Merge(&domain.BatchResult{Persisted: len(batch)})
		return nil
	}

	var result *domain.BatchResult
	err := pool.RetryTransient(ctx, e.retry, func() error {
		var upsertErr error
		result, upsertErr = e.recordStore.UpsertBatch(ctx, batch, e.policy)
		return upsertErr
	})
	if err != nil {
		return fmt.Errorf("failed to persist batch: %w", err)
	}

	t.stored.Merge(result)
	for _, rej := range result.Rejected {
		e.logger.Warn("record rejected by store",
			"source", run.Source, "endpoint", run.Endpoint,
			"external_id", rej.ExternalID,
			"column", rej.Column,
			"limit", rej.Limit,
			"actual_length", rej.ActualLength,
			"detail", rej.Message)
	}
	return nil
}

// failRun closes out a run that did not succeed. Cancellation gets its own
// terminal status; everything else is a failure. When wm is non-nil the
// watermark row records the failure and the counts so far, but its
// last_synced_at is never touched.
func (e *SyncEngine) failRun(ctx context.Context, run *domain.SyncRun, wm *domain.Watermark, cause error) (*domain.SyncRun, error) {
	status := domain.RunStatusFailed
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		status = domain.RunStatusCancelled
	}
	run.Complete(status, cause.Error())

	// Terminal run state is written even when the run never started
	// fetching; best effort against a store that may itself be down.
	saveCtx := context.WithoutCancel(ctx)
	if err := e.history.RecordRun(saveCtx, run); err != nil {
		e.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}

	if wm != nil && !run.DryRun {
		wm.Status = domain.WatermarkStatusFailed
		wm.TotalRecords = run.TotalRecords
		wm.SuccessCount = run.SuccessCount
		wm.ErrorCount = run.ErrorCount
		wm.CompletedAt = run.CompletedAt
		wm.ErrorMessage = cause.Error()
		if err := e.history.SaveWatermark(saveCtx, wm); err != nil {
			e.logger.Warn("failed to save watermark", "source", run.Source, "endpoint", run.Endpoint, "error", err)
		}
	}

	e.logger.Error("sync did not complete",
		"source", run.Source,
		"endpoint", run.Endpoint,
		"status", status,
		"error", cause)

	return run, cause
}

// buildFilter translates the run mode into the connector-side filter.
func (e *SyncEngine) buildFilter(wm *domain.Watermark, opts domain.RunOptions, mode domain.SyncMode) driven.PageFilter {
	filter := driven.PageFilter{PageSize: opts.BatchSize}
	switch mode {
	case domain.SyncModeIncremental:
		filter.ModifiedAfter = wm.LastSyncedAt
	case domain.SyncModeWindow:
		filter.WindowStart = opts.WindowStart
		filter.WindowEnd = opts.WindowEnd
	}
	return filter
}

func resolveMode(opts domain.RunOptions) domain.SyncMode {
	if opts.Mode != "" {
		return opts.Mode
	}
	if opts.WindowStart != nil || opts.WindowEnd != nil {
		return domain.SyncModeWindow
	}
	return domain.SyncModeIncremental
}

// closeConnector releases connector resources for implementations that hold
// any (the SQL connector owns a connection pool).
func closeConnector(c driven.Connector) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
