package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncHistoryStore = (*SyncHistoryStore)(nil)

// SyncHistoryStore implements driven.SyncHistoryStore using PostgreSQL.
type SyncHistoryStore struct {
	db *DB
}

// NewSyncHistoryStore creates a new SyncHistoryStore
func NewSyncHistoryStore(db *DB) *SyncHistoryStore {
	return &SyncHistoryStore{db: db}
}

// GetWatermark retrieves the watermark for a source/endpoint pair. A pair
// that has never synced gets a fresh zero watermark, not an error.
func (s *SyncHistoryStore) GetWatermark(ctx context.Context, source, endpoint string) (*domain.Watermark, error) {
	query := `
		SELECT source, endpoint, status, last_synced_at,
		       total_records, success_count, error_count,
		       started_at, completed_at, error_message
		FROM sync_watermarks
		WHERE source = $1 AND endpoint = $2
	`

	var wm domain.Watermark
	var lastSynced, startedAt, completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRowContext(ctx, query, source, endpoint).Scan(
		&wm.Source,
		&wm.Endpoint,
		&wm.Status,
		&lastSynced,
		&wm.TotalRecords,
		&wm.SuccessCount,
		&wm.ErrorCount,
		&startedAt,
		&completedAt,
		&errMsg,
	)
	if err == sql.ErrNoRows {
		return &domain.Watermark{Source: source, Endpoint: endpoint}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	wm.LastSyncedAt = TimePtr(lastSynced)
	wm.StartedAt = TimePtr(startedAt)
	wm.CompletedAt = TimePtr(completedAt)
	wm.ErrorMessage = errMsg.String

	return &wm, nil
}

// SaveWatermark upserts a watermark row.
func (s *SyncHistoryStore) SaveWatermark(ctx context.Context, wm *domain.Watermark) error {
	query := `
		INSERT INTO sync_watermarks (source, endpoint, status, last_synced_at,
		                             total_records, success_count, error_count,
		                             started_at, completed_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source, endpoint) DO UPDATE SET
			status = EXCLUDED.status,
			last_synced_at = EXCLUDED.last_synced_at,
			total_records = EXCLUDED.total_records,
			success_count = EXCLUDED.success_count,
			error_count = EXCLUDED.error_count,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message
	`

	_, err := s.db.ExecContext(ctx, query,
		wm.Source,
		wm.Endpoint,
		wm.Status,
		NullTime(wm.LastSyncedAt),
		wm.TotalRecords,
		wm.SuccessCount,
		wm.ErrorCount,
		NullTime(wm.StartedAt),
		NullTime(wm.CompletedAt),
		NullString(strPtr(wm.ErrorMessage)),
	)
	if err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}
	return nil
}

// RecordRun upserts a sync run row by its ID.
func (s *SyncHistoryStore) RecordRun(ctx context.Context, run *domain.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, source, endpoint, mode, dry_run, status,
		                       window_start, window_end,
		                       total_records, success_count, error_count,
		                       started_at, completed_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_records = EXCLUDED.total_records,
			success_count = EXCLUDED.success_count,
			error_count = EXCLUDED.error_count,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message
	`

	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Source,
		run.Endpoint,
		run.Mode,
		run.DryRun,
		run.Status,
		NullTime(run.WindowStart),
		NullTime(run.WindowEnd),
		run.TotalRecords,
		run.SuccessCount,
		run.ErrorCount,
		startedAt,
		NullTime(run.CompletedAt),
		NullString(strPtr(run.ErrorMessage)),
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a source/endpoint pair, newest first.
func (s *SyncHistoryStore) ListRuns(ctx context.Context, source, endpoint string, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, source, endpoint, mode, dry_run, status,
		       window_start, window_end,
		       total_records, success_count, error_count,
		       started_at, completed_at, error_message
		FROM sync_runs
		WHERE source = $1 AND endpoint = $2
		ORDER BY started_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, source, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		var windowStart, windowEnd, completedAt sql.NullTime
		var errMsg sql.NullString

		if err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.Endpoint,
			&run.Mode,
			&run.DryRun,
			&run.Status,
			&windowStart,
			&windowEnd,
			&run.TotalRecords,
			&run.SuccessCount,
			&run.ErrorCount,
			&run.StartedAt,
			&completedAt,
			&errMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		run.WindowStart = TimePtr(windowStart)
		run.WindowEnd = TimePtr(windowEnd)
		run.CompletedAt = TimePtr(completedAt)
		run.ErrorMessage = errMsg.String
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// PurgeRuns deletes terminal runs older than the cutoff and returns how many
// rows were removed.
func (s *SyncHistoryStore) PurgeRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_runs
		 WHERE started_at < $1 AND status IN ($2, $3, $4)`,
		olderThan, domain.RunStatusSucceeded, domain.RunStatusFailed, domain.RunStatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sync runs: %w", err)
	}
	return result.RowsAffected()
}
