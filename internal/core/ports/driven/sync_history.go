package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// SyncHistoryStore persists watermarks and the per-run audit log (PostgreSQL).
type SyncHistoryStore interface {
	// GetWatermark retrieves the watermark for an endpoint.
	// Returns a fresh zero-valued watermark on first sync, not ErrNotFound.
	GetWatermark(ctx context.Context, source, endpoint string) (*domain.Watermark, error)

	// SaveWatermark creates or updates the watermark row for an endpoint.
	SaveWatermark(ctx context.Context, wm *domain.Watermark) error

	// RecordRun appends one run to the audit log, or updates it if the run
	// ID already exists.
	RecordRun(ctx context.Context, run *domain.SyncRun) error

	// ListRuns returns the most recent runs for an endpoint, newest first.
	ListRuns(ctx context.Context, source, endpoint string, limit int) ([]*domain.SyncRun, error)

	// PurgeRuns removes audit rows older than the cutoff. Watermarks are
	// never purged; retention applies to the run log only.
	PurgeRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

// SourceStore persists source definitions (PostgreSQL).
type SourceStore interface {
	// Save creates or updates a source.
	Save(ctx context.Context, source *domain.Source) error

	// Get retrieves a source by name.
	Get(ctx context.Context, name string) (*domain.Source, error)

	// List retrieves all sources.
	List(ctx context.Context) ([]*domain.Source, error)

	// Delete removes a source.
	Delete(ctx context.Context, name string) error
}
