package driving

import (
	"context"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// SyncRunner drives the sync engine. The CLI and the worker both speak this
// interface; the engine implements it directly.
type SyncRunner interface {
	// Run executes one sync of an endpoint and returns the finished run.
	// The returned run is non-nil even when err is set.
	Run(ctx context.Context, source, endpoint string, opts domain.RunOptions) (*domain.SyncRun, error)

	// RunAll syncs every enabled endpoint of every enabled source.
	RunAll(ctx context.Context, opts domain.RunOptions) ([]*domain.SyncRun, error)

	// Status returns the watermark for an endpoint.
	Status(ctx context.Context, source, endpoint string) (*domain.Watermark, error)
}
