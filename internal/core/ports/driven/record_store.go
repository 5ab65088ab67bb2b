package driven

import (
	"context"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// RecordStore persists canonical records (PostgreSQL).
type RecordStore interface {
	// UpsertBatch performs one set-based insert-or-update for the batch.
	// If the store reports a constraint violation for the batch as a whole,
	// the implementation retries each record individually in original order
	// so one bad row does not discard the rest. Row-level failures are
	// reported in the result, not as an error.
	UpsertBatch(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) (*domain.BatchResult, error)

	// Count returns the number of canonical rows for an endpoint.
	Count(ctx context.Context, source, endpoint string) (int64, error)

	// Get retrieves one canonical record by its natural key.
	Get(ctx context.Context, source, endpoint, externalID string) (*domain.CanonicalRecord, error)
}
