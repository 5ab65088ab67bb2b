package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// PageFilter narrows what a connector fetches for one run.
type PageFilter struct {
	// ModifiedAfter limits results to records modified after this time
	// (incremental mode). Nil means no lower bound.
	ModifiedAfter *time.Time

	// WindowStart/WindowEnd bound an explicit manual window. Nil means
	// unbounded on that side.
	WindowStart *time.Time
	WindowEnd   *time.Time

	// PageSize is the requested page size. Zero means connector default.
	PageSize int
}

// Connector fetches raw records from one source endpoint.
// Connectors are created per (source, endpoint) by the ConnectorFactory.
type Connector interface {
	// Kind returns the source kind this connector serves.
	Kind() domain.SourceKind

	// FetchPage fetches one page of records. Pass an empty cursor for the
	// first page; an empty next cursor signals the last page.
	//
	// Transient connectivity failures are wrapped with domain.ErrTransient,
	// credential and setup problems with domain.ErrConfiguration.
	FetchPage(ctx context.Context, cursor string, filter PageFilter) ([]domain.RawRecord, string, error)

	// TestConnection verifies the source is reachable with the configured
	// credentials before a run starts fetching.
	TestConnection(ctx context.Context) error
}

// ConnectorFactory creates connectors for registered source kinds.
type ConnectorFactory interface {
	// Create builds a connector for one endpoint of a source.
	Create(source *domain.Source, endpoint domain.Endpoint) (Connector, error)

	// SupportedKinds returns all registered source kinds.
	SupportedKinds() []domain.SourceKind
}
