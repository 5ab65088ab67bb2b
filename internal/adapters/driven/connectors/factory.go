// Package connectors wires source kinds to their connector implementations.
package connectors

import (
	"fmt"
	"sort"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors/httpapi"
	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors/sqltable"
)

// Ensure Factory implements the interface.
var _ driven.ConnectorFactory = (*Factory)(nil)

// builder creates a connector for one endpoint of a source.
type builder func(source *domain.Source, endpoint domain.Endpoint) (driven.Connector, error)

// Factory creates connectors for registered source kinds.
type Factory struct {
	builders map[domain.SourceKind]builder
}

// NewFactory creates a factory with all built-in connectors registered.
func NewFactory() *Factory {
	return &Factory{
		builders: map[domain.SourceKind]builder{
			domain.SourceKindHTTPAPI: func(s *domain.Source, ep domain.Endpoint) (driven.Connector, error) {
				return httpapi.NewConnector(s, ep)
			},
			domain.SourceKindSQLTable: func(s *domain.Source, ep domain.Endpoint) (driven.Connector, error) {
				return sqltable.NewConnector(s, ep)
			},
		},
	}
}

// Create builds a connector for one endpoint of a source.
func (f *Factory) Create(source *domain.Source, endpoint domain.Endpoint) (driven.Connector, error) {
	build, ok := f.builders[source.Kind]
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", source.Kind, domain.ErrConnectorNotFound)
	}
	return build(source, endpoint)
}

// SupportedKinds returns all registered source kinds, sorted for stable output.
func (f *Factory) SupportedKinds() []domain.SourceKind {
	kinds := make([]domain.SourceKind, 0, len(f.builders))
	for kind := range f.builders {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
