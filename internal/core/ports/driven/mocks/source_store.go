package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// MockSourceStore is an in-memory SourceStore for testing
type MockSourceStore struct {
	mu      sync.RWMutex
	sources map[string]*domain.Source
}

// NewMockSourceStore creates a new MockSourceStore
func NewMockSourceStore() *MockSourceStore {
	return &MockSourceStore{
		sources: make(map[string]*domain.Source),
	}
}

func (m *MockSourceStore) Save(ctx context.Context, source *domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source.Name] = source
	return nil
}

func (m *MockSourceStore) Get(ctx context.Context, name string) (*domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	source, ok := m.sources[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return source, nil
}

func (m *MockSourceStore) List(ctx context.Context) ([]*domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Source
	for _, source := range m.sources {
		result = append(result, source)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MockSourceStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[name]; !ok {
		return domain.ErrNotFound
	}
	delete(m.sources, name)
	return nil
}
