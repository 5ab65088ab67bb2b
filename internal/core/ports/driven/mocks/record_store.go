package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// MockRecordStore is an in-memory RecordStore for testing
type MockRecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.CanonicalRecord

	// UpsertErr fails every UpsertBatch call when set.
	UpsertErr error

	// RejectFn, when set, decides per record whether the store rejects it.
	RejectFn func(rec *domain.CanonicalRecord) *domain.RecordError

	upsertCalls int
}

// NewMockRecordStore creates a new MockRecordStore
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{
		records: make(map[string]*domain.CanonicalRecord),
	}
}

func key(source, endpoint, externalID string) string {
	return source + "/" + endpoint + "/" + externalID
}

func (m *MockRecordStore) UpsertBatch(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) (*domain.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++

	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}

	result := &domain.BatchResult{}
	for _, rec := range records {
		if m.RejectFn != nil {
			if rejErr := m.RejectFn(rec); rejErr != nil {
				result.Rejected = append(result.Rejected, *rejErr)
				continue
			}
		}
		k := key(rec.Source, rec.Endpoint, rec.ExternalID)
		if _, exists := m.records[k]; exists && policy == domain.ConflictIgnore {
			result.Persisted++
			continue
		}
		m.records[k] = rec
		result.Persisted++
	}
	return result, nil
}

func (m *MockRecordStore) Count(ctx context.Context, source, endpoint string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.records {
		if rec.Source == source && rec.Endpoint == endpoint {
			n++
		}
	}
	return n, nil
}

func (m *MockRecordStore) Get(ctx context.Context, source, endpoint, externalID string) (*domain.CanonicalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key(source, endpoint, externalID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Helper methods for testing

// Len returns the number of stored records.
func (m *MockRecordStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// UpsertCalls returns how many times UpsertBatch was called.
func (m *MockRecordStore) UpsertCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upsertCalls
}
