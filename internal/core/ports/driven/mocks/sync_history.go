package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// MockSyncHistoryStore is an in-memory SyncHistoryStore for testing
type MockSyncHistoryStore struct {
	mu         sync.RWMutex
	watermarks map[string]*domain.Watermark
	runs       []*domain.SyncRun

	// Error hooks let tests inject failures per operation.
	GetWatermarkErr  error
	SaveWatermarkErr error
	RecordRunErr     error
}

// NewMockSyncHistoryStore creates a new MockSyncHistoryStore
func NewMockSyncHistoryStore() *MockSyncHistoryStore {
	return &MockSyncHistoryStore{
		watermarks: make(map[string]*domain.Watermark),
	}
}

func (m *MockSyncHistoryStore) GetWatermark(ctx context.Context, source, endpoint string) (*domain.Watermark, error) {
	if m.GetWatermarkErr != nil {
		return nil, m.GetWatermarkErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	wm, ok := m.watermarks[domain.JobID(source, endpoint)]
	if !ok {
		return &domain.Watermark{Source: source, Endpoint: endpoint}, nil
	}
	copied := *wm
	return &copied, nil
}

func (m *MockSyncHistoryStore) SaveWatermark(ctx context.Context, wm *domain.Watermark) error {
	if m.SaveWatermarkErr != nil {
		return m.SaveWatermarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *wm
	m.watermarks[domain.JobID(wm.Source, wm.Endpoint)] = &copied
	return nil
}

func (m *MockSyncHistoryStore) RecordRun(ctx context.Context, run *domain.SyncRun) error {
	if m.RecordRunErr != nil {
		return m.RecordRunErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	for i, existing := range m.runs {
		if existing.ID == run.ID {
			m.runs[i] = &copied
			return nil
		}
	}
	m.runs = append(m.runs, &copied)
	return nil
}

func (m *MockSyncHistoryStore) ListRuns(ctx context.Context, source, endpoint string, limit int) ([]*domain.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.SyncRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		run := m.runs[i]
		if run.Source == source && run.Endpoint == endpoint {
			result = append(result, run)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MockSyncHistoryStore) PurgeRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*domain.SyncRun
	var purged int64
	for _, run := range m.runs {
		if run.Status.Terminal() && run.StartedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, run)
	}
	m.runs = kept
	return purged, nil
}

// Helper methods for testing

// Watermark returns the stored watermark for an endpoint, or nil.
func (m *MockSyncHistoryStore) Watermark(source, endpoint string) *domain.Watermark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watermarks[domain.JobID(source, endpoint)]
}

// SetWatermark seeds a watermark.
func (m *MockSyncHistoryStore) SetWatermark(wm *domain.Watermark) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[domain.JobID(wm.Source, wm.Endpoint)] = wm
}

// Runs returns all recorded runs.
func (m *MockSyncHistoryStore) Runs() []*domain.SyncRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.SyncRun(nil), m.runs...)
}
