package mocks

import (
	"context"
	"strconv"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// MockConnector is a scripted Connector for testing. Pages holds the record
// pages it serves in order; cursors are page indexes.
type MockConnector struct {
	SourceKind domain.SourceKind
	Pages      [][]domain.RawRecord

	// FetchErr fails every FetchPage call when set. FetchErrOnPage fails
	// only the given page index.
	FetchErr       error
	FetchErrOnPage int
	TestErr        error

	FetchCalls int
	LastFilter driven.PageFilter
}

// NewMockConnector creates a connector serving the given pages.
func NewMockConnector(pages ...[]domain.RawRecord) *MockConnector {
	return &MockConnector{
		SourceKind:     domain.SourceKindHTTPAPI,
		Pages:          pages,
		FetchErrOnPage: -1,
	}
}

func (m *MockConnector) Kind() domain.SourceKind {
	return m.SourceKind
}

func (m *MockConnector) FetchPage(ctx context.Context, cursor string, filter driven.PageFilter) ([]domain.RawRecord, string, error) {
	m.FetchCalls++
	m.LastFilter = filter

	page := 0
	if cursor != "" {
		page, _ = strconv.Atoi(cursor)
	}

	if m.FetchErr != nil && (m.FetchErrOnPage < 0 || m.FetchErrOnPage == page) {
		return nil, "", m.FetchErr
	}

	if page >= len(m.Pages) {
		return nil, "", nil
	}

	next := ""
	if page+1 < len(m.Pages) {
		next = strconv.Itoa(page + 1)
	}
	return m.Pages[page], next, nil
}

func (m *MockConnector) TestConnection(ctx context.Context) error {
	return m.TestErr
}

// MockConnectorFactory hands out a fixed connector, or an error.
type MockConnectorFactory struct {
	Connector driven.Connector
	CreateErr error
}

func (f *MockConnectorFactory) Create(source *domain.Source, endpoint domain.Endpoint) (driven.Connector, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return f.Connector, nil
}

func (f *MockConnectorFactory) SupportedKinds() []domain.SourceKind {
	return []domain.SourceKind{domain.SourceKindHTTPAPI, domain.SourceKindSQLTable}
}
