package sqltable

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

func sqlSource() *domain.Source {
	return &domain.Source{
		Name: "billing-extract",
		Kind: domain.SourceKindSQLTable,
		Config: domain.SourceConfig{
			DSN:            "postgres://extract:pw@db/extracts?sslmode=disable",
			ModifiedColumn: "updated_at",
		},
	}
}

func invoicesEndpoint() domain.Endpoint {
	return domain.Endpoint{Name: "invoices", Path: "invoice_extract", Enabled: true}
}

func TestNewConnector_RejectsBadIdentifiers(t *testing.T) {
	bad := []domain.Endpoint{
		{Name: "x", Path: "invoices; DROP TABLE users"},
		{Name: "x", Path: "invoices--"},
		{Name: "x", Path: "1invoices"},
		{Name: "x", Path: ""},
	}
	for _, ep := range bad {
		_, err := NewConnector(sqlSource(), ep)
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("path %q: err = %v, want ErrConfiguration", ep.Path, err)
		}
	}

	src := sqlSource()
	src.Config.ModifiedColumn = "updated_at OR 1=1"
	if _, err := NewConnector(src, invoicesEndpoint()); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("bad modified column: err = %v, want ErrConfiguration", err)
	}
}

func TestNewConnector_AcceptsSchemaQualifiedTable(t *testing.T) {
	ep := domain.Endpoint{Name: "invoices", Path: "reporting.invoice_extract"}
	c, err := NewConnector(sqlSource(), ep)
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer c.Close()
	if c.Kind() != domain.SourceKindSQLTable {
		t.Errorf("Kind = %s", c.Kind())
	}
}

func TestCursorRoundTrip(t *testing.T) {
	state := cursorState{
		ModifiedAt: time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
		ID:         "inv-9001",
	}
	cursor := encodeCursor(state)
	if cursor == "" || strings.ContainsAny(cursor, "+/=") {
		t.Fatalf("cursor %q is not URL safe", cursor)
	}

	decoded, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if !decoded.ModifiedAt.Equal(state.ModifiedAt) || decoded.ID != state.ID {
		t.Fatalf("round trip = %+v, want %+v", decoded, state)
	}
}

func TestDecodeCursor_Garbage(t *testing.T) {
	if _, err := decodeCursor("!!!not base64!!!"); err == nil {
		t.Error("garbage cursor accepted")
	}
	if _, err := decodeCursor("bm90IGpzb24"); err == nil {
		t.Error("non-JSON cursor accepted")
	}
}

func TestBuildQuery(t *testing.T) {
	c, err := NewConnector(sqlSource(), invoicesEndpoint())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer c.Close()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := since.Add(24 * time.Hour)
	after := &cursorState{ModifiedAt: since.Add(time.Hour), ID: "inv-5"}

	query, args := c.buildQuery(after, driven.PageFilter{
		ModifiedAfter: &since,
		WindowEnd:     &end,
	}, 500)

	want := "SELECT * FROM invoice_extract WHERE updated_at > $1 AND updated_at <= $2 AND (updated_at, id) > ($3, $4) ORDER BY updated_at, id LIMIT $5"
	if query != want {
		t.Fatalf("query = %q\nwant   %q", query, want)
	}
	if len(args) != 5 {
		t.Fatalf("args = %d, want 5", len(args))
	}
	if args[4] != 500 {
		t.Fatalf("limit arg = %v", args[4])
	}
}

func TestBuildQuery_NoFilter(t *testing.T) {
	c, err := NewConnector(sqlSource(), invoicesEndpoint())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer c.Close()

	query, args := c.buildQuery(nil, driven.PageFilter{}, 100)
	want := "SELECT * FROM invoice_extract ORDER BY updated_at, id LIMIT $1"
	if query != want {
		t.Fatalf("query = %q", query)
	}
	if len(args) != 1 {
		t.Fatalf("args = %d", len(args))
	}
}

func TestBuildQuery_WindowStartWinsOverWatermark(t *testing.T) {
	c, err := NewConnector(sqlSource(), invoicesEndpoint())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer c.Close()

	wm := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, args := c.buildQuery(nil, driven.PageFilter{
		ModifiedAfter: &wm,
		WindowStart:   &start,
	}, 100)

	if got := args[0].(time.Time); !got.Equal(start) {
		t.Fatalf("lower bound = %v, want window start %v", got, start)
	}
}

func TestFetchPage_BadCursor(t *testing.T) {
	c, err := NewConnector(sqlSource(), invoicesEndpoint())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	defer c.Close()

	_, _, err = c.FetchPage(context.Background(), "!!!", driven.PageFilter{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestNormalizeValue(t *testing.T) {
	if got := normalizeValue([]byte("hello")); got != "hello" {
		t.Errorf("bytes = %v", got)
	}
	if got := normalizeValue(int64(7)); got != int64(7) {
		t.Errorf("int64 = %v", got)
	}
	if got := normalizeValue(nil); got != nil {
		t.Errorf("nil = %v", got)
	}
}
