package domain

import (
	"errors"
	"testing"
	"time"
)

func validHTTPSource() *Source {
	return &Source{
		Name: "crm-a",
		Kind: SourceKindHTTPAPI,
		Config: SourceConfig{
			BaseURL: "https://crm-a.example.com/api",
		},
		Endpoints: []Endpoint{
			{Name: "contacts", Path: "/contacts", Enabled: true},
		},
		Enabled: true,
		Cadence: time.Hour,
	}
}

func TestSourceValidate(t *testing.T) {
	if err := validHTTPSource().Validate(); err != nil {
		t.Fatalf("valid source rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Source)
	}{
		{"missing name", func(s *Source) { s.Name = "" }},
		{"no endpoints", func(s *Source) { s.Endpoints = nil }},
		{"http without base_url", func(s *Source) { s.Config.BaseURL = "" }},
		{"unknown kind", func(s *Source) { s.Kind = "ftp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validHTTPSource()
			tt.mutate(s)
			err := s.Validate()
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestSourceValidateSQLTable(t *testing.T) {
	s := &Source{
		Name: "billing-extract",
		Kind: SourceKindSQLTable,
		Config: SourceConfig{
			DSN:            "postgres://extract:pw@db/extracts",
			ModifiedColumn: "updated_at",
		},
		Endpoints: []Endpoint{{Name: "invoices", Path: "invoice_extract", Enabled: true}},
		Enabled:   true,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid sql source rejected: %v", err)
	}

	s.Config.ModifiedColumn = ""
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing modified_column: %v, want ErrConfiguration", err)
	}

	s.Config.ModifiedColumn = "updated_at"
	s.Config.DSN = ""
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing dsn: %v, want ErrConfiguration", err)
	}
}

func TestSourceEndpointLookup(t *testing.T) {
	s := validHTTPSource()

	ep, err := s.Endpoint("contacts")
	if err != nil {
		t.Fatalf("Endpoint() = %v", err)
	}
	if ep.Path != "/contacts" {
		t.Fatalf("Path = %q, want /contacts", ep.Path)
	}

	if _, err := s.Endpoint("deals"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown endpoint: %v, want ErrNotFound", err)
	}
}
