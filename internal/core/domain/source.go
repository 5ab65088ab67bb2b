package domain

import (
	"fmt"
	"time"
)

// SourceKind identifies the connector family used to reach a source.
type SourceKind string

const (
	// SourceKindHTTPAPI is a paginated JSON read API (CRM-style).
	SourceKindHTTPAPI SourceKind = "http_api"
	// SourceKindSQLTable is a readable relational extract table.
	SourceKindSQLTable SourceKind = "sql_table"
)

// SourceConfig holds connector-specific settings. Exactly the fields relevant
// to the source's kind are populated; the rest stay zero.
type SourceConfig struct {
	// HTTP API sources
	BaseURL   string `json:"base_url,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`

	// SQL extract sources
	DSN            string `json:"dsn,omitempty"`
	ModifiedColumn string `json:"modified_column,omitempty"`
}

// Endpoint is one syncable entity collection within a source.
type Endpoint struct {
	// Name identifies the entity within the source ("contacts", "deals").
	Name string `json:"name"`

	// Path is the API path or table name the connector reads.
	Path string `json:"path"`

	// ModifiedParam is the source-side filter field for incremental sync.
	ModifiedParam string `json:"modified_param,omitempty"`

	// Enabled gates whether the scheduler includes this endpoint.
	Enabled bool `json:"enabled"`
}

// Source describes one external system records are pulled from.
type Source struct {
	Name      string       `json:"name"`
	Kind      SourceKind   `json:"kind"`
	Config    SourceConfig `json:"config"`
	Endpoints []Endpoint   `json:"endpoints"`
	Enabled   bool         `json:"enabled"`

	// Cadence is how often the scheduler syncs this source's endpoints.
	Cadence time.Duration `json:"cadence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Endpoint returns the named endpoint.
func (s *Source) Endpoint(name string) (Endpoint, error) {
	for _, ep := range s.Endpoints {
		if ep.Name == name {
			return ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("endpoint %q: %w", name, ErrNotFound)
}

// Validate checks the source has everything its kind requires.
func (s *Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: source name is required", ErrConfiguration)
	}
	if len(s.Endpoints) == 0 {
		return fmt.Errorf("%w: source %s has no endpoints", ErrConfiguration, s.Name)
	}
	switch s.Kind {
	case SourceKindHTTPAPI:
		if s.Config.BaseURL == "" {
			return fmt.Errorf("%w: source %s requires base_url", ErrConfiguration, s.Name)
		}
	case SourceKindSQLTable:
		if s.Config.DSN == "" {
			return fmt.Errorf("%w: source %s requires dsn", ErrConfiguration, s.Name)
		}
		if s.Config.ModifiedColumn == "" {
			return fmt.Errorf("%w: source %s requires modified_column", ErrConfiguration, s.Name)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", ErrConfiguration, s.Kind)
	}
	return nil
}

// JobID names the (source, endpoint) pair a scheduler job syncs.
func JobID(source, endpoint string) string {
	return source + "/" + endpoint
}
