package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SourceStore = (*SourceStore)(nil)

// SourceStore implements driven.SourceStore using PostgreSQL.
type SourceStore struct {
	db *DB
}

// NewSourceStore creates a new SourceStore
func NewSourceStore(db *DB) *SourceStore {
	return &SourceStore{db: db}
}

// Save creates or updates a source definition.
func (s *SourceStore) Save(ctx context.Context, source *domain.Source) error {
	if err := source.Validate(); err != nil {
		return err
	}

	configJSON, err := json.Marshal(source.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal source config: %w", err)
	}
	endpointsJSON, err := json.Marshal(source.Endpoints)
	if err != nil {
		return fmt.Errorf("failed to marshal source endpoints: %w", err)
	}

	now := time.Now()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	query := `
		INSERT INTO sources (name, kind, config, endpoints, enabled, cadence_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind,
			config = EXCLUDED.config,
			endpoints = EXCLUDED.endpoints,
			enabled = EXCLUDED.enabled,
			cadence_seconds = EXCLUDED.cadence_seconds,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		source.Name,
		source.Kind,
		configJSON,
		endpointsJSON,
		source.Enabled,
		int64(source.Cadence/time.Second),
		source.CreatedAt,
		source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

// Get retrieves a source by name.
func (s *SourceStore) Get(ctx context.Context, name string) (*domain.Source, error) {
	query := `
		SELECT name, kind, config, endpoints, enabled, cadence_seconds, created_at, updated_at
		FROM sources
		WHERE name = $1
	`
	source, err := scanSource(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return source, nil
}

// List retrieves all sources, ordered by name.
func (s *SourceStore) List(ctx context.Context) ([]*domain.Source, error) {
	query := `
		SELECT name, kind, config, endpoints, enabled, cadence_seconds, created_at, updated_at
		FROM sources
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*domain.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// Delete removes a source.
func (s *SourceStore) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("source %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*domain.Source, error) {
	var source domain.Source
	var configJSON, endpointsJSON []byte
	var cadenceSeconds int64

	if err := row.Scan(
		&source.Name,
		&source.Kind,
		&configJSON,
		&endpointsJSON,
		&source.Enabled,
		&cadenceSeconds,
		&source.CreatedAt,
		&source.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(configJSON, &source.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source config: %w", err)
	}
	if err := json.Unmarshal(endpointsJSON, &source.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source endpoints: %w", err)
	}
	source.Cadence = time.Duration(cadenceSeconds) * time.Second

	return &source, nil
}
