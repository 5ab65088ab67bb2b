// Package sqltable fetches records from relational extract tables, the
// read-only views BI teams commonly expose. Pages are walked with keyset
// pagination on (modified column, id) so a slow sync never skips rows the
// way OFFSET paging can.
package sqltable

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

const defaultPageSize = 500

// identPattern is what table and column names must match. They are
// interpolated into SQL, so anything else is rejected up front.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// cursorState is the keyset position serialized into the opaque page cursor.
type cursorState struct {
	ModifiedAt time.Time `json:"m"`
	ID         string    `json:"id"`
}

// Connector fetches one extract table of a SQL source.
type Connector struct {
	source      string
	endpoint    domain.Endpoint
	table       string
	modifiedCol string
	pageSize    int
	db          *sql.DB
}

// NewConnector creates a connector scoped to one table of a SQL source.
// It opens its own connection pool against the source's DSN.
func NewConnector(source *domain.Source, endpoint domain.Endpoint) (*Connector, error) {
	table := endpoint.Path
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrConfiguration, table)
	}
	modifiedCol := source.Config.ModifiedColumn
	if !identPattern.MatchString(modifiedCol) {
		return nil, fmt.Errorf("%w: invalid modified column %q", domain.ErrConfiguration, modifiedCol)
	}

	db, err := sql.Open("postgres", source.Config.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrConfiguration, source.Name, err)
	}

	pageSize := source.Config.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Connector{
		source:      source.Name,
		endpoint:    endpoint,
		table:       table,
		modifiedCol: modifiedCol,
		pageSize:    pageSize,
		db:          db,
	}, nil
}

// Kind returns the source kind this connector serves.
func (c *Connector) Kind() domain.SourceKind {
	return domain.SourceKindSQLTable
}

// FetchPage fetches one page of rows ordered by (modified column, id).
func (c *Connector) FetchPage(ctx context.Context, cursor string, filter driven.PageFilter) ([]domain.RawRecord, string, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	var after *cursorState
	if cursor != "" {
		state, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad cursor: %v", domain.ErrInvalidInput, err)
		}
		after = state
	}

	query, args := c.buildQuery(after, filter, pageSize)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: query %s.%s: %v", domain.ErrTransient, c.source, c.table, err)
	}
	defer rows.Close()

	records, last, err := c.scanRows(rows)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(records) == pageSize && last != nil {
		nextCursor = encodeCursor(*last)
	}
	return records, nextCursor, nil
}

// TestConnection verifies the table is reachable.
func (c *Connector) TestConnection(ctx context.Context) error {
	var one int
	err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", c.table)).Scan(&one)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s.%s unreachable: %v", domain.ErrTransient, c.source, c.table, err)
	}
	return nil
}

// Close releases the source connection pool.
func (c *Connector) Close() error {
	return c.db.Close()
}

func (c *Connector) buildQuery(after *cursorState, filter driven.PageFilter, pageSize int) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if since := lowerBound(filter); since != nil {
		conds = append(conds, fmt.Sprintf("%s > %s", c.modifiedCol, arg(*since)))
	}
	if filter.WindowEnd != nil {
		conds = append(conds, fmt.Sprintf("%s <= %s", c.modifiedCol, arg(*filter.WindowEnd)))
	}
	if after != nil {
		conds = append(conds, fmt.Sprintf("(%s, id) > (%s, %s)",
			c.modifiedCol, arg(after.ModifiedAt), arg(after.ID)))
	}

	query := fmt.Sprintf("SELECT * FROM %s", c.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s, id LIMIT %s", c.modifiedCol, arg(pageSize))

	return query, args
}

// scanRows converts each row into a generic map keyed by column name.
func (c *Connector) scanRows(rows *sql.Rows) ([]domain.RawRecord, *cursorState, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var records []domain.RawRecord
	var last *cursorState

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan %s.%s: %w", c.source, c.table, err)
		}

		data := make(map[string]any, len(cols))
		state := cursorState{}
		for i, col := range cols {
			v := normalizeValue(values[i])
			data[col] = v
			switch col {
			case "id":
				state.ID = fmt.Sprintf("%v", v)
			case c.modifiedCol:
				if t, ok := v.(time.Time); ok {
					state.ModifiedAt = t
				}
			}
		}

		records = append(records, domain.RawRecord{
			Source:   c.source,
			Endpoint: c.endpoint.Name,
			Data:     data,
		})
		last = &state
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: iterate %s.%s: %v", domain.ErrTransient, c.source, c.table, err)
	}
	return records, last, nil
}

// normalizeValue unwraps driver types so the processor sees plain values.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func lowerBound(filter driven.PageFilter) *time.Time {
	since := filter.ModifiedAfter
	if filter.WindowStart != nil && (since == nil || filter.WindowStart.After(*since)) {
		since = filter.WindowStart
	}
	return since
}

func encodeCursor(state cursorState) string {
	data, _ := json.Marshal(state)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(cursor string) (*cursorState, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}
	var state cursorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
