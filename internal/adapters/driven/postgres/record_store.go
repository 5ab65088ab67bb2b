package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RecordStore = (*RecordStore)(nil)

// columnLimits mirrors the declared VARCHAR limits in schema.sql. Postgres
// reports a length violation (22001) without naming the column, so the
// fallback path identifies the offender by comparing value lengths against
// these limits.
var columnLimits = map[string]int{
	"external_id": 128,
	"name":        255,
	"email":       255,
	"phone":       32,
	"status":      64,
}

// previewLen caps how much of an offending value ends up in error output.
const previewLen = 40

// RecordStore implements driven.RecordStore using PostgreSQL.
// Batches are written with one set-based multi-row upsert; when the batch as
// a whole trips a constraint, each record is retried individually so a single
// bad row cannot discard the rest.
type RecordStore struct {
	db *DB

	// exec performs one set-based upsert. Swappable so the fallback loop
	// can be tested without a live database.
	exec func(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) error
}

// NewRecordStore creates a new RecordStore
func NewRecordStore(db *DB) *RecordStore {
	s := &RecordStore{db: db}
	s.exec = s.execUpsert
	return s
}

// UpsertBatch persists a batch of canonical records.
func (s *RecordStore) UpsertBatch(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) (*domain.BatchResult, error) {
	result := &domain.BatchResult{}
	if len(records) == 0 {
		return result, nil
	}

	err := s.exec(ctx, records, policy)
	if err == nil {
		result.Persisted = len(records)
		return result, nil
	}

	if !isConstraintViolation(err) {
		return nil, classifyExecError(err)
	}

	// Batch-level constraint violation: isolate it by retrying each record
	// individually, in original order.
	for _, rec := range records {
		recErr := s.exec(ctx, []*domain.CanonicalRecord{rec}, policy)
		if recErr == nil {
			result.Persisted++
			continue
		}
		if isConstraintViolation(recErr) {
			result.Rejected = append(result.Rejected, describeViolation(rec, recErr))
			continue
		}
		// Infrastructure failure mid-fallback: report what landed so far.
		return result, classifyExecError(recErr)
	}

	return result, nil
}

// execUpsert performs one set-based upsert for the given records.
func (s *RecordStore) execUpsert(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) error {
	const cols = 12

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO records (source, endpoint, external_id, name, email, phone,
		                     status, amount, modified_at, attributes, raw, synced_at)
		VALUES `)

	args := make([]any, 0, len(records)*cols)
	now := time.Now()

	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j+1)
		}
		sb.WriteByte(')')

		var attrsJSON []byte
		if len(rec.Attributes) > 0 {
			attrsJSON, _ = json.Marshal(rec.Attributes)
		}

		syncedAt := rec.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = now
		}

		var amount sql.NullFloat64
		if rec.Amount != nil {
			amount = sql.NullFloat64{Float64: *rec.Amount, Valid: true}
		}

		args = append(args,
			rec.Source,
			rec.Endpoint,
			rec.ExternalID,
			NullString(strPtr(rec.Name)),
			NullString(strPtr(rec.Email)),
			NullString(strPtr(rec.Phone)),
			NullString(strPtr(rec.Status)),
			amount,
			NullTime(rec.ModifiedAt),
			nullJSON(attrsJSON),
			nullJSON(rec.Raw),
			syncedAt,
		)
	}

	switch policy {
	case domain.ConflictIgnore:
		sb.WriteString(` ON CONFLICT (source, endpoint, external_id) DO NOTHING`)
	default:
		sb.WriteString(`
		ON CONFLICT (source, endpoint, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			modified_at = EXCLUDED.modified_at,
			attributes = EXCLUDED.attributes,
			raw = EXCLUDED.raw,
			synced_at = EXCLUDED.synced_at`)
	}

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// Count returns the number of canonical rows for an endpoint.
func (s *RecordStore) Count(ctx context.Context, source, endpoint string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE source = $1 AND endpoint = $2`,
		source, endpoint,
	).Scan(&n)
	return n, err
}

// Get retrieves one canonical record by its natural key.
func (s *RecordStore) Get(ctx context.Context, source, endpoint, externalID string) (*domain.CanonicalRecord, error) {
	query := `
		SELECT source, endpoint, external_id, name, email, phone, status,
		       amount, modified_at, attributes, raw, synced_at
		FROM records
		WHERE source = $1 AND endpoint = $2 AND external_id = $3
	`

	var rec domain.CanonicalRecord
	var name, email, phone, status sql.NullString
	var amount sql.NullFloat64
	var modifiedAt sql.NullTime
	var attrsJSON, rawJSON []byte

	err := s.db.QueryRowContext(ctx, query, source, endpoint, externalID).Scan(
		&rec.Source,
		&rec.Endpoint,
		&rec.ExternalID,
		&name,
		&email,
		&phone,
		&status,
		&amount,
		&modifiedAt,
		&attrsJSON,
		&rawJSON,
		&rec.SyncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Name = name.String
	rec.Email = email.String
	rec.Phone = phone.String
	rec.Status = status.String
	if amount.Valid {
		rec.Amount = &amount.Float64
	}
	rec.ModifiedAt = TimePtr(modifiedAt)
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &rec.Attributes); err != nil {
			return nil, err
		}
	}
	rec.Raw = rawJSON

	return &rec, nil
}

// isConstraintViolation reports whether the error is a row-level constraint
// failure that the per-record fallback can isolate.
func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "22001", // string_data_right_truncation
		"23502", // not_null_violation
		"23505", // unique_violation
		"23514": // check_violation
		return true
	}
	return false
}

// classifyExecError wraps connectivity-class failures with domain.ErrTransient
// so the engine's retry layer can act on them.
func classifyExecError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection_exception
			"53", // insufficient_resources
			"57": // operator_intervention (incl. shutdown)
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}

// describeViolation turns a single-record constraint failure into a
// structured record error with the offending column identified.
func describeViolation(rec *domain.CanonicalRecord, err error) domain.RecordError {
	out := domain.RecordError{
		ExternalID: rec.ExternalID,
		Message:    err.Error(),
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return out
	}

	switch pqErr.Code {
	case "22001":
		// Postgres does not name the column; find it by length.
		for column, limit := range columnLimits {
			value := columnValue(rec, column)
			if len(value) > limit {
				out.Column = column
				out.Limit = limit
				out.ActualLength = len(value)
				out.Preview = preview(value)
				out.Message = fmt.Sprintf("value for %q exceeds limit %d (length %d)",
					column, limit, len(value))
				break
			}
		}
	case "23502":
		out.Column = pqErr.Column
		out.Message = fmt.Sprintf("null value in column %q", pqErr.Column)
	case "23505":
		out.Column = pqErr.Constraint
		out.Message = fmt.Sprintf("duplicate key: %s", pqErr.Constraint)
	case "23514":
		out.Column = pqErr.Constraint
		out.Message = fmt.Sprintf("check constraint failed: %s", pqErr.Constraint)
	}

	return out
}

func columnValue(rec *domain.CanonicalRecord, column string) string {
	switch column {
	case "external_id":
		return rec.ExternalID
	case "name":
		return rec.Name
	case "email":
		return rec.Email
	case "phone":
		return rec.Phone
	case "status":
		return rec.Status
	}
	return ""
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "..."
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
