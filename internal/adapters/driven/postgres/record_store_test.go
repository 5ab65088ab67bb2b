package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

func TestIsConstraintViolation(t *testing.T) {
	violations := []pq.ErrorCode{"22001", "23502", "23505", "23514"}
	for _, code := range violations {
		if !isConstraintViolation(&pq.Error{Code: code}) {
			t.Errorf("code %s not treated as constraint violation", code)
		}
	}

	if isConstraintViolation(&pq.Error{Code: "08006"}) {
		t.Error("connection failure treated as constraint violation")
	}
	if isConstraintViolation(errors.New("plain error")) {
		t.Error("non-pq error treated as constraint violation")
	}
	// Wrapped pq errors are still recognised.
	wrapped := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	if !isConstraintViolation(wrapped) {
		t.Error("wrapped pq error not recognised")
	}
}

func TestClassifyExecError(t *testing.T) {
	transient := []pq.ErrorCode{"08006", "08001", "53300", "57P01"}
	for _, code := range transient {
		err := classifyExecError(&pq.Error{Code: code})
		if !domain.IsTransient(err) {
			t.Errorf("code %s not classified transient: %v", code, err)
		}
	}

	// Data errors are not retried.
	if err := classifyExecError(&pq.Error{Code: "22P02"}); domain.IsTransient(err) {
		t.Errorf("invalid_text_representation classified transient: %v", err)
	}
	if err := classifyExecError(context.DeadlineExceeded); !domain.IsTransient(err) {
		t.Errorf("deadline not classified transient: %v", err)
	}
	if classifyExecError(nil) != nil {
		t.Error("nil error reclassified")
	}
}

func TestDescribeViolation_LengthExceeded(t *testing.T) {
	rec := &domain.CanonicalRecord{
		ExternalID: "c-1",
		Name:       strings.Repeat("x", 300),
	}
	got := describeViolation(rec, &pq.Error{Code: "22001"})

	if got.ExternalID != "c-1" {
		t.Errorf("ExternalID = %q", got.ExternalID)
	}
	if got.Column != "name" {
		t.Errorf("Column = %q, want name", got.Column)
	}
	if got.Limit != 255 || got.ActualLength != 300 {
		t.Errorf("Limit/ActualLength = %d/%d", got.Limit, got.ActualLength)
	}
	if len(got.Preview) != previewLen+3 {
		t.Errorf("Preview length = %d", len(got.Preview))
	}
	if !strings.HasSuffix(got.Preview, "...") {
		t.Errorf("Preview = %q, want ellipsis", got.Preview)
	}
}

func TestDescribeViolation_Phone(t *testing.T) {
	rec := &domain.CanonicalRecord{
		ExternalID: "c-2",
		Phone:      strings.Repeat("5", 40),
	}
	got := describeViolation(rec, &pq.Error{Code: "22001"})
	if got.Column != "phone" || got.Limit != 32 {
		t.Errorf("Column/Limit = %q/%d", got.Column, got.Limit)
	}
}

func TestDescribeViolation_NotNull(t *testing.T) {
	rec := &domain.CanonicalRecord{ExternalID: "c-3"}
	got := describeViolation(rec, &pq.Error{Code: "23502", Column: "source"})
	if got.Column != "source" {
		t.Errorf("Column = %q", got.Column)
	}
	if !strings.Contains(got.Message, "null value") {
		t.Errorf("Message = %q", got.Message)
	}
}

func TestDescribeViolation_Unique(t *testing.T) {
	rec := &domain.CanonicalRecord{ExternalID: "c-4"}
	got := describeViolation(rec, &pq.Error{Code: "23505", Constraint: "records_source_endpoint_external_id_key"})
	if got.Column != "records_source_endpoint_external_id_key" {
		t.Errorf("Column = %q", got.Column)
	}
	if !strings.Contains(got.Message, "duplicate key") {
		t.Errorf("Message = %q", got.Message)
	}
}

func TestDescribeViolation_NonPQ(t *testing.T) {
	rec := &domain.CanonicalRecord{ExternalID: "c-5"}
	got := describeViolation(rec, errors.New("unexpected"))
	if got.Column != "" || got.Message != "unexpected" {
		t.Errorf("got = %+v", got)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("short"); got != "short" {
		t.Errorf("preview = %q", got)
	}
	long := strings.Repeat("a", 100)
	got := preview(long)
	if len(got) != previewLen+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("preview = %q", got)
	}
}

func TestUpsertBatchFallbackIsolatesBadRecord(t *testing.T) {
	s := NewRecordStore(nil)
	s.exec = func(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) error {
		for _, r := range records {
			if r.ExternalID == "rec-42" {
				return &pq.Error{Code: "22001"}
			}
		}
		return nil
	}

	records := make([]*domain.CanonicalRecord, 0, 100)
	for i := 0; i < 100; i++ {
		rec := &domain.CanonicalRecord{
			Source:     "crm-a",
			Endpoint:   "contacts",
			ExternalID: fmt.Sprintf("rec-%d", i),
		}
		if i == 42 {
			rec.Name = strings.Repeat("x", 300)
		}
		records = append(records, rec)
	}

	result, err := s.UpsertBatch(context.Background(), records, domain.ConflictUpdate)
	if err != nil {
		t.Fatalf("UpsertBatch = %v", err)
	}
	if result.Persisted != 99 {
		t.Errorf("Persisted = %d, want 99", result.Persisted)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("Rejected = %d, want 1", len(result.Rejected))
	}
	rej := result.Rejected[0]
	if rej.ExternalID != "rec-42" {
		t.Errorf("rejected ExternalID = %q", rej.ExternalID)
	}
	if rej.Column != "name" || rej.Limit != 255 || rej.ActualLength != 300 {
		t.Errorf("violation detail = %+v", rej)
	}
}

func TestUpsertBatchFallbackStopsOnInfrastructureError(t *testing.T) {
	s := NewRecordStore(nil)
	s.exec = func(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) error {
		if len(records) > 1 {
			return &pq.Error{Code: "23505"}
		}
		if records[0].ExternalID == "b" {
			return &pq.Error{Code: "53300"}
		}
		return nil
	}

	records := []*domain.CanonicalRecord{
		{ExternalID: "a"}, {ExternalID: "b"}, {ExternalID: "c"},
	}
	result, err := s.UpsertBatch(context.Background(), records, domain.ConflictUpdate)
	if err == nil || !domain.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if result.Persisted != 1 {
		t.Errorf("Persisted before the failure = %d, want 1", result.Persisted)
	}
	if len(result.Rejected) != 0 {
		t.Errorf("Rejected = %d, want 0", len(result.Rejected))
	}
}

func TestUpsertBatchCleanBatchSkipsFallback(t *testing.T) {
	s := NewRecordStore(nil)
	calls := 0
	s.exec = func(ctx context.Context, records []*domain.CanonicalRecord, policy domain.ConflictPolicy) error {
		calls++
		return nil
	}

	records := []*domain.CanonicalRecord{{ExternalID: "a"}, {ExternalID: "b"}}
	result, err := s.UpsertBatch(context.Background(), records, domain.ConflictUpdate)
	if err != nil {
		t.Fatalf("UpsertBatch = %v", err)
	}
	if result.Persisted != 2 {
		t.Errorf("Persisted = %d, want 2", result.Persisted)
	}
	if calls != 1 {
		t.Errorf("exec calls = %d, want a single set-based statement", calls)
	}
}
