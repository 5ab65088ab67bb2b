package domain

import (
	"encoding/json"
	"time"
)

// RawRecord is one record exactly as a connector fetched it, before any
// normalisation. Data keys are the source's own field names; values may be
// nested maps for JSON payloads.
type RawRecord struct {
	Source   string         `json:"source"`
	Endpoint string         `json:"endpoint"`
	Data     map[string]any `json:"data"`
}

// CanonicalRecord is the normalised representation of one business entity.
// It is keyed by (Source, Endpoint, ExternalID) and carries both the typed
// canonical columns and the original raw payload. The raw payload is kept for
// audit and debugging only and is never used for lookups.
type CanonicalRecord struct {
	Source     string `json:"source"`
	Endpoint   string `json:"endpoint"`
	ExternalID string `json:"external_id"`

	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Status string `json:"status,omitempty"`

	Amount     *float64   `json:"amount,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`

	// Attributes holds normalised fields that have no dedicated column.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Raw is the original source payload.
	Raw json.RawMessage `json:"raw,omitempty"`

	SyncedAt time.Time `json:"synced_at"`
}

// HasIdentifier reports whether the record carries at least one identifying
// field. Records without any are rejected rather than persisted.
func (r *CanonicalRecord) HasIdentifier() bool {
	return r.ExternalID != "" || r.Email != "" || r.Phone != "" || r.Name != ""
}

// RejectionReason classifies why a record was rejected by the processor.
type RejectionReason string

const (
	// RejectMissingIdentifier means no id, email, phone or name was present.
	RejectMissingIdentifier RejectionReason = "missing_identifier"
	// RejectInvalidField means a required field failed validation.
	RejectInvalidField RejectionReason = "invalid_field"
)

// Rejection describes one record the processor refused to emit.
// Fields maps each broken field to the reasons it failed, so batch validation
// can report every problem per record rather than the first one.
type Rejection struct {
	ExternalID string              `json:"external_id,omitempty"`
	Reason     RejectionReason     `json:"reason"`
	Fields     map[string][]string `json:"fields,omitempty"`
}

// FieldWarning records a malformed non-identifying field that was nulled
// during transformation. Warnings do not fail the record.
type FieldWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ConflictPolicy selects what a bulk upsert does on a key conflict.
type ConflictPolicy string

const (
	// ConflictUpdate updates all canonical fields on conflict (upsert).
	ConflictUpdate ConflictPolicy = "update"
	// ConflictIgnore skips records whose key already exists.
	ConflictIgnore ConflictPolicy = "ignore"
)

// RecordError describes one record a bulk upsert could not persist.
type RecordError struct {
	ExternalID string `json:"external_id"`
	Column     string `json:"column,omitempty"`
	Message    string `json:"message"`

	// For length violations: the declared column limit, the actual length,
	// and a truncated preview of the offending value.
	Limit        int    `json:"limit,omitempty"`
	ActualLength int    `json:"actual_length,omitempty"`
	Preview      string `json:"preview,omitempty"`
}

// BatchResult reports the outcome of persisting one batch.
type BatchResult struct {
	Persisted int           `json:"persisted"`
	Rejected  []RecordError `json:"rejected,omitempty"`
}

// Merge folds another batch result into this one.
func (b *BatchResult) Merge(other *BatchResult) {
	if other == nil {
		return
	}
	b.Persisted += other.Persisted
	b.Rejected = append(b.Rejected, other.Rejected...)
}
