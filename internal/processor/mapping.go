// Package processor turns raw source records into canonical records.
// It is pure: no I/O, no clocks beyond timestamp parsing, no logging.
//
// Each entity type declares a static mapping table (source field → canonical
// field → coercion). Mappings are validated once at startup rather than
// discovered per record.
package processor

import (
	"fmt"
	"strings"
)

// Canonical field names a mapping may target. Anything else lands in the
// record's attribute map.
const (
	FieldExternalID = "external_id"
	FieldName       = "name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldStatus     = "status"
	FieldAmount     = "amount"
	FieldModifiedAt = "modified_at"
)

// CoerceFunc converts one raw value into its canonical form. A nil result
// with a non-nil error means the value was malformed and has been nulled;
// the error text becomes a field warning (or a rejection reason when the
// field is required).
type CoerceFunc func(value any) (any, error)

// CheckFunc validates one coerced value. A non-nil error is recorded in the
// record's field error map.
type CheckFunc func(value any) error

// FieldMapping maps one source field to one canonical field.
type FieldMapping struct {
	// Source is the raw field name. Dotted paths descend into nested
	// objects ("address.city").
	Source string

	// Target is the canonical field name, or an attribute name.
	Target string

	// Coerce converts the raw value. Required.
	Coerce CoerceFunc

	// Check optionally validates the coerced value.
	Check CheckFunc

	// Required rejects the whole record when the field is absent or
	// uncoercible.
	Required bool

	// MaxLen truncates string values to the destination column's declared
	// maximum length. Zero means no truncation.
	MaxLen int
}

// Mapping is the static field mapping table for one entity type.
type Mapping struct {
	// Entity names the entity type this mapping normalises.
	Entity string

	// Fields is the ordered mapping table.
	Fields []FieldMapping
}

// Validate checks the mapping table is well formed. It is called once at
// startup; a bad table is a configuration error, not a per-record one.
func (m *Mapping) Validate() error {
	if m.Entity == "" {
		return fmt.Errorf("mapping has no entity name")
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("mapping %s has no fields", m.Entity)
	}
	seen := make(map[string]struct{}, len(m.Fields))
	for i, f := range m.Fields {
		if f.Source == "" {
			return fmt.Errorf("mapping %s: field %d has no source", m.Entity, i)
		}
		if f.Target == "" {
			return fmt.Errorf("mapping %s: field %q has no target", m.Entity, f.Source)
		}
		if f.Coerce == nil {
			return fmt.Errorf("mapping %s: field %q has no coercion", m.Entity, f.Source)
		}
		if _, dup := seen[f.Target]; dup {
			return fmt.Errorf("mapping %s: duplicate target %q", m.Entity, f.Target)
		}
		seen[f.Target] = struct{}{}
	}
	return nil
}

// lookupPath resolves a dotted path in a raw payload. Returns nil when any
// segment is absent or not an object.
func lookupPath(data map[string]any, path string) any {
	if data == nil {
		return nil
	}
	segments := strings.Split(path, ".")
	var current any = data
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[seg]
		if !ok {
			return nil
		}
	}
	return current
}
