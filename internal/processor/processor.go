package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// Processor transforms raw records of one entity type into canonical records.
// Transform never panics on malformed input: malformed non-identifying fields
// become null with a warning; only a missing identifier or a broken required
// field rejects the record.
type Processor struct {
	mapping *Mapping
}

// New creates a processor after validating the mapping table.
func New(m *Mapping) (*Processor, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return &Processor{mapping: m}, nil
}

// Entity returns the entity type this processor normalises.
func (p *Processor) Entity() string {
	return p.mapping.Entity
}

// Transform normalises one raw record. Exactly one of record and rejection is
// non-nil. Warnings accompany a successful record.
func (p *Processor) Transform(raw domain.RawRecord) (*domain.CanonicalRecord, []domain.FieldWarning, *domain.Rejection) {
	rec := &domain.CanonicalRecord{
		Source:   raw.Source,
		Endpoint: raw.Endpoint,
	}
	if rawJSON, err := json.Marshal(raw.Data); err == nil {
		rec.Raw = rawJSON
	}

	var warnings []domain.FieldWarning
	fieldErrs := make(map[string][]string)

	for _, fm := range p.mapping.Fields {
		value := lookupPath(raw.Data, fm.Source)

		if value == nil {
			if fm.Required {
				fieldErrs[fm.Target] = append(fieldErrs[fm.Target], "required field missing")
			}
			continue
		}

		coerced, err := fm.Coerce(value)
		if err != nil {
			if fm.Required {
				fieldErrs[fm.Target] = append(fieldErrs[fm.Target], err.Error())
				continue
			}
			warnings = append(warnings, domain.FieldWarning{Field: fm.Target, Message: err.Error()})
			continue
		}
		if coerced == nil {
			if fm.Required {
				fieldErrs[fm.Target] = append(fieldErrs[fm.Target], "required field empty")
			}
			continue
		}

		if fm.Check != nil {
			if err := fm.Check(coerced); err != nil {
				if fm.Required {
					fieldErrs[fm.Target] = append(fieldErrs[fm.Target], err.Error())
					continue
				}
				warnings = append(warnings, domain.FieldWarning{Field: fm.Target, Message: err.Error()})
				continue
			}
		}

		p.assign(rec, fm, coerced)
	}

	if !rec.HasIdentifier() {
		return nil, warnings, &domain.Rejection{
			Reason: domain.RejectMissingIdentifier,
			Fields: fieldErrs,
		}
	}

	if len(fieldErrs) > 0 {
		return nil, warnings, &domain.Rejection{
			ExternalID: rec.ExternalID,
			Reason:     domain.RejectInvalidField,
			Fields:     fieldErrs,
		}
	}

	return rec, warnings, nil
}

// assign writes a coerced value into its canonical field, or into the
// attribute map when the target has no dedicated column.
func (p *Processor) assign(rec *domain.CanonicalRecord, fm FieldMapping, value any) {
	asString := func() string {
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		return truncate(s, fm.MaxLen)
	}

	switch fm.Target {
	case FieldExternalID:
		rec.ExternalID = asString()
	case FieldName:
		rec.Name = asString()
	case FieldEmail:
		rec.Email = asString()
	case FieldPhone:
		rec.Phone = asString()
	case FieldStatus:
		rec.Status = asString()
	case FieldAmount:
		switch f := value.(type) {
		case float64:
			rec.Amount = &f
		case int:
			v := float64(f)
			rec.Amount = &v
		}
	case FieldModifiedAt:
		if t, ok := value.(time.Time); ok {
			rec.ModifiedAt = &t
		}
	default:
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]any)
		}
		if s, ok := value.(string); ok && fm.MaxLen > 0 {
			value = truncate(s, fm.MaxLen)
		}
		rec.Attributes[fm.Target] = value
	}
}

// Registry holds the processor for each entity type, keyed by entity name.
// All mappings are validated when the registry is built.
type Registry struct {
	processors map[string]*Processor
}

// NewRegistry builds a registry from mapping tables, validating each.
func NewRegistry(mappings ...*Mapping) (*Registry, error) {
	r := &Registry{processors: make(map[string]*Processor, len(mappings))}
	for _, m := range mappings {
		proc, err := New(m)
		if err != nil {
			return nil, err
		}
		if _, dup := r.processors[m.Entity]; dup {
			return nil, fmt.Errorf("%w: duplicate mapping for entity %q", domain.ErrConfiguration, m.Entity)
		}
		r.processors[m.Entity] = proc
	}
	return r, nil
}

// Get returns the processor for an entity type.
func (r *Registry) Get(entity string) (*Processor, error) {
	proc, ok := r.processors[entity]
	if !ok {
		return nil, fmt.Errorf("%w: no mapping for entity %q", domain.ErrConfiguration, entity)
	}
	return proc, nil
}

// Entities lists the registered entity types.
func (r *Registry) Entities() []string {
	out := make([]string, 0, len(r.processors))
	for e := range r.processors {
		out = append(out, e)
	}
	return out
}
