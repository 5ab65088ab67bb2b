package processor

import "time"

// Column length limits for the canonical records table. These mirror the
// declared limits in schema.sql and are compiled in; source schemas change
// rarely enough that a config file would be more moving parts than value.
const (
	MaxLenExternalID = 128
	MaxLenName       = 255
	MaxLenEmail      = 255
	MaxLenPhone      = 32
	MaxLenStatus     = 64
)

// ContactMapping is the mapping table for CRM contact entities.
func ContactMapping(loc *time.Location) *Mapping {
	return &Mapping{
		Entity: "contacts",
		Fields: []FieldMapping{
			{Source: "id", Target: FieldExternalID, Coerce: String, Required: true, MaxLen: MaxLenExternalID},
			{Source: "name", Target: FieldName, Coerce: String, MaxLen: MaxLenName},
			{Source: "email", Target: FieldEmail, Coerce: Email, Check: CheckEmail, MaxLen: MaxLenEmail},
			{Source: "phone", Target: FieldPhone, Coerce: String, Check: CheckPhone, MaxLen: MaxLenPhone},
			{Source: "status", Target: FieldStatus, Coerce: String,
				Check: CheckOneOf("active", "inactive", "pending", "archived"), MaxLen: MaxLenStatus},
			{Source: "updated_at", Target: FieldModifiedAt, Coerce: Time(loc)},
			{Source: "address.city", Target: "city", Coerce: String, MaxLen: 128},
			{Source: "address.country", Target: "country", Coerce: String, MaxLen: 64},
			{Source: "opted_in", Target: "opted_in", Coerce: Bool},
		},
	}
}

// DealMapping is the mapping table for CRM deal entities.
func DealMapping(loc *time.Location) *Mapping {
	return &Mapping{
		Entity: "deals",
		Fields: []FieldMapping{
			{Source: "id", Target: FieldExternalID, Coerce: String, Required: true, MaxLen: MaxLenExternalID},
			{Source: "title", Target: FieldName, Coerce: String, MaxLen: MaxLenName},
			{Source: "value", Target: FieldAmount, Coerce: Decimal},
			{Source: "stage", Target: FieldStatus, Coerce: String,
				Check: CheckOneOf("open", "won", "lost", "stalled"), MaxLen: MaxLenStatus},
			{Source: "owner.email", Target: "owner_email", Coerce: Email, Check: CheckEmail, MaxLen: MaxLenEmail},
			{Source: "probability", Target: "probability", Coerce: Int},
			{Source: "modified", Target: FieldModifiedAt, Coerce: Time(loc)},
		},
	}
}

// InvoiceMapping is the mapping table for billing invoice extract rows.
// Extract ids are UUIDs minted by the billing system, so the identifier is
// shape-checked rather than just length-capped.
func InvoiceMapping(loc *time.Location) *Mapping {
	return &Mapping{
		Entity: "invoices",
		Fields: []FieldMapping{
			{Source: "id", Target: FieldExternalID, Coerce: String, Required: true,
				Check: CheckUUID, MaxLen: MaxLenExternalID},
			{Source: "customer_name", Target: FieldName, Coerce: String, MaxLen: MaxLenName},
			{Source: "customer_email", Target: FieldEmail, Coerce: Email, Check: CheckEmail, MaxLen: MaxLenEmail},
			{Source: "total", Target: FieldAmount, Coerce: Decimal},
			{Source: "state", Target: FieldStatus, Coerce: String,
				Check: CheckOneOf("draft", "issued", "paid", "void"), MaxLen: MaxLenStatus},
			{Source: "currency", Target: "currency", Coerce: String, MaxLen: 8},
			{Source: "updated_at", Target: FieldModifiedAt, Coerce: Time(loc)},
		},
	}
}

// DefaultRegistry builds the registry with the built-in entity mappings.
// Naive timestamps from sources are interpreted in loc; nil means UTC.
func DefaultRegistry(loc *time.Location) (*Registry, error) {
	return NewRegistry(ContactMapping(loc), DealMapping(loc), InvoiceMapping(loc))
}
