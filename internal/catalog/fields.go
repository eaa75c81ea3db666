package catalog

import "strings"

// FieldKind tells the masker which reveal policy applies to a field.
type FieldKind uint8

// Field kinds.
const (
	FieldKindText FieldKind = iota
	FieldKindEmail
	FieldKindPhone
	FieldKindCard
)

func (k FieldKind) String() string {
	switch k {
	case FieldKindEmail:
		return "email"
	case FieldKindPhone:
		return "phone"
	case FieldKindCard:
		return "card"
	default:
		return "text"
	}
}

// MarshalText encodes the kind by name.
func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// SensitiveField declares a field that is masked for non-privileged readers.
type SensitiveField struct {
	Entity Entity    `json:"entity"`
	Field  string    `json:"field"`
	Kind   FieldKind `json:"kind"`
	Mask   MaskType  `json:"mask_type"`
}

var sensitiveFields = []SensitiveField{
	{Entity: EntityUser, Field: "email", Kind: FieldKindEmail, Mask: MaskPartial},
	{Entity: EntityUser, Field: "phone", Kind: FieldKindPhone, Mask: MaskPartial},
	{Entity: EntityUser, Field: "password_hash", Kind: FieldKindText, Mask: MaskHidden},
	{Entity: EntityUser, Field: "two_factor_secret", Kind: FieldKindText, Mask: MaskHidden},
	{Entity: EntityBlog, Field: "author_email", Kind: FieldKindEmail, Mask: MaskPartial},
	{Entity: EntityComment, Field: "author_email", Kind: FieldKindEmail, Mask: MaskPartial},
	{Entity: EntityComment, Field: "ip_address", Kind: FieldKindText, Mask: MaskRedacted},
	{Entity: EntityFinance, Field: "account_number", Kind: FieldKindText, Mask: MaskEncrypted},
	{Entity: EntityFinance, Field: "tax_id", Kind: FieldKindText, Mask: MaskEncrypted},
	{Entity: EntityInvoice, Field: "billing_email", Kind: FieldKindEmail, Mask: MaskPartial},
	{Entity: EntityPayment, Field: "card_number", Kind: FieldKindCard, Mask: MaskPartial},
	{Entity: EntityPayment, Field: "cvv", Kind: FieldKindText, Mask: MaskHidden},
	{Entity: EntitySetting, Field: "api_secret", Kind: FieldKindText, Mask: MaskHidden},
	{Entity: EntityAuditLog, Field: "ip_address", Kind: FieldKindText, Mask: MaskRedacted},
	{Entity: EntityAuditLog, Field: "user_agent", Kind: FieldKindText, Mask: MaskRedacted},
}

// SensitiveFields returns a copy of the sensitive field registry.
func SensitiveFields() []SensitiveField {
	out := make([]SensitiveField, len(sensitiveFields))
	copy(out, sensitiveFields)
	return out
}

// FieldKindFor resolves the masking kind of an entity field. Unregistered fields
// fall back to a name-based guess.
func FieldKindFor(entity Entity, field string) FieldKind {
	field = NormalizeField(field)
	for _, sf := range sensitiveFields {
		if sf.Entity == entity && sf.Field == field {
			return sf.Kind
		}
	}
	switch {
	case strings.Contains(field, "email"):
		return FieldKindEmail
	case strings.Contains(field, "phone"), strings.Contains(field, "mobile"):
		return FieldKindPhone
	default:
		return FieldKindText
	}
}

// NormalizeField trims and lower-cases a field name. An empty name stays empty.
func NormalizeField(field string) string {
	return strings.ToLower(strings.TrimSpace(field))
}
