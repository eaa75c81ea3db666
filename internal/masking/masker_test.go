package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

func TestApplyMaskPolicies(t *testing.T) {
	cases := []struct {
		name  string
		kind  catalog.FieldKind
		value any
		mask  catalog.MaskType
		want  any
	}{
		{"none keeps value", catalog.FieldKindText, "secret", catalog.MaskNone, "secret"},
		{"none keeps non-string", catalog.FieldKindText, 42, catalog.MaskNone, 42},
		{"email", catalog.FieldKindEmail, "jane.doe@example.com", catalog.MaskPartial, "j••••@example.com"},
		{"email empty local", catalog.FieldKindEmail, "@example.com", catalog.MaskPartial, "••••@example.com"},
		{"email without at", catalog.FieldKindEmail, "jane.doe", catalog.MaskPartial, "j••••e"},
		{"phone", catalog.FieldKindPhone, "+1 (555) 123-4567", catalog.MaskPartial, "••••4567"},
		{"short phone", catalog.FieldKindPhone, "112", catalog.MaskPartial, "••••"},
		{"card", catalog.FieldKindCard, "4111 1111 1111 1234", catalog.MaskPartial, "••••1234"},
		{"text", catalog.FieldKindText, "Jakarta Selatan", catalog.MaskPartial, "J••••n"},
		{"short text", catalog.FieldKindText, "abcde", catalog.MaskPartial, "••••"},
		{"numeric text", catalog.FieldKindText, 1234567, catalog.MaskPartial, "1••••7"},
		{"hidden", catalog.FieldKindEmail, "jane@example.com", catalog.MaskHidden, nil},
		{"encrypted", catalog.FieldKindText, "ID-88-0021", catalog.MaskEncrypted, EncryptedMarker},
		{"redacted", catalog.FieldKindText, "10.0.0.1", catalog.MaskRedacted, RedactedMarker},
		{"unknown mask fails closed", catalog.FieldKindText, "x", catalog.MaskType(99), RedactedMarker},
		{"nil partial stays nil", catalog.FieldKindText, nil, catalog.MaskPartial, nil},
		{"nil encrypted keeps marker", catalog.FieldKindText, nil, catalog.MaskEncrypted, EncryptedMarker},
		{"nil redacted keeps marker", catalog.FieldKindEmail, nil, catalog.MaskRedacted, RedactedMarker},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Apply(tc.kind, tc.value, tc.mask))
		})
	}
}

func TestHiddenAndRedactedAreDistinct(t *testing.T) {
	assert.NotEqual(t, Apply(catalog.FieldKindText, "v", catalog.MaskHidden), Apply(catalog.FieldKindText, "v", catalog.MaskRedacted))
	assert.NotEqual(t, EncryptedMarker, RedactedMarker)
}

func TestApplyMaskInfersKind(t *testing.T) {
	assert.Equal(t, "a••••@odyssey.id", ApplyMask("admin@odyssey.id", catalog.MaskPartial))
	assert.Equal(t, "••••7788", ApplyMask("0812-3344-7788", catalog.MaskPartial))
	assert.Equal(t, "O••••y", ApplyMask("Odyssey", catalog.MaskPartial))
	assert.Equal(t, "••••", ApplyMask("12", catalog.MaskPartial))
}

func TestApplyMaskNormalizesUnicode(t *testing.T) {
	decomposed := "e\u0301mile@example.com"
	assert.Equal(t, "\u00e9••••@example.com", ApplyMask(decomposed, catalog.MaskPartial))

	text := "e\u0301cole primaire"
	assert.Equal(t, "\u00e9••••e", Apply(catalog.FieldKindText, text, catalog.MaskPartial))
}

func TestMaskingIsIdempotent(t *testing.T) {
	values := []any{
		"jane.doe@example.com", "@example.com", "x@y", "••••@example.com",
		"+62 812 3456 7890", "112", "4111111111111111",
		"Jakarta Selatan", "abc", "1abcd9", "école primaire",
		"", 1234567, 3.14, []byte("bytes-value"), nil,
	}
	kinds := []catalog.FieldKind{catalog.FieldKindText, catalog.FieldKindEmail, catalog.FieldKindPhone, catalog.FieldKindCard}

	for _, mask := range catalog.MaskTypes() {
		for _, v := range values {
			once := ApplyMask(v, mask)
			require.Equal(t, once, ApplyMask(once, mask), "ApplyMask %v %s", v, mask)
			for _, kind := range kinds {
				once := Apply(kind, v, mask)
				require.Equal(t, once, Apply(kind, once, mask), "Apply %s %v %s", kind, v, mask)
			}
		}
	}
}

func TestMaskRecord(t *testing.T) {
	record := map[string]any{
		"id":            "u-1",
		"name":          "Jane Doe",
		"email":         "jane@example.com",
		"phone":         "081234567890",
		"password_hash": "$2a$10$abc",
		"salary":        12000000,
	}
	decisions := map[string]Decision{
		"id":            {Allowed: true},
		"name":          {Allowed: true},
		"email":         {Allowed: true, Mask: catalog.MaskPartial},
		"phone":         {Allowed: true, Mask: catalog.MaskPartial},
		"password_hash": {Allowed: true, Mask: catalog.MaskHidden},
	}

	out := MaskRecord(catalog.EntityUser, record, func(field string) Decision {
		return decisions[field]
	})

	assert.Equal(t, map[string]any{
		"id":            "u-1",
		"name":          "Jane Doe",
		"email":         "j••••@example.com",
		"phone":         "••••7890",
		"password_hash": nil,
	}, out)
	assert.Equal(t, "jane@example.com", record["email"], "input record is not modified")
	_, present := out["salary"]
	assert.False(t, present)
}
