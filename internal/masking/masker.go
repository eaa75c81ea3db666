// Package masking transforms field values for display according to a mask type.
//
// Reveal policy for partial masks:
//   - email: first rune of the local part, then the mask run, then "@domain".
//   - phone and card: the mask run followed by the last four digits; with fewer
//     than four digits only the mask run remains.
//   - text: first rune, mask run, last rune; values shorter than six runes
//     become the bare mask run.
//
// Every policy is idempotent: masking a masked value with the same type returns it unchanged.
package masking

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

const (
	// MaskRune fills the obscured part of a partially masked value.
	MaskRune = '•'
	// MaskRun is the fixed-length run used by every partial policy.
	MaskRun = "••••"
	// EncryptedMarker stands in for a value the caller may not decrypt.
	EncryptedMarker = "[ENCRYPTED]"
	// RedactedMarker stands in for a value removed for policy reasons.
	RedactedMarker = "[REDACTED]"

	revealDigits  = 4
	minTextReveal = 6
)

// ApplyMask masks value, inferring the field kind from the value itself.
func ApplyMask(value any, mask catalog.MaskType) any {
	if mask == catalog.MaskPartial {
		if s, ok := stringOf(value); ok {
			return Apply(inferKind(s), s, mask)
		}
	}
	return Apply(catalog.FieldKindText, value, mask)
}

// Apply masks value using the reveal policy of kind. A nil value stays nil
// unless the mask substitutes a marker, so an absent value is not told apart
// from a present one under encrypted or redacted.
// Unknown mask types fail closed to the redaction marker.
func Apply(kind catalog.FieldKind, value any, mask catalog.MaskType) any {
	switch mask {
	case catalog.MaskNone:
		return value
	case catalog.MaskHidden:
		return nil
	case catalog.MaskEncrypted:
		return EncryptedMarker
	case catalog.MaskPartial:
		if value == nil {
			return nil
		}
		s, _ := stringOf(value)
		s = norm.NFC.String(s)
		switch kind {
		case catalog.FieldKindEmail:
			return partialEmail(s)
		case catalog.FieldKindPhone, catalog.FieldKindCard:
			return partialDigits(s)
		default:
			return partialText(s)
		}
	default:
		return RedactedMarker
	}
}

// Decision is the per-field outcome MaskRecord needs.
type Decision struct {
	Allowed bool
	Mask    catalog.MaskType
}

// Decider resolves the decision for one field of a record.
type Decider func(field string) Decision

// MaskRecord returns a copy of record holding only the fields decide allows,
// each masked with the policy of its catalog field kind.
func MaskRecord(entity catalog.Entity, record map[string]any, decide Decider) map[string]any {
	out := make(map[string]any, len(record))
	for field, value := range record {
		d := decide(field)
		if !d.Allowed {
			continue
		}
		out[field] = Apply(catalog.FieldKindFor(entity, field), value, d.Mask)
	}
	return out
}

func partialEmail(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return partialText(s)
	}
	local, domain := s[:at], s[at:]
	r, _ := utf8.DecodeRuneInString(local)
	if local == "" || r == MaskRune {
		return MaskRun + domain
	}
	return string(r) + MaskRun + domain
}

func partialDigits(s string) string {
	var digits []rune
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < revealDigits {
		return MaskRun
	}
	return MaskRun + string(digits[len(digits)-revealDigits:])
}

func partialText(s string) string {
	runes := []rune(s)
	if len(runes) < minTextReveal {
		return MaskRun
	}
	return string(runes[0]) + MaskRun + string(runes[len(runes)-1])
}

// inferKind guesses the kind of an untyped value. Phone-like strings need at
// least four digits, which a masked text value never carries.
func inferKind(s string) catalog.FieldKind {
	if strings.ContainsRune(s, '@') {
		return catalog.FieldKindEmail
	}
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == MaskRune, r == '+', r == '-', r == ' ', r == '(', r == ')', r == '.':
		default:
			return catalog.FieldKindText
		}
	}
	if digits < revealDigits {
		return catalog.FieldKindText
	}
	return catalog.FieldKindPhone
}

func stringOf(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}
