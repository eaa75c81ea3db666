package rbac

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

// Decision is the outcome of Authorize. A denial is a normal result, not an error.
type Decision struct {
	Allowed      bool             `json:"allowed"`
	Mask         catalog.MaskType `json:"mask"`
	PermissionID string           `json:"permission_id,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// Deny reasons.
const (
	ReasonNoEntityGrant = "no wildcard grant for entity action"
	ReasonNoFieldGrant  = "no grant covers field"
)

// Allow builds an allowing decision.
func Allow(mask catalog.MaskType, permissionID string) Decision {
	return Decision{Allowed: true, Mask: mask, PermissionID: permissionID}
}

// Deny builds a denying decision.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Authorize evaluates a request against an effective permission set.
//
// An empty field (or "*") asks for entity-level access, which only wildcard
// grants satisfy and which never carries a mask. For a named field, a grant on
// that exact field beats a wildcard grant; among grants of equal specificity the
// most restrictive mask wins. Anything unmatched is denied. The manage action is
// evaluated like any other action and implies nothing else.
//
// An error is returned only when entity or action lie outside the catalog.
func Authorize(perms []Permission, entity catalog.Entity, action catalog.Action, field string) (Decision, error) {
	if !entity.Valid() {
		return Decision{}, fmt.Errorf("%w: entity %d", catalog.ErrInvalidCatalogValue, entity)
	}
	if !action.Valid() {
		return Decision{}, fmt.Errorf("%w: action %d", catalog.ErrInvalidCatalogValue, action)
	}
	field = catalog.NormalizeField(field)

	if field == "" || field == catalog.FieldWildcard {
		var match *Permission
		for i := range perms {
			p := &perms[i]
			if p.Entity != entity || p.Action != action || !p.IsWildcard() {
				continue
			}
			if match == nil || p.ID < match.ID {
				match = p
			}
		}
		if match == nil {
			return Deny(ReasonNoEntityGrant), nil
		}
		return Allow(catalog.MaskNone, match.ID), nil
	}

	var exact, wildcard *Permission
	for i := range perms {
		p := &perms[i]
		if p.Entity != entity || p.Action != action {
			continue
		}
		switch {
		case p.Field == field:
			exact = stricter(exact, p)
		case p.IsWildcard():
			wildcard = stricter(wildcard, p)
		}
	}
	switch {
	case exact != nil:
		return Allow(exact.Mask, exact.ID), nil
	case wildcard != nil:
		return Allow(wildcard.Mask, wildcard.ID), nil
	default:
		return Deny(ReasonNoFieldGrant), nil
	}
}

// stricter keeps the candidate with the more restrictive mask. Ties resolve on
// the permission ID so the outcome does not depend on input order.
func stricter(cur, next *Permission) *Permission {
	if cur == nil {
		return next
	}
	cr, nr := cur.Mask.Restrictiveness(), next.Mask.Restrictiveness()
	if nr > cr || (nr == cr && next.ID < cur.ID) {
		return next
	}
	return cur
}
