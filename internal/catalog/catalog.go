// Package catalog declares the closed vocabulary used by the permission model:
// entities, actions and mask types. Values outside the catalog cannot be parsed
// and are rejected when a permission is created, never at decision time.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Version identifies the catalog revision. Bump it whenever an entity, action
// or sensitive field is added so seeded stores can be reconciled.
const Version = "3"

// FieldWildcard matches every field of an entity.
const FieldWildcard = "*"

// ErrInvalidCatalogValue reports an entity, action or mask type that is not part of the catalog.
var ErrInvalidCatalogValue = errors.New("catalog: invalid value")

// Entity is a protected resource type.
type Entity uint8

// Entities known to the catalog. The zero value is invalid.
const (
	EntityUnknown Entity = iota
	EntityUser
	EntityRole
	EntityPermission
	EntityBlog
	EntityCategory
	EntityComment
	EntityMedia
	EntityPage
	EntityFinance
	EntityInvoice
	EntityPayment
	EntityReport
	EntitySetting
	EntityAuditLog
	EntityNotification
	EntitySystem
)

var entityNames = []string{
	"",
	"user",
	"role",
	"permission",
	"blog",
	"category",
	"comment",
	"media",
	"page",
	"finance",
	"invoice",
	"payment",
	"report",
	"setting",
	"audit_log",
	"notification",
	"system",
}

// Action is an operation performed on an entity.
type Action uint8

// Actions known to the catalog. The zero value is invalid.
const (
	ActionUnknown Action = iota
	ActionCreate
	ActionRead
	ActionUpdate
	ActionDelete
	ActionList
	ActionExport
	ActionImport
	ActionApprove
	ActionReject
	ActionPublish
	ActionArchive
	ActionManage
	ActionBan
	ActionUnban
	ActionAssign
	ActionRevoke
	ActionConfigure
	ActionMonitor
	ActionBackup
	ActionRestore
	ActionMaintain
	ActionExecute
	ActionShare
	ActionComment
)

var actionNames = []string{
	"",
	"create",
	"read",
	"update",
	"delete",
	"list",
	"export",
	"import",
	"approve",
	"reject",
	"publish",
	"archive",
	"manage",
	"ban",
	"unban",
	"assign",
	"revoke",
	"configure",
	"monitor",
	"backup",
	"restore",
	"maintain",
	"execute",
	"share",
	"comment",
}

// MaskType describes how a readable field is transformed before it leaves the system.
// Higher values are more restrictive.
type MaskType uint8

// Mask types ordered from least to most restrictive.
const (
	MaskNone MaskType = iota
	MaskPartial
	MaskHidden
	MaskEncrypted
	MaskRedacted
)

var maskNames = []string{
	"none",
	"partial",
	"hidden",
	"encrypted",
	"redacted",
}

// String returns the catalog name of the entity.
func (e Entity) String() string { return nameOf(entityNames, int(e)) }

// Valid reports whether e is a catalog entity.
func (e Entity) Valid() bool { return e > EntityUnknown && int(e) < len(entityNames) }

// MarshalText implements encoding.TextMarshaler.
func (e Entity) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: entity %d", ErrInvalidCatalogValue, e)
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Entity) UnmarshalText(text []byte) error {
	parsed, err := ParseEntity(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// String returns the catalog name of the action.
func (a Action) String() string { return nameOf(actionNames, int(a)) }

// Valid reports whether a is a catalog action.
func (a Action) Valid() bool { return a > ActionUnknown && int(a) < len(actionNames) }

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: action %d", ErrInvalidCatalogValue, a)
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// String returns the catalog name of the mask type.
func (m MaskType) String() string { return nameOf(maskNames, int(m)) }

// Valid reports whether m is a catalog mask type.
func (m MaskType) Valid() bool { return int(m) < len(maskNames) }

// Restrictiveness ranks mask types; a higher rank hides more.
func (m MaskType) Restrictiveness() int { return int(m) }

// MarshalText implements encoding.TextMarshaler.
func (m MaskType) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: mask type %d", ErrInvalidCatalogValue, m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MaskType) UnmarshalText(text []byte) error {
	parsed, err := ParseMaskType(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseEntity resolves a catalog entity by name.
func ParseEntity(name string) (Entity, error) {
	idx, ok := indexOf(entityNames, name)
	if !ok || idx == 0 {
		return EntityUnknown, fmt.Errorf("%w: entity %q", ErrInvalidCatalogValue, name)
	}
	return Entity(idx), nil
}

// ParseAction resolves a catalog action by name.
func ParseAction(name string) (Action, error) {
	idx, ok := indexOf(actionNames, name)
	if !ok || idx == 0 {
		return ActionUnknown, fmt.Errorf("%w: action %q", ErrInvalidCatalogValue, name)
	}
	return Action(idx), nil
}

// ParseMaskType resolves a catalog mask type by name. An empty name means MaskNone.
func ParseMaskType(name string) (MaskType, error) {
	if strings.TrimSpace(name) == "" {
		return MaskNone, nil
	}
	idx, ok := indexOf(maskNames, name)
	if !ok {
		return MaskNone, fmt.Errorf("%w: mask type %q", ErrInvalidCatalogValue, name)
	}
	return MaskType(idx), nil
}

// IsValidEntity reports whether name is a catalog entity.
func IsValidEntity(name string) bool {
	_, err := ParseEntity(name)
	return err == nil
}

// IsValidAction reports whether name is a catalog action.
func IsValidAction(name string) bool {
	_, err := ParseAction(name)
	return err == nil
}

// IsValidMaskType reports whether name is a catalog mask type.
func IsValidMaskType(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := ParseMaskType(name)
	return err == nil
}

// Entities lists every catalog entity in declaration order.
func Entities() []Entity {
	out := make([]Entity, 0, len(entityNames)-1)
	for i := 1; i < len(entityNames); i++ {
		out = append(out, Entity(i))
	}
	return out
}

// Actions lists every catalog action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, len(actionNames)-1)
	for i := 1; i < len(actionNames); i++ {
		out = append(out, Action(i))
	}
	return out
}

// MaskTypes lists every mask type from least to most restrictive.
func MaskTypes() []MaskType {
	out := make([]MaskType, 0, len(maskNames))
	for i := range maskNames {
		out = append(out, MaskType(i))
	}
	return out
}

// BaseActions are the CRUD and listing actions every entity supports.
func BaseActions() []Action {
	return []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList}
}

// SpecialActions are the catalog actions outside BaseActions.
func SpecialActions() []Action {
	out := make([]Action, 0, len(actionNames)-6)
	for _, a := range Actions() {
		if !a.IsBase() {
			out = append(out, a)
		}
	}
	return out
}

// IsBase reports whether a is one of BaseActions.
func (a Action) IsBase() bool {
	return a >= ActionCreate && a <= ActionList
}

func nameOf(names []string, idx int) string {
	if idx < 0 || idx >= len(names) {
		return fmt.Sprintf("invalid(%d)", idx)
	}
	return names[idx]
}

func indexOf(names []string, name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, false
	}
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
