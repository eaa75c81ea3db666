package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTripsEveryValue(t *testing.T) {
	for _, e := range Entities() {
		parsed, err := ParseEntity(e.String())
		require.NoError(t, err)
		assert.Equal(t, e, parsed)
	}
	for _, a := range Actions() {
		parsed, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	for _, m := range MaskTypes() {
		parsed, err := ParseMaskType(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	_, err := ParseEntity("spaceship")
	require.ErrorIs(t, err, ErrInvalidCatalogValue)

	_, err = ParseAction("teleport")
	require.ErrorIs(t, err, ErrInvalidCatalogValue)

	_, err = ParseMaskType("blurred")
	require.ErrorIs(t, err, ErrInvalidCatalogValue)

	_, err = ParseEntity("")
	require.ErrorIs(t, err, ErrInvalidCatalogValue)
}

func TestParseIsCaseAndSpaceInsensitive(t *testing.T) {
	e, err := ParseEntity("  Audit_Log ")
	require.NoError(t, err)
	assert.Equal(t, EntityAuditLog, e)

	a, err := ParseAction("PUBLISH")
	require.NoError(t, err)
	assert.Equal(t, ActionPublish, a)
}

func TestValidationPredicates(t *testing.T) {
	assert.True(t, IsValidEntity("finance"))
	assert.False(t, IsValidEntity("finances"))
	assert.True(t, IsValidAction("comment"))
	assert.False(t, IsValidAction(""))
	assert.True(t, IsValidMaskType("redacted"))
	assert.False(t, IsValidMaskType(""))
	assert.False(t, Entity(200).Valid())
	assert.False(t, MaskType(9).Valid())
}

func TestActionPartition(t *testing.T) {
	base := BaseActions()
	special := SpecialActions()
	assert.Len(t, base, 5)
	assert.Len(t, special, len(Actions())-len(base))
	assert.Contains(t, special, ActionManage)
	assert.NotContains(t, special, ActionRead)
}

func TestMaskRestrictivenessOrder(t *testing.T) {
	order := []MaskType{MaskNone, MaskPartial, MaskHidden, MaskEncrypted, MaskRedacted}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Restrictiveness(), order[i-1].Restrictiveness(), order[i].String())
	}
}

func TestJSONUsesCatalogNames(t *testing.T) {
	payload := struct {
		Entity Entity   `json:"entity"`
		Action Action   `json:"action"`
		Mask   MaskType `json:"mask"`
	}{EntityBlog, ActionRead, MaskPartial}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entity":"blog","action":"read","mask":"partial"}`, string(raw))

	err = json.Unmarshal([]byte(`{"entity":"blog","action":"fly","mask":"none"}`), &payload)
	require.ErrorIs(t, err, ErrInvalidCatalogValue)
}

func TestFieldKindFor(t *testing.T) {
	assert.Equal(t, FieldKindEmail, FieldKindFor(EntityUser, "Email"))
	assert.Equal(t, FieldKindPhone, FieldKindFor(EntityUser, "phone"))
	assert.Equal(t, FieldKindEmail, FieldKindFor(EntityPage, "contact_email"))
	assert.Equal(t, FieldKindPhone, FieldKindFor(EntityPage, "mobile_number"))
	assert.Equal(t, FieldKindCard, FieldKindFor(EntityPayment, "card_number"))
}
