package rbac

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
)

func perm(id string, entity catalog.Entity, field string, action catalog.Action, mask catalog.MaskType) Permission {
	return Permission{ID: id, Entity: entity, Field: field, Action: action, Mask: mask}
}

func TestAuthorizeEditorScenario(t *testing.T) {
	perms := []Permission{
		perm("p1", catalog.EntityBlog, "*", catalog.ActionRead, catalog.MaskNone),
		perm("p2", catalog.EntityBlog, "email", catalog.ActionRead, catalog.MaskPartial),
	}

	d, err := Authorize(perms, catalog.EntityBlog, catalog.ActionRead, "title")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, catalog.MaskNone, d.Mask)
	assert.Equal(t, "p1", d.PermissionID)

	d, err = Authorize(perms, catalog.EntityBlog, catalog.ActionRead, "email")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, catalog.MaskPartial, d.Mask)
	assert.Equal(t, "p2", d.PermissionID)
}

func TestAuthorizeExactFieldBeatsStricterWildcard(t *testing.T) {
	perms := []Permission{
		perm("w", catalog.EntityUser, "*", catalog.ActionRead, catalog.MaskRedacted),
		perm("e", catalog.EntityUser, "name", catalog.ActionRead, catalog.MaskNone),
	}
	d, err := Authorize(perms, catalog.EntityUser, catalog.ActionRead, "name")
	require.NoError(t, err)
	assert.Equal(t, Allow(catalog.MaskNone, "e"), d)

	d, err = Authorize(perms, catalog.EntityUser, catalog.ActionRead, "phone")
	require.NoError(t, err)
	assert.Equal(t, Allow(catalog.MaskRedacted, "w"), d)
}

func TestAuthorizeMostRestrictiveAmongEqualSpecificity(t *testing.T) {
	perms := []Permission{
		perm("a", catalog.EntityUser, "email", catalog.ActionRead, catalog.MaskPartial),
		perm("b", catalog.EntityUser, "email", catalog.ActionRead, catalog.MaskEncrypted),
		perm("c", catalog.EntityUser, "email", catalog.ActionRead, catalog.MaskHidden),
	}
	d, err := Authorize(perms, catalog.EntityUser, catalog.ActionRead, "email")
	require.NoError(t, err)
	assert.Equal(t, catalog.MaskEncrypted, d.Mask)
	assert.Equal(t, "b", d.PermissionID)

	wild := []Permission{
		perm("x", catalog.EntityFinance, "*", catalog.ActionRead, catalog.MaskNone),
		perm("y", catalog.EntityFinance, "*", catalog.ActionRead, catalog.MaskHidden),
	}
	d, err = Authorize(wild, catalog.EntityFinance, catalog.ActionRead, "amount")
	require.NoError(t, err)
	assert.Equal(t, catalog.MaskHidden, d.Mask)
}

func TestAuthorizeDeterministicUnderReordering(t *testing.T) {
	perms := []Permission{
		perm("a", catalog.EntityPayment, "*", catalog.ActionRead, catalog.MaskNone),
		perm("b", catalog.EntityPayment, "card_number", catalog.ActionRead, catalog.MaskPartial),
		perm("c", catalog.EntityPayment, "card_number", catalog.ActionRead, catalog.MaskPartial),
		perm("d", catalog.EntityPayment, "*", catalog.ActionRead, catalog.MaskPartial),
		perm("e", catalog.EntityPayment, "*", catalog.ActionList, catalog.MaskNone),
	}
	want, err := Authorize(perms, catalog.EntityPayment, catalog.ActionRead, "card_number")
	require.NoError(t, err)
	wantEntity, err := Authorize(perms, catalog.EntityPayment, catalog.ActionRead, "")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]Permission(nil), perms...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := Authorize(shuffled, catalog.EntityPayment, catalog.ActionRead, "card_number")
		require.NoError(t, err)
		assert.Equal(t, want, got)

		got, err = Authorize(shuffled, catalog.EntityPayment, catalog.ActionRead, "")
		require.NoError(t, err)
		assert.Equal(t, wantEntity, got)
	}
	assert.Equal(t, "b", want.PermissionID)
	assert.Equal(t, "a", wantEntity.PermissionID)
}

func TestAuthorizeEntityLevel(t *testing.T) {
	perms := []Permission{
		perm("f", catalog.EntityUser, "email", catalog.ActionRead, catalog.MaskPartial),
		perm("l", catalog.EntityUser, "*", catalog.ActionList, catalog.MaskNone),
	}

	d, err := Authorize(perms, catalog.EntityUser, catalog.ActionRead, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "field grants do not satisfy entity-level checks")
	assert.Equal(t, ReasonNoEntityGrant, d.Reason)

	d, err = Authorize(perms, catalog.EntityUser, catalog.ActionList, "*")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, catalog.MaskNone, d.Mask)
}

func TestAuthorizeEntityLevelNeverMasked(t *testing.T) {
	perms := []Permission{perm("w", catalog.EntityFinance, "*", catalog.ActionRead, catalog.MaskEncrypted)}
	d, err := Authorize(perms, catalog.EntityFinance, catalog.ActionRead, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, catalog.MaskNone, d.Mask)
}

func TestAuthorizeDefaultDeny(t *testing.T) {
	perms := []Permission{
		perm("r", catalog.EntityUser, "*", catalog.ActionRead, catalog.MaskNone),
	}
	d, err := Authorize(perms, catalog.EntityUser, catalog.ActionDelete, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = Authorize(nil, catalog.EntityBlog, catalog.ActionRead, "title")
	require.NoError(t, err)
	assert.Equal(t, Deny(ReasonNoFieldGrant), d)
}

func TestAuthorizeManageIsOrthogonal(t *testing.T) {
	perms := []Permission{perm("m", catalog.EntityBlog, "*", catalog.ActionManage, catalog.MaskNone)}
	for _, action := range catalog.BaseActions() {
		d, err := Authorize(perms, catalog.EntityBlog, action, "")
		require.NoError(t, err)
		assert.False(t, d.Allowed, action.String())
	}
	d, err := Authorize(perms, catalog.EntityBlog, catalog.ActionManage, "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorizeFieldNameNormalized(t *testing.T) {
	perms := []Permission{perm("e", catalog.EntityUser, "email", catalog.ActionRead, catalog.MaskPartial)}
	d, err := Authorize(perms, catalog.EntityUser, catalog.ActionRead, "  Email ")
	require.NoError(t, err)
	assert.Equal(t, catalog.MaskPartial, d.Mask)
}

func TestAuthorizeCatalogViolationIsError(t *testing.T) {
	_, err := Authorize(nil, catalog.Entity(0), catalog.ActionRead, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrInvalidCatalogValue))

	_, err = Authorize(nil, catalog.EntityUser, catalog.Action(250), "")
	require.ErrorIs(t, err, catalog.ErrInvalidCatalogValue)
}

func TestWildcardAppliesToAnyField(t *testing.T) {
	for _, mask := range catalog.MaskTypes() {
		perms := []Permission{perm("w", catalog.EntityReport, "*", catalog.ActionRead, mask)}
		for _, field := range []string{"title", "summary", "owner_email"} {
			d, err := Authorize(perms, catalog.EntityReport, catalog.ActionRead, field)
			require.NoError(t, err)
			assert.Equal(t, Allow(mask, "w"), d)
		}
	}
}
