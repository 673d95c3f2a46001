package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	user := Actor{ID: "u1", Role: RoleUser}
	vendor := Actor{ID: "v1", Role: RoleVendor}
	admin := Actor{ID: "a1", Role: RoleAdmin}

	assert.NoError(t, Authorize(user, PermCheckout))
	assert.ErrorIs(t, Authorize(vendor, PermCheckout), ErrForbidden)
	assert.ErrorIs(t, Authorize(admin, PermCheckout), ErrForbidden)
	assert.ErrorIs(t, Authorize(user, PermOrderSetStatus), ErrForbidden)
	assert.NoError(t, Authorize(admin, PermOrderSetStatus))
	assert.ErrorIs(t, Authorize(Actor{ID: "x", Role: "root"}, PermAdminReports), ErrForbidden)
}

func TestAuthorizeOwned(t *testing.T) {
	owner := Actor{ID: "u1", Role: RoleUser}
	other := Actor{ID: "u2", Role: RoleUser}
	admin := Actor{ID: "a1", Role: RoleAdmin}

	assert.NoError(t, AuthorizeOwned(owner, "u1", PermOrderReadOwn, PermOrderReadAny))
	assert.ErrorIs(t, AuthorizeOwned(other, "u1", PermOrderReadOwn, PermOrderReadAny), ErrForbidden)
	assert.NoError(t, AuthorizeOwned(admin, "u1", PermOrderReadOwn, PermOrderReadAny))
	assert.ErrorIs(t, AuthorizeOwned(Actor{Role: RoleUser}, "", PermOrderReadOwn, PermOrderReadAny), ErrForbidden)
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFrom(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), Actor{ID: "u1", Role: RoleUser})
	a, ok := ActorFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", a.ID)
	assert.True(t, RoleVendor.Valid())
	assert.False(t, Role("root").Valid())
}
