package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagat.app/internal/store"
)

func TestDirectoryRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := f.seed(t, store.User{Username: "target"})
	user := Identity{ID: 99, Username: "mallory", Role: store.RoleUser, Approved: store.Approved}

	_, err := f.dir.ListUsers(ctx, user, "all")
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, f.dir.Approve(ctx, user, target.ID), ErrForbidden)
	require.ErrorIs(t, f.dir.Delete(ctx, user, target.ID), ErrForbidden)
	assert.Empty(t, f.rec.actions())
}

func TestDirectoryAdminCannotDeleteSelf(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	require.ErrorIs(t, f.dir.Delete(context.Background(), admin, admin.ID), ErrForbidden)
}

func TestDirectoryListAndRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.admin(t)
	carol := f.seed(t, store.User{Username: "carol"})
	f.seed(t, store.User{Username: "dan", Approved: store.Rejected})

	pending, err := f.dir.ListUsers(ctx, admin, "Pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "carol", pending[0].Username)

	_, err = f.dir.ListUsers(ctx, admin, "archived")
	require.ErrorIs(t, err, ErrInvalidInput)

	require.ErrorIs(t, f.dir.SetRole(ctx, admin, carol.ID, "owner"), ErrInvalidInput)
	require.NoError(t, f.dir.SetRole(ctx, admin, carol.ID, "ADMIN"))
	got, err := f.users.FindByID(ctx, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, got.Role)

	require.ErrorIs(t, f.dir.Approve(ctx, admin, 424242), ErrNotFound)
	assert.Equal(t, []string{"user/role"}, f.rec.actions())
}

func TestGate(t *testing.T) {
	require.NoError(t, Gate(store.Approved))
	require.ErrorIs(t, Gate(store.Pending), ErrPending)
	require.ErrorIs(t, Gate(store.Rejected), ErrRejected)
	require.ErrorIs(t, Gate(store.Rejected), ErrNotApproved)
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	require.False(t, ok)
	ctx := ContextWithIdentity(context.Background(), Identity{ID: 1, Username: "a", Role: store.RoleAdmin, Approved: 1})
	id, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.True(t, id.IsAdmin())
	assert.True(t, id.Valid())
}
