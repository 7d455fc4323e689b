package accesscontrol

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermission(t *testing.T) {
	principal := NewPrincipal("user-1", "tenant-1", RoleOperator, []Permission{"orders:read"})

	t.Run("held permission grants", func(t *testing.T) {
		err := HasPermission("orders:read")(context.Background(), principal)
		assert.NoError(t, err)
	})

	t.Run("missing permission denies", func(t *testing.T) {
		err := HasPermission("tenants:edit")(context.Background(), principal)
		require.Error(t, err)
		assert.True(t, IsAccessDenied(err))
	})
}

func TestEvery(t *testing.T) {
	principal := NewPrincipal("user-1", "tenant-1", RoleOperator, []Permission{"a:read", "b:read"})
	ctx := context.Background()

	t.Run("all grant", func(t *testing.T) {
		policy := Every(HasPermission("a:read"), HasPermission("b:read"))
		assert.NoError(t, policy(ctx, principal))
	})

	t.Run("one denial denies", func(t *testing.T) {
		policy := Every(HasPermission("a:read"), HasPermission("c:read"))
		assert.True(t, IsAccessDenied(policy(ctx, principal)))
	})

	t.Run("empty grants", func(t *testing.T) {
		assert.NoError(t, Every()(ctx, principal))
	})

	t.Run("defect surfaces unchanged", func(t *testing.T) {
		defect := errors.New("lookup failed")
		policy := Every(func(ctx context.Context, p *Principal) error { return defect })
		err := policy(ctx, principal)
		assert.ErrorIs(t, err, defect)
		assert.False(t, IsAccessDenied(err))
	})
}

func TestSome(t *testing.T) {
	principal := NewPrincipal("user-1", "tenant-1", RoleCustomer, []Permission{"a:read"})
	ctx := context.Background()

	t.Run("one grant suffices", func(t *testing.T) {
		policy := Some(HasPermission("missing:read"), HasPermission("a:read"))
		assert.NoError(t, policy(ctx, principal))
	})

	t.Run("all denials deny", func(t *testing.T) {
		policy := Some(HasPermission("x:read"), HasPermission("y:read"))
		err := policy(ctx, principal)
		require.Error(t, err)
		assert.True(t, IsAccessDenied(err))
		assert.Contains(t, err.Error(), "x:read")
		assert.Contains(t, err.Error(), "y:read")
	})

	t.Run("empty denies", func(t *testing.T) {
		assert.True(t, IsAccessDenied(Some()(ctx, principal)))
	})

	t.Run("defect aborts even with later grant", func(t *testing.T) {
		defect := errors.New("db down")
		policy := Some(
			func(ctx context.Context, p *Principal) error { return defect },
			HasPermission("a:read"),
		)
		assert.ErrorIs(t, policy(ctx, principal), defect)
	})
}

// Policies built purely from HasPermission combinators must agree with a
// direct evaluation of the same boolean formula over random permission sets.
func TestCombinatorsAgainstRandomPermissionSets(t *testing.T) {
	universe := []Permission{"a:read", "b:read", "c:read", "d:read", "e:read"}
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		held := make([]Permission, 0, len(universe))
		for _, p := range universe {
			if rng.Intn(2) == 1 {
				held = append(held, p)
			}
		}
		principal := NewPrincipal("u", "t", RoleManager, held)
		has := func(p Permission) bool { return principal.Has(p) }

		// (a AND b) OR (c AND (d OR e))
		policy := Some(
			Every(HasPermission("a:read"), HasPermission("b:read")),
			Every(HasPermission("c:read"), Some(HasPermission("d:read"), HasPermission("e:read"))),
		)
		want := (has("a:read") && has("b:read")) || (has("c:read") && (has("d:read") || has("e:read")))

		err := policy(ctx, principal)
		if want {
			assert.NoError(t, err, "held=%v", held)
		} else {
			assert.True(t, IsAccessDenied(err), "held=%v", held)
		}
	}
}

func TestEnforceAnnotatesAction(t *testing.T) {
	principal := NewPrincipal("u", "t", RoleCustomer, nil)
	err := Enforce(context.Background(), principal, HasPermission("orders:create"), "createOrder")
	require.Error(t, err)
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "createOrder", denied.Action)
}

func TestCatalog(t *testing.T) {
	t.Run("duplicate declaration panics", func(t *testing.T) {
		catalog := NewCatalog()
		catalog.Declare("orders:read")
		assert.Panics(t, func() { catalog.Declare("orders:read") })
	})

	t.Run("declare after freeze panics", func(t *testing.T) {
		catalog := NewCatalog()
		catalog.Freeze()
		assert.Panics(t, func() { catalog.Declare("orders:read") })
	})

	t.Run("acl validation flags unknown permission", func(t *testing.T) {
		catalog := NewCatalog()
		catalog.DeclareResource("orders", "read", "create")
		catalog.Freeze()

		valid := ACL{RoleOperator: {"orders:read"}}
		assert.NoError(t, valid.Validate(catalog))

		invalid := ACL{RoleOperator: {"orders:destroy"}}
		err := invalid.Validate(catalog)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "orders:destroy")
	})
}
