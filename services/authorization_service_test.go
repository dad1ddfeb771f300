package services_test

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"permission-center/repositories"
	"permission-center/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moderatorUser uint = 42

// moderatorFixture holds a Moderator role granting delete_comment, assigned to moderatorUser.
func moderatorFixture(t *testing.T) *testEnv {
	t.Helper()
	env := setupServices(t)
	ctx := context.Background()
	env.permission(t, "delete_comment")
	env.permission(t, "ban_user")
	env.role(t, "Moderator", 50)
	require.NoError(t, env.grants.GrantRolePermission(ctx, "Moderator", "delete_comment", services.GrantOptions{GrantedBy: "test"}))
	require.NoError(t, env.roles.AddUserToRole(ctx, moderatorUser, "Moderator"))
	return env
}

func TestAuthorizeScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("Role grant allows", func(t *testing.T) {
		env := moderatorFixture(t)

		ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.True(t, ok)

		effective, err := env.authz.GetEffectivePermissions(ctx, moderatorUser)
		require.NoError(t, err)
		assert.Contains(t, effective, "delete_comment")
	})

	t.Run("Authoritative override denies", func(t *testing.T) {
		env := moderatorFixture(t)
		require.NoError(t, env.grants.SetUserOverride(ctx, moderatorUser, &services.OverrideInput{
			Permission: "delete_comment", IsGranted: false, IsOverride: true, IsEffective: true,
		}))

		ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.False(t, ok)

		effective, err := env.authz.GetEffectivePermissions(ctx, moderatorUser)
		require.NoError(t, err)
		assert.NotContains(t, effective, "delete_comment")

		users, err := env.authz.GetUsersWithPermission(ctx, "delete_comment")
		require.NoError(t, err)
		assert.NotContains(t, users, moderatorUser)
	})

	t.Run("Direct record without role", func(t *testing.T) {
		env := moderatorFixture(t)
		require.NoError(t, env.grants.SetUserOverride(ctx, moderatorUser, &services.OverrideInput{
			Permission: "ban_user", IsGranted: true, IsEffective: true,
		}))

		ok, err := env.authz.Authorize(ctx, moderatorUser, "ban_user")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Plain deny record does not beat a role", func(t *testing.T) {
		env := moderatorFixture(t)
		require.NoError(t, env.grants.SetUserOverride(ctx, moderatorUser, &services.OverrideInput{
			Permission: "delete_comment", IsGranted: false, IsOverride: false, IsEffective: true,
		}))

		ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Granted but ineffective override denies", func(t *testing.T) {
		env := moderatorFixture(t)
		require.NoError(t, env.grants.SetUserOverride(ctx, moderatorUser, &services.OverrideInput{
			Permission: "delete_comment", IsGranted: true, IsOverride: true, IsEffective: false,
		}))

		ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Role grant flags", func(t *testing.T) {
		env := moderatorFixture(t)
		role, err := env.roles.GetRoleByName(ctx, "Moderator")
		require.NoError(t, err)

		// an effective grant counts even when is_granted is false
		_, err = env.grants.BulkAddRoleGrants(ctx, role.ID, []services.RoleGrantInput{
			{Permission: "delete_comment", IsGranted: false, IsEffective: true},
		})
		require.NoError(t, err)
		ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.True(t, ok)

		revoked, err := env.grants.RevokeRolePermission(ctx, "Moderator", "delete_comment")
		require.NoError(t, err)
		assert.True(t, revoked)
		ok, err = env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.False(t, ok)

		has, err := env.authz.RoleHasPermission(ctx, role.ID, "delete_comment")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("Unknown user and permission", func(t *testing.T) {
		env := moderatorFixture(t)
		ok, err := env.authz.Authorize(ctx, 999, "delete_comment")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = env.authz.Authorize(ctx, moderatorUser, "no.such.permission")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Revoke wins over role", func(t *testing.T) {
		env := moderatorFixture(t)
		require.NoError(t, env.grants.RevokeUserPermission(ctx, moderatorUser, "delete_comment", services.GrantOptions{Reason: "abuse"}))

		ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.False(t, ok)

		removed, err := env.grants.RemoveUserOverride(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.True(t, removed)
		ok, err = env.authz.Authorize(ctx, moderatorUser, "delete_comment")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestHasAnyHasAll(t *testing.T) {
	ctx := context.Background()
	env := moderatorFixture(t)

	t.Run("Empty lists", func(t *testing.T) {
		all, err := env.authz.HasAllPermissions(ctx, moderatorUser, nil)
		require.NoError(t, err)
		assert.True(t, all)

		anyOK, err := env.authz.HasAnyPermission(ctx, moderatorUser, []string{})
		require.NoError(t, err)
		assert.False(t, anyOK)
	})

	t.Run("Mixed", func(t *testing.T) {
		names := []string{"ban_user", "delete_comment"}
		anyOK, err := env.authz.HasAnyPermission(ctx, moderatorUser, names)
		require.NoError(t, err)
		assert.True(t, anyOK)

		all, err := env.authz.HasAllPermissions(ctx, moderatorUser, names)
		require.NoError(t, err)
		assert.False(t, all)
	})
}

// TestResolutionViewsAgree checks on random data that the effective set and the reverse
// index are exactly what Authorize answers pair by pair.
func TestResolutionViewsAgree(t *testing.T) {
	ctx := context.Background()
	env := setupServices(t)
	rng := rand.New(rand.NewSource(7))

	permNames := []string{"a.view", "a.edit", "b.view", "b.ban", "c.post"}
	for _, name := range permNames {
		env.permission(t, name)
	}
	var roleIDs []uint
	var roleNames []string
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("Role%d", i)
		roleIDs = append(roleIDs, env.role(t, name, i*10).ID)
		roleNames = append(roleNames, name)
	}
	for _, roleID := range roleIDs {
		var inputs []services.RoleGrantInput
		for _, p := range permNames {
			if rng.Intn(3) == 0 {
				inputs = append(inputs, services.RoleGrantInput{Permission: p, IsGranted: rng.Intn(2) == 0, IsEffective: rng.Intn(3) > 0})
			}
		}
		_, err := env.grants.BulkAddRoleGrants(ctx, roleID, inputs)
		require.NoError(t, err)
	}

	users := []uint{1, 2, 3, 4, 5, 6, 7, 8}
	for _, u := range users {
		var held []string
		for _, name := range roleNames {
			if rng.Intn(3) == 0 {
				held = append(held, name)
			}
		}
		_, err := env.roles.AddUserToRoles(ctx, u, held)
		require.NoError(t, err)

		var overrides []services.OverrideInput
		for _, p := range permNames {
			if rng.Intn(3) == 0 {
				overrides = append(overrides, services.OverrideInput{
					Permission:  p,
					IsGranted:   rng.Intn(2) == 0,
					IsOverride:  rng.Intn(2) == 0,
					IsEffective: rng.Intn(3) > 0,
				})
			}
		}
		_, err = env.grants.BulkAddUserOverrides(ctx, u, overrides)
		require.NoError(t, err)
	}

	effective := make(map[uint][]string, len(users))
	for _, u := range users {
		names, err := env.authz.GetEffectivePermissions(ctx, u)
		require.NoError(t, err)
		assert.True(t, slices.IsSorted(names))
		effective[u] = names
	}
	for _, p := range permNames {
		holders, err := env.authz.GetUsersWithPermission(ctx, p)
		require.NoError(t, err)
		for _, u := range users {
			ok, err := env.authz.Authorize(ctx, u, p)
			require.NoError(t, err)
			assert.Equal(t, ok, slices.Contains(effective[u], p), "effective set for user %d, %s", u, p)
			assert.Equal(t, ok, slices.Contains(holders, u), "reverse index for user %d, %s", u, p)
		}
	}
}

func TestAuthorizeConcurrent(t *testing.T) {
	ctx := context.Background()
	env := moderatorFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
				if err != nil {
					errs <- err
					return
				}
				if !ok {
					errs <- fmt.Errorf("worker %d: unexpected deny", i)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestAuthorizeStoreFailure(t *testing.T) {
	ctx := context.Background()
	env := moderatorFixture(t)
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	ok, err := env.authz.Authorize(ctx, moderatorUser, "delete_comment")
	assert.False(t, ok)
	assert.ErrorIs(t, err, repositories.ErrStoreFailure)

	_, err = env.authz.GetEffectivePermissions(ctx, moderatorUser)
	assert.ErrorIs(t, err, repositories.ErrStoreFailure)
}

func TestGetRolesWithPermission(t *testing.T) {
	ctx := context.Background()
	env := moderatorFixture(t)
	other := env.role(t, "Janitor", 5)
	require.NoError(t, env.grants.GrantRolePermission(ctx, "Janitor", "delete_comment", services.GrantOptions{}))

	roles, err := env.authz.GetRolesWithPermission(ctx, "delete_comment")
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Contains(t, roles, other.ID)
}

func TestAuthorizeMatchesNamesExactly(t *testing.T) {
	ctx := context.Background()
	env := moderatorFixture(t)

	ok, err := env.authz.Authorize(ctx, moderatorUser, "DELETE_COMMENT")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.authz.HasAnyPermission(ctx, moderatorUser, []string{"Delete_Comment", "delete_comment"})
	require.NoError(t, err)
	assert.True(t, ok)
}
