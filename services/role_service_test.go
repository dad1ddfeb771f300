package services_test

import (
	"context"
	"errors"
	"testing"

	"permission-center/config"
	"permission-center/database"
	"permission-center/repositories"
	"permission-center/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errAddFailed = errors.New("membership insert failed")

// flakyRoleRepository fails AddUserToRoles while failAdds is set.
type flakyRoleRepository struct {
	repositories.RoleRepository
	failAdds bool
}

func (r *flakyRoleRepository) AddUserToRoles(ctx context.Context, userID uint, roleIDs []uint) error {
	if r.failAdds {
		return errAddFailed
	}
	return r.RoleRepository.AddUserToRoles(ctx, userID, roleIDs)
}

func TestSyncUserRoles(t *testing.T) {
	ctx := context.Background()
	const user uint = 7

	t.Run("Replaces memberships", func(t *testing.T) {
		env := setupServices(t)
		env.role(t, "Member", 10)
		env.role(t, "Moderator", 50)
		env.role(t, "Admin", 900)
		_, err := env.roles.AddUserToRoles(ctx, user, []string{"Member", "Moderator"})
		require.NoError(t, err)

		result, err := env.roles.SyncUserRoles(ctx, user, []string{"Admin"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Admin"}, result.Added)
		assert.Equal(t, []string{"Member", "Moderator"}, result.Removed)

		roles, err := env.roles.GetUserRoles(ctx, user)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, "Admin", roles[0].Name)
	})

	t.Run("Second sync is a no-op", func(t *testing.T) {
		env := setupServices(t)
		env.role(t, "Member", 10)
		env.role(t, "Moderator", 50)

		_, err := env.roles.SyncUserRoles(ctx, user, []string{"Member", "Moderator", "Ghost"})
		require.NoError(t, err)
		result, err := env.roles.SyncUserRoles(ctx, user, []string{"Moderator", "Member", "Ghost"})
		require.NoError(t, err)
		assert.True(t, result.Unchanged())
		assert.Equal(t, []string{"Ghost"}, result.Skipped)
	})

	t.Run("Failed add keeps removals and re-run completes", func(t *testing.T) {
		env := setupServices(t)
		env.role(t, "Member", 10)
		env.role(t, "Moderator", 50)
		env.role(t, "Admin", 900)
		_, err := env.roles.AddUserToRoles(ctx, user, []string{"Member", "Moderator"})
		require.NoError(t, err)

		roleRepo := &flakyRoleRepository{RoleRepository: repositories.NewRoleRepository(env.db), failAdds: true}
		roles := services.NewRoleService(roleRepo, repositories.NewPermissionRepository(env.db), repositories.NewGrantRepository(env.db), zap.NewNop())

		result, err := roles.SyncUserRoles(ctx, user, []string{"Admin"})
		assert.ErrorIs(t, err, errAddFailed)
		assert.Nil(t, result)
		held, err := roles.GetUserRoles(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, held)

		roleRepo.failAdds = false
		result, err = roles.SyncUserRoles(ctx, user, []string{"Admin"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Admin"}, result.Added)
		assert.Empty(t, result.Removed)
		held, err = roles.GetUserRoles(ctx, user)
		require.NoError(t, err)
		require.Len(t, held, 1)
		assert.Equal(t, "Admin", held[0].Name)
	})

	t.Run("Empty desired set clears", func(t *testing.T) {
		env := setupServices(t)
		env.role(t, "Member", 10)
		require.NoError(t, env.roles.AddUserToRole(ctx, user, "Member"))

		result, err := env.roles.SyncUserRoles(ctx, user, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Member"}, result.Removed)

		top, err := env.roles.GetHighestPriorityUserRole(ctx, user)
		require.NoError(t, err)
		assert.Nil(t, top)
	})
}

func TestRoleMembership(t *testing.T) {
	ctx := context.Background()

	t.Run("Bulk add reports unknown names", func(t *testing.T) {
		env := setupServices(t)
		env.role(t, "Member", 10)

		result, err := env.roles.AddUserToRoles(ctx, 3, []string{"Member", "Nope", "Member"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Member"}, result.Applied)
		assert.Equal(t, []string{"Nope"}, result.Skipped)

		count, err := env.roles.UserCountInRole(ctx, "Member")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Single add of unknown role", func(t *testing.T) {
		env := setupServices(t)
		err := env.roles.AddUserToRole(ctx, 3, "Nope")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("Remove unknown", func(t *testing.T) {
		env := setupServices(t)
		removed, err := env.roles.RemoveUserFromRole(ctx, 3, "Nope")
		require.NoError(t, err)
		assert.False(t, removed)

		users, err := env.roles.GetUsersInRole(ctx, "Nope")
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("Highest priority", func(t *testing.T) {
		env := setupServices(t)
		env.role(t, "Member", 10)
		env.role(t, "Moderator", 50)
		_, err := env.roles.AddUserToRoles(ctx, 3, []string{"Member", "Moderator"})
		require.NoError(t, err)

		top, err := env.roles.GetHighestPriorityUserRole(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "Moderator", top.Name)

		in, err := env.roles.IsUserInRole(ctx, 3, "Member")
		require.NoError(t, err)
		assert.True(t, in)
	})
}

func TestRoleCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("Create validates", func(t *testing.T) {
		env := setupServices(t)
		_, err := env.roles.CreateRole(ctx, &services.CreateRoleInput{Name: "has space", Category: "Community"})
		assert.ErrorIs(t, err, services.ErrInvalidInput)

		_, err = env.roles.CreateRole(ctx, &services.CreateRoleInput{Name: "Member", Category: "Community", Priority: -1})
		assert.ErrorIs(t, err, services.ErrInvalidInput)

		env.role(t, "Member", 10)
		_, err = env.roles.CreateRole(ctx, &services.CreateRoleInput{Name: "Member", Category: "Community"})
		assert.ErrorIs(t, err, repositories.ErrAlreadyExists)
	})

	t.Run("Delete custom role cascades", func(t *testing.T) {
		env := setupServices(t)
		env.permission(t, "content.view")
		role := env.role(t, "Member", 10)
		require.NoError(t, env.grants.GrantRolePermission(ctx, "Member", "content.view", services.GrantOptions{}))
		require.NoError(t, env.roles.AddUserToRole(ctx, 1, "Member"))

		deleted, err := env.roles.DeleteRole(ctx, role.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		ok, err := env.authz.Authorize(ctx, 1, "content.view")
		require.NoError(t, err)
		assert.False(t, ok)

		deleted, err = env.roles.DeleteRole(ctx, role.ID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("System roles cannot be deleted", func(t *testing.T) {
		db, err := database.OpenInMemory(zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, database.Seed(ctx, db, config.AdminConfig{}, zap.NewNop()))

		roleRepo := repositories.NewRoleRepository(db)
		roles := services.NewRoleService(roleRepo, repositories.NewPermissionRepository(db), repositories.NewGrantRepository(db), zap.NewNop())
		admin, err := roles.GetRoleByName(ctx, services.RoleSuperAdmin)
		require.NoError(t, err)

		_, err = roles.DeleteRole(ctx, admin.ID)
		assert.ErrorIs(t, err, services.ErrSystemRole)

		system, err := roles.ListSystemRoles(ctx)
		require.NoError(t, err)
		assert.Len(t, system, 10)

		hierarchy, err := roles.GetRoleHierarchy(ctx)
		require.NoError(t, err)
		assert.Equal(t, services.RoleSuperAdmin, hierarchy[0].Name)
		assert.Equal(t, services.RoleUser, hierarchy[len(hierarchy)-1].Name)
	})

	t.Run("Priority update", func(t *testing.T) {
		env := setupServices(t)
		role := env.role(t, "Member", 10)

		_, err := env.roles.UpdateRolePriority(ctx, role.ID, -5)
		assert.ErrorIs(t, err, services.ErrInvalidInput)

		updated, err := env.roles.UpdateRolePriority(ctx, role.ID, 60)
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = env.roles.UpdateRolePriority(ctx, 999, 60)
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("Statistics", func(t *testing.T) {
		env := setupServices(t)
		env.permission(t, "content.view")
		env.permission(t, "content.edit")
		env.role(t, "Editor", 30)
		require.NoError(t, env.grants.GrantRolePermission(ctx, "Editor", "content.view", services.GrantOptions{}))
		require.NoError(t, env.grants.GrantRolePermission(ctx, "Editor", "content.edit", services.GrantOptions{}))
		_, err := env.grants.RevokeRolePermission(ctx, "Editor", "content.edit")
		require.NoError(t, err)
		require.NoError(t, env.roles.AddUserToRole(ctx, 4, "Editor"))

		stats, err := env.roles.GetRoleStatistics(ctx, "Editor")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalUsers)
		assert.Equal(t, int64(1), stats.TotalPermissions)
		assert.Equal(t, map[string]int64{"Community": 1}, stats.PermissionsByCategory)
	})
}
