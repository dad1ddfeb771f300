package repositories

import (
	"context"
	"testing"

	"permission-center/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleRepositoryMembership(t *testing.T) {
	ctx := context.Background()

	t.Run("Add is idempotent", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		author := mustRole(t, repo, "Author", 400)
		expert := mustRole(t, repo, "Expert", 200)

		require.NoError(t, repo.AddUserToRoles(ctx, 1, []uint{author.ID, expert.ID}))
		require.NoError(t, repo.AddUserToRoles(ctx, 1, []uint{author.ID}))

		ids, err := repo.GetUserRoleIDs(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []uint{author.ID, expert.ID}, ids)

		in, err := repo.IsUserInRole(ctx, 1, "Expert")
		require.NoError(t, err)
		assert.True(t, in)
		in, err = repo.IsUserInRole(ctx, 2, "Expert")
		require.NoError(t, err)
		assert.False(t, in)
	})

	t.Run("Remove reports rows", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		author := mustRole(t, repo, "Author", 400)
		require.NoError(t, repo.AddUserToRoles(ctx, 1, []uint{author.ID}))

		n, err := repo.RemoveUserFromRoles(ctx, 1, []uint{author.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = repo.RemoveUserFromRoles(ctx, 1, []uint{author.ID})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Highest priority with tie", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		first := mustRole(t, repo, "Moderator", 50)
		second := mustRole(t, repo, "Curator", 50)
		low := mustRole(t, repo, "Member", 10)
		require.NoError(t, repo.AddUserToRoles(ctx, 9, []uint{low.ID, second.ID, first.ID}))

		top, err := repo.GetHighestPriorityUserRole(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, first.ID, top.ID)

		_, err = repo.GetHighestPriorityUserRole(ctx, 10)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Users in roles are distinct", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		a := mustRole(t, repo, "A", 1)
		b := mustRole(t, repo, "B", 2)
		require.NoError(t, repo.AddUserToRoles(ctx, 3, []uint{a.ID, b.ID}))
		require.NoError(t, repo.AddUserToRoles(ctx, 1, []uint{b.ID}))

		users, err := repo.GetUsersInRoles(ctx, []uint{a.ID, b.ID})
		require.NoError(t, err)
		assert.Equal(t, []uint{1, 3}, users)

		users, err = repo.GetUsersInRoles(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("Counts include empty roles", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		a := mustRole(t, repo, "A", 1)
		mustRole(t, repo, "B", 2)
		require.NoError(t, repo.AddUserToRoles(ctx, 1, []uint{a.ID}))
		require.NoError(t, repo.AddUserToRoles(ctx, 2, []uint{a.ID}))

		counts, err := repo.CountUsersByRole(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"A": 2, "B": 0}, counts)
	})
}

func TestRoleRepositoryCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("Delete cascades", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewRoleRepository(db)
		grants := NewGrantRepository(db)
		perm := mustPermission(t, NewPermissionRepository(db), "content.view", "Content")
		role := mustRole(t, repo, "Author", 400)
		require.NoError(t, repo.AddUserToRoles(ctx, 1, []uint{role.ID}))
		require.NoError(t, grants.UpsertRoleGrant(ctx, &models.RolePermission{RoleID: role.ID, PermissionID: perm.ID, IsGranted: true, IsEffective: true}))

		deleted, err := repo.Delete(ctx, role.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		ids, err := repo.GetUserRoleIDs(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, ids)
		roleIDs, err := grants.RoleIDsWithEffectiveGrant(ctx, "content.view")
		require.NoError(t, err)
		assert.Empty(t, roleIDs)
	})

	t.Run("Priority order", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		user := mustRole(t, repo, "User", 100)
		admin := mustRole(t, repo, "Admin", 900)
		tie := mustRole(t, repo, "Twin", 100)

		updated, err := repo.UpdatePriority(ctx, tie.ID, 100)
		require.NoError(t, err)
		assert.True(t, updated)

		roles, err := repo.ListByPriority(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 3)
		assert.Equal(t, []uint{admin.ID, user.ID, tie.ID}, []uint{roles[0].ID, roles[1].ID, roles[2].ID})
	})

	t.Run("Duplicate name", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		mustRole(t, repo, "Author", 400)
		err := repo.Create(ctx, &models.Role{Name: "Author", Category: "Community"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("System filter", func(t *testing.T) {
		repo := NewRoleRepository(setupTestDB(t))
		mustRole(t, repo, "Custom", 1)
		require.NoError(t, repo.Create(ctx, &models.Role{Name: "SuperAdmin", Category: "Administration", Priority: 1000, IsSystemRole: true, IsActive: true}))

		roles, err := repo.List(ctx, RoleFilter{SystemOnly: true})
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, "SuperAdmin", roles[0].Name)
	})
}
