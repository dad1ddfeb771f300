package repositories

import (
	"context"
	"testing"

	"permission-center/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Duplicate name", func(t *testing.T) {
		repo := NewPermissionRepository(setupTestDB(t))
		mustPermission(t, repo, "content.view", "Content")

		err := repo.Create(ctx, &models.Permission{Name: "content.view", Category: "Content"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("Names are case-sensitive lookups", func(t *testing.T) {
		repo := NewPermissionRepository(setupTestDB(t))
		mustPermission(t, repo, "content.view", "Content")

		_, err := repo.FindByName(ctx, "Content.View")
		assert.ErrorIs(t, err, ErrNotFound)
		exists, err := repo.ExistsByName(ctx, "content.view")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Update writes zero values", func(t *testing.T) {
		repo := NewPermissionRepository(setupTestDB(t))
		p := mustPermission(t, repo, "content.view", "Content")
		p.IsActive = false
		p.Description = ""
		require.NoError(t, repo.Update(ctx, p))

		got, err := repo.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("Update missing", func(t *testing.T) {
		repo := NewPermissionRepository(setupTestDB(t))
		err := repo.Update(ctx, &models.Permission{ID: 404, Category: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete removes grants", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPermissionRepository(db)
		roles := NewRoleRepository(db)
		grants := NewGrantRepository(db)
		p := mustPermission(t, repo, "content.view", "Content")
		r := mustRole(t, roles, "Author", 400)
		require.NoError(t, grants.UpsertRoleGrant(ctx, &models.RolePermission{RoleID: r.ID, PermissionID: p.ID, IsGranted: true, IsEffective: true}))
		require.NoError(t, grants.UpsertUserOverride(ctx, &models.UserPermission{UserID: 1, PermissionID: p.ID, IsGranted: true, IsEffective: true}))

		deleted, err := repo.Delete(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		n, err := grants.CountRoleGrants(ctx, r.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = grants.CountUserOverrides(ctx, 1)
		require.NoError(t, err)
		assert.Zero(t, n)

		deleted, err = repo.Delete(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("Filters and counts", func(t *testing.T) {
		repo := NewPermissionRepository(setupTestDB(t))
		mustPermission(t, repo, "content.view", "Content")
		mustPermission(t, repo, "content.edit", "Content")
		media := mustPermission(t, repo, "media.view", "Media")
		_, err := repo.SetActive(ctx, media.ID, false)
		require.NoError(t, err)

		active, err := repo.List(ctx, PermissionFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, active, 2)

		content, err := repo.List(ctx, PermissionFilter{Category: "Content"})
		require.NoError(t, err)
		assert.Equal(t, "content.edit", content[0].Name)

		counts, err := repo.CountByCategory(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"Content": 2, "Media": 1}, counts)

		found, err := repo.FindByNames(ctx, []string{"media.view", "nope", "content.view"})
		require.NoError(t, err)
		assert.Len(t, found, 2)

		none, err := repo.FindByNames(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
