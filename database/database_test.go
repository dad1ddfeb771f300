package database

import (
	"context"
	"testing"

	"permission-center/config"
	"permission-center/models"
	"permission-center/repositories"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	db, err := OpenInMemory(logger)
	require.NoError(t, err)

	admin := config.AdminConfig{Username: "root", Password: "s3cret"}
	require.NoError(t, Seed(ctx, db, admin, logger))

	var permissions, roles, grants, users int64
	db.Model(&models.Permission{}).Count(&permissions)
	db.Model(&models.Role{}).Count(&roles)
	db.Model(&models.RolePermission{}).Count(&grants)
	db.Model(&models.User{}).Count(&users)
	assert.Greater(t, permissions, int64(50))
	assert.Equal(t, int64(10), roles)
	assert.Greater(t, grants, permissions)
	assert.Equal(t, int64(1), users)

	require.NoError(t, Seed(ctx, db, admin, logger))

	var permissionsAgain, rolesAgain, grantsAgain, usersAgain int64
	db.Model(&models.Permission{}).Count(&permissionsAgain)
	db.Model(&models.Role{}).Count(&rolesAgain)
	db.Model(&models.RolePermission{}).Count(&grantsAgain)
	db.Model(&models.User{}).Count(&usersAgain)
	assert.Equal(t, permissions, permissionsAgain)
	assert.Equal(t, roles, rolesAgain)
	assert.Equal(t, grants, grantsAgain)
	assert.Equal(t, users, usersAgain)
}

func TestSeedCreatesSuperAdmin(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	db, err := OpenInMemory(logger)
	require.NoError(t, err)
	require.NoError(t, Seed(ctx, db, config.AdminConfig{Username: "root", Password: "s3cret"}, logger))

	user, err := repositories.NewUserRepository(db).FindByUsername(ctx, "root")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("s3cret")))

	roleRepo := repositories.NewRoleRepository(db)
	top, err := roleRepo.GetHighestPriorityUserRole(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "SuperAdmin", top.Name)
	assert.True(t, top.IsSystemRole)
	assert.Equal(t, 1000, top.Priority)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMigrationSessionTableOptions(t *testing.T) {
	t.Run("mysql gets a binary collation", func(t *testing.T) {
		conn, _, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		db, err := gorm.Open(mysql.New(mysql.Config{Conn: conn, SkipInitializeWithVersion: true}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		require.NoError(t, err)

		options, ok := migrationSession(db).Get("gorm:table_options")
		require.True(t, ok)
		assert.Equal(t, mysqlTableOptions, options)
	})

	t.Run("sqlite is left alone", func(t *testing.T) {
		db, err := OpenInMemory(zap.NewNop())
		require.NoError(t, err)
		_, ok := migrationSession(db).Get("gorm:table_options")
		assert.False(t, ok)
	})
}

func TestNamesAreCaseSensitive(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory(zap.NewNop())
	require.NoError(t, err)
	repo := repositories.NewPermissionRepository(db)

	require.NoError(t, repo.Create(ctx, &models.Permission{Name: "users.view", Category: "Users", IsActive: true}))
	require.NoError(t, repo.Create(ctx, &models.Permission{Name: "Users.View", Category: "Users", IsActive: true}))

	p, err := repo.FindByName(ctx, "Users.View")
	require.NoError(t, err)
	assert.Equal(t, "Users.View", p.Name)

	_, err = repo.FindByName(ctx, "USERS.VIEW")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}
