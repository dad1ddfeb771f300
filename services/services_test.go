package services_test

import (
	"context"
	"testing"

	"permission-center/database"
	"permission-center/metrics"
	"permission-center/models"
	"permission-center/repositories"
	"permission-center/services"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db          *gorm.DB
	permissions services.PermissionService
	roles       services.RoleService
	grants      services.GrantService
	authz       services.AuthorizationService
}

func setupServices(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.OpenInMemory(logger)
	require.NoError(t, err)

	permissionRepo := repositories.NewPermissionRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	grantRepo := repositories.NewGrantRepository(db)

	return &testEnv{
		db:          db,
		permissions: services.NewPermissionService(permissionRepo, logger),
		roles:       services.NewRoleService(roleRepo, permissionRepo, grantRepo, logger),
		grants:      services.NewGrantService(grantRepo, permissionRepo, roleRepo, logger),
		authz:       services.NewAuthorizationService(roleRepo, grantRepo, metrics.New(), logger),
	}
}

func (e *testEnv) permission(t *testing.T, name string) *models.Permission {
	t.Helper()
	p, err := e.permissions.CreatePermission(context.Background(), &services.CreatePermissionInput{Name: name, Category: "Community"})
	require.NoError(t, err)
	return p
}

func (e *testEnv) role(t *testing.T, name string, priority int) *models.Role {
	t.Helper()
	r, err := e.roles.CreateRole(context.Background(), &services.CreateRoleInput{Name: name, Category: "Community", Priority: priority})
	require.NoError(t, err)
	return r
}
