package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"permission-center/config"
	"permission-center/models"
	"permission-center/repositories"
	"permission-center/services"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database. SQL logging goes through logger.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(logger, cfg.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" && isMemoryDSN(cfg.DSN) {
		// Each connection to an in-memory database would get its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// NewGormLogger routes gorm's SQL log into zap at the given level (silent, error, warn, info).
func NewGormLogger(logger *zap.Logger, level string) gormlogger.Interface {
	return gormlogger.New(
		zap.NewStdLog(logger.Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  parseGormLevel(level),
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
}

func parseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// mysqlTableOptions gives new tables a binary collation so names compare and index
// case-sensitively, as they do on sqlite and postgres.
const mysqlTableOptions = "CHARSET=utf8mb4 COLLATE=utf8mb4_bin"

func migrationSession(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "mysql" {
		return db.Set("gorm:table_options", mysqlTableOptions)
	}
	return db
}

// Migrate creates or updates every table the service owns. Existing mysql tables keep
// their collation; convert them with ALTER TABLE ... CONVERT TO before relying on it.
func Migrate(db *gorm.DB) error {
	err := migrationSession(db).AutoMigrate(
		&models.User{},
		&models.Permission{},
		&models.Role{},
		&models.UserRole{},
		&models.RolePermission{},
		&models.UserPermission{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Seed installs the built-in permission catalog and roles, then creates the initial admin
// account holding SuperAdmin if it does not exist yet. It is safe to run on every start.
func Seed(ctx context.Context, db *gorm.DB, admin config.AdminConfig, logger *zap.Logger) error {
	permissionRepo := repositories.NewPermissionRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	grantRepo := repositories.NewGrantRepository(db)
	userRepo := repositories.NewUserRepository(db)

	permissionService := services.NewPermissionService(permissionRepo, logger)
	roleService := services.NewRoleService(roleRepo, permissionRepo, grantRepo, logger)

	if _, err := permissionService.InitializeSystemPermissions(ctx); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	if _, err := roleService.InitializeSystemRoles(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	if admin.Username == "" {
		return nil
	}
	_, err := userRepo.FindByUsername(ctx, admin.Username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	adminUser := &models.User{
		Username: admin.Username,
		Password: string(hashedPassword),
		Nickname: "Administrator",
	}
	if err := userRepo.Create(ctx, adminUser); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	if err := roleService.AddUserToRole(ctx, adminUser.ID, services.RoleSuperAdmin); err != nil {
		return fmt.Errorf("assign admin role: %w", err)
	}
	logger.Info("created initial admin user", zap.String("username", admin.Username), zap.Uint("user_id", adminUser.ID))
	return nil
}

// OpenInMemory opens and migrates a private in-memory sqlite database.
func OpenInMemory(logger *zap.Logger) (*gorm.DB, error) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
