package services

import (
	"context"
	"errors"
	"sort"

	"permission-center/models"
	"permission-center/repositories"

	"go.uber.org/zap"
)

// PermissionService manages the permission catalog.
type PermissionService interface {
	CreatePermission(ctx context.Context, input *CreatePermissionInput) (*models.Permission, error)
	UpdatePermission(ctx context.Context, id uint, input *UpdatePermissionInput) (*models.Permission, error)
	DeletePermission(ctx context.Context, id uint) (bool, error)
	ActivatePermission(ctx context.Context, id uint) (bool, error)
	DeactivatePermission(ctx context.Context, id uint) (bool, error)
	GetPermission(ctx context.Context, id uint) (*models.Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*models.Permission, error)
	PermissionExists(ctx context.Context, name string) (bool, error)
	ListPermissions(ctx context.Context, filter repositories.PermissionFilter) ([]models.Permission, error)
	CountPermissions(ctx context.Context) (int64, error)
	CountByCategory(ctx context.Context) (map[string]int64, error)
	Categories(ctx context.Context) (map[string][]string, error)
	InitializeSystemPermissions(ctx context.Context) (int, error)
}

// --- Structs for Input ---
type CreatePermissionInput struct {
	Name        string `json:"name" validate:"required,max=128,nowhitespace"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=255"`
	Category    string `json:"category" validate:"required,max=64"`
	IsSystem    bool   `json:"is_system"`
}

type UpdatePermissionInput struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=128"`
	Description *string `json:"description" validate:"omitempty,max=255"`
	Category    *string `json:"category" validate:"omitempty,min=1,max=64"`
	IsActive    *bool   `json:"is_active"`
}

type permissionService struct {
	repo   repositories.PermissionRepository
	logger *zap.Logger
}

var _ PermissionService = (*permissionService)(nil)

// NewPermissionService creates a new PermissionService instance
func NewPermissionService(repo repositories.PermissionRepository, logger *zap.Logger) PermissionService {
	return &permissionService{repo: repo, logger: logger.Named("permissions")}
}

// CreatePermission adds a catalog entry; a taken name yields repositories.ErrAlreadyExists.
func (s *permissionService) CreatePermission(ctx context.Context, input *CreatePermissionInput) (*models.Permission, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByName(ctx, input.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, repositories.ErrAlreadyExists
	}

	permission := &models.Permission{
		Name:               input.Name,
		DisplayName:        input.DisplayName,
		Description:        input.Description,
		Category:           input.Category,
		IsSystemPermission: input.IsSystem,
		IsActive:           true,
	}
	if permission.DisplayName == "" {
		permission.DisplayName = displayName(input.Name)
	}
	if err := s.repo.Create(ctx, permission); err != nil {
		return nil, err
	}

	s.logger.Info("permission created", zap.String("permission", permission.Name), zap.String("category", permission.Category))
	return permission, nil
}

func (s *permissionService) UpdatePermission(ctx context.Context, id uint, input *UpdatePermissionInput) (*models.Permission, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	permission, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.DisplayName != nil {
		permission.DisplayName = *input.DisplayName
	}
	if input.Description != nil {
		permission.Description = *input.Description
	}
	if input.Category != nil {
		permission.Category = *input.Category
	}
	if input.IsActive != nil {
		permission.IsActive = *input.IsActive
	}

	if err := s.repo.Update(ctx, permission); err != nil {
		return nil, err
	}
	s.logger.Info("permission updated", zap.String("permission", permission.Name))
	return permission, nil
}

// DeletePermission removes the permission and every grant of it; false when it did not exist.
func (s *permissionService) DeletePermission(ctx context.Context, id uint) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("permission deleted", zap.Uint("permission_id", id))
	}
	return deleted, nil
}

func (s *permissionService) ActivatePermission(ctx context.Context, id uint) (bool, error) {
	return s.repo.SetActive(ctx, id, true)
}

func (s *permissionService) DeactivatePermission(ctx context.Context, id uint) (bool, error) {
	return s.repo.SetActive(ctx, id, false)
}

func (s *permissionService) GetPermission(ctx context.Context, id uint) (*models.Permission, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *permissionService) GetPermissionByName(ctx context.Context, name string) (*models.Permission, error) {
	return s.repo.FindByName(ctx, name)
}

func (s *permissionService) PermissionExists(ctx context.Context, name string) (bool, error) {
	return s.repo.ExistsByName(ctx, name)
}

func (s *permissionService) ListPermissions(ctx context.Context, filter repositories.PermissionFilter) ([]models.Permission, error) {
	return s.repo.List(ctx, filter)
}

func (s *permissionService) CountPermissions(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

func (s *permissionService) CountByCategory(ctx context.Context) (map[string]int64, error) {
	return s.repo.CountByCategory(ctx)
}

// Categories groups catalog names by category, names sorted.
func (s *permissionService) Categories(ctx context.Context) (map[string][]string, error) {
	permissions, err := s.repo.List(ctx, repositories.PermissionFilter{})
	if err != nil {
		return nil, err
	}
	categories := make(map[string][]string)
	for _, p := range permissions {
		categories[p.Category] = append(categories[p.Category], p.Name)
	}
	for _, names := range categories {
		sort.Strings(names)
	}
	return categories, nil
}

// InitializeSystemPermissions creates the built-in catalog entries that are missing and
// returns how many were created. Existing entries are left untouched.
func (s *permissionService) InitializeSystemPermissions(ctx context.Context) (int, error) {
	created := 0
	for _, category := range systemPermissions {
		for _, name := range category.Permissions {
			exists, err := s.repo.ExistsByName(ctx, name)
			if err != nil {
				return created, err
			}
			if exists {
				continue
			}
			err = s.repo.Create(ctx, &models.Permission{
				Name:               name,
				DisplayName:        displayName(name),
				Category:           category.Name,
				IsSystemPermission: true,
				IsActive:           true,
			})
			if errors.Is(err, repositories.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				s.logger.Error("failed to seed system permission", zap.String("permission", name), zap.Error(err))
				return created, err
			}
			created++
		}
	}
	if created > 0 {
		s.logger.Info("system permissions initialized", zap.Int("created", created))
	}
	return created, nil
}
