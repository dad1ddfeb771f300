package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"permission-center/models"
	"permission-center/repositories"

	"go.uber.org/zap"
)

// RoleService manages the role catalog and user membership.
type RoleService interface {
	CreateRole(ctx context.Context, input *CreateRoleInput) (*models.Role, error)
	UpdateRole(ctx context.Context, id uint, input *UpdateRoleInput) (*models.Role, error)
	DeleteRole(ctx context.Context, id uint) (bool, error)
	ActivateRole(ctx context.Context, id uint) (bool, error)
	DeactivateRole(ctx context.Context, id uint) (bool, error)
	UpdateRolePriority(ctx context.Context, id uint, priority int) (bool, error)
	GetRole(ctx context.Context, id uint) (*models.Role, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	RoleExists(ctx context.Context, name string) (bool, error)
	ListRoles(ctx context.Context, filter repositories.RoleFilter) ([]models.Role, error)
	ListSystemRoles(ctx context.Context) ([]models.Role, error)
	GetRoleHierarchy(ctx context.Context) ([]models.Role, error)
	CountByCategory(ctx context.Context) (map[string]int64, error)

	IsUserInRole(ctx context.Context, userID uint, roleName string) (bool, error)
	AddUserToRole(ctx context.Context, userID uint, roleName string) error
	AddUserToRoles(ctx context.Context, userID uint, roleNames []string) (*BulkResult, error)
	RemoveUserFromRole(ctx context.Context, userID uint, roleName string) (bool, error)
	RemoveUserFromRoles(ctx context.Context, userID uint, roleNames []string) (*BulkResult, error)
	GetUserRoles(ctx context.Context, userID uint) ([]models.Role, error)
	GetUsersInRole(ctx context.Context, roleName string) ([]uint, error)
	GetHighestPriorityUserRole(ctx context.Context, userID uint) (*models.Role, error)
	SyncUserRoles(ctx context.Context, userID uint, desired []string) (*SyncResult, error)

	UserCountInRole(ctx context.Context, roleName string) (int64, error)
	UserCountByRole(ctx context.Context) (map[string]int64, error)
	GetRoleStatistics(ctx context.Context, roleName string) (*RoleStatistics, error)
	InitializeSystemRoles(ctx context.Context) (int, error)
}

// --- Structs for Input/Output ---
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,max=64,nowhitespace"`
	Description string `json:"description" validate:"max=255"`
	Category    string `json:"category" validate:"required,max=64"`
	Priority    int    `json:"priority" validate:"gte=0"`
}

type UpdateRoleInput struct {
	Description *string `json:"description" validate:"omitempty,max=255"`
	Category    *string `json:"category" validate:"omitempty,min=1,max=64"`
	Priority    *int    `json:"priority" validate:"omitempty,gte=0"`
	IsActive    *bool   `json:"is_active"`
}

type RoleStatistics struct {
	RoleID                uint             `json:"role_id"`
	RoleName              string           `json:"role_name"`
	TotalUsers            int64            `json:"total_users"`
	TotalPermissions      int64            `json:"total_permissions"`
	PermissionsByCategory map[string]int64 `json:"permissions_by_category"`
}

type roleService struct {
	roles       repositories.RoleRepository
	permissions repositories.PermissionRepository
	grants      repositories.GrantRepository
	logger      *zap.Logger
}

var _ RoleService = (*roleService)(nil)

// NewRoleService creates a new RoleService instance
func NewRoleService(roles repositories.RoleRepository, permissions repositories.PermissionRepository, grants repositories.GrantRepository, logger *zap.Logger) RoleService {
	return &roleService{
		roles:       roles,
		permissions: permissions,
		grants:      grants,
		logger:      logger.Named("roles"),
	}
}

func (s *roleService) CreateRole(ctx context.Context, input *CreateRoleInput) (*models.Role, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	exists, err := s.roles.ExistsByName(ctx, input.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, repositories.ErrAlreadyExists
	}

	role := &models.Role{
		Name:        input.Name,
		Description: input.Description,
		Category:    input.Category,
		Priority:    input.Priority,
		IsActive:    true,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	s.logger.Info("role created", zap.String("role", role.Name), zap.Int("priority", role.Priority))
	return role, nil
}

func (s *roleService) UpdateRole(ctx context.Context, id uint, input *UpdateRoleInput) (*models.Role, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Description != nil {
		role.Description = *input.Description
	}
	if input.Category != nil {
		role.Category = *input.Category
	}
	if input.Priority != nil {
		role.Priority = *input.Priority
	}
	if input.IsActive != nil {
		role.IsActive = *input.IsActive
	}
	if err := s.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	s.logger.Info("role updated", zap.String("role", role.Name))
	return role, nil
}

// DeleteRole refuses built-in roles with ErrSystemRole. Otherwise the role, its memberships
// and its grants go away together; false means there was no such role.
func (s *roleService) DeleteRole(ctx context.Context, id uint) (bool, error) {
	role, err := s.roles.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if role.IsSystemRole {
		return false, ErrSystemRole
	}

	deleted, err := s.roles.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("role deleted", zap.String("role", role.Name))
	}
	return deleted, nil
}

func (s *roleService) ActivateRole(ctx context.Context, id uint) (bool, error) {
	return s.roles.SetActive(ctx, id, true)
}

func (s *roleService) DeactivateRole(ctx context.Context, id uint) (bool, error) {
	return s.roles.SetActive(ctx, id, false)
}

func (s *roleService) UpdateRolePriority(ctx context.Context, id uint, priority int) (bool, error) {
	if priority < 0 {
		return false, fmt.Errorf("%w: priority must not be negative", ErrInvalidInput)
	}
	updated, err := s.roles.UpdatePriority(ctx, id, priority)
	if err != nil {
		return false, err
	}
	if updated {
		s.logger.Info("role priority updated", zap.Uint("role_id", id), zap.Int("priority", priority))
	}
	return updated, nil
}

func (s *roleService) GetRole(ctx context.Context, id uint) (*models.Role, error) {
	return s.roles.FindByID(ctx, id)
}

func (s *roleService) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	return s.roles.FindByName(ctx, name)
}

func (s *roleService) RoleExists(ctx context.Context, name string) (bool, error) {
	return s.roles.ExistsByName(ctx, name)
}

func (s *roleService) ListRoles(ctx context.Context, filter repositories.RoleFilter) ([]models.Role, error) {
	return s.roles.List(ctx, filter)
}

func (s *roleService) ListSystemRoles(ctx context.Context) ([]models.Role, error) {
	return s.roles.List(ctx, repositories.RoleFilter{SystemOnly: true})
}

// GetRoleHierarchy lists roles most senior first.
func (s *roleService) GetRoleHierarchy(ctx context.Context) ([]models.Role, error) {
	return s.roles.ListByPriority(ctx)
}

func (s *roleService) CountByCategory(ctx context.Context) (map[string]int64, error) {
	return s.roles.CountByCategory(ctx)
}

// --- Membership ---

func (s *roleService) IsUserInRole(ctx context.Context, userID uint, roleName string) (bool, error) {
	return s.roles.IsUserInRole(ctx, userID, roleName)
}

// AddUserToRole is a no-op when the user already holds the role.
func (s *roleService) AddUserToRole(ctx context.Context, userID uint, roleName string) error {
	role, err := s.roles.FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.roles.AddUserToRoles(ctx, userID, []uint{role.ID}); err != nil {
		return err
	}
	s.logger.Info("user added to role", zap.Uint("user_id", userID), zap.String("role", roleName))
	return nil
}

func (s *roleService) AddUserToRoles(ctx context.Context, userID uint, roleNames []string) (*BulkResult, error) {
	known, err := s.resolveRoles(ctx, roleNames)
	if err != nil {
		return nil, err
	}
	applied, skipped := splitResolved(roleNames, known)
	if err := s.roles.AddUserToRoles(ctx, userID, idsOf(applied, known)); err != nil {
		return nil, err
	}
	s.logger.Info("user added to roles", zap.Uint("user_id", userID), zap.Strings("roles", applied), zap.Strings("skipped", skipped))
	return &BulkResult{Applied: applied, Skipped: skipped}, nil
}

// RemoveUserFromRole reports false when the role is unknown or the user did not hold it.
func (s *roleService) RemoveUserFromRole(ctx context.Context, userID uint, roleName string) (bool, error) {
	role, err := s.roles.FindByName(ctx, roleName)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	removed, err := s.roles.RemoveUserFromRoles(ctx, userID, []uint{role.ID})
	if err != nil {
		return false, err
	}
	if removed > 0 {
		s.logger.Info("user removed from role", zap.Uint("user_id", userID), zap.String("role", roleName))
	}
	return removed > 0, nil
}

func (s *roleService) RemoveUserFromRoles(ctx context.Context, userID uint, roleNames []string) (*BulkResult, error) {
	known, err := s.resolveRoles(ctx, roleNames)
	if err != nil {
		return nil, err
	}
	applied, skipped := splitResolved(roleNames, known)
	if _, err := s.roles.RemoveUserFromRoles(ctx, userID, idsOf(applied, known)); err != nil {
		return nil, err
	}
	s.logger.Info("user removed from roles", zap.Uint("user_id", userID), zap.Strings("roles", applied), zap.Strings("skipped", skipped))
	return &BulkResult{Applied: applied, Skipped: skipped}, nil
}

func (s *roleService) GetUserRoles(ctx context.Context, userID uint) ([]models.Role, error) {
	return s.roles.GetUserRoles(ctx, userID)
}

// GetUsersInRole returns an empty list for an unknown role.
func (s *roleService) GetUsersInRole(ctx context.Context, roleName string) ([]uint, error) {
	role, err := s.roles.FindByName(ctx, roleName)
	if errors.Is(err, repositories.ErrNotFound) {
		return []uint{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.roles.GetUsersInRole(ctx, role.ID)
}

// GetHighestPriorityUserRole returns (nil, nil) for a user without roles. Among equal
// priorities the role with the lowest id wins.
func (s *roleService) GetHighestPriorityUserRole(ctx context.Context, userID uint) (*models.Role, error) {
	role, err := s.roles.GetHighestPriorityUserRole(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	return role, err
}

// SyncUserRoles makes the user's memberships equal the desired role names. Unknown names
// are skipped. Removals are applied before additions, each as one store call; if the
// additions fail the removals stay applied and the error is returned. Re-running with the
// same input completes the sync, and a second call on a synced user changes nothing.
func (s *roleService) SyncUserRoles(ctx context.Context, userID uint, desired []string) (*SyncResult, error) {
	current, err := s.roles.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	known, err := s.resolveRoles(ctx, desired)
	if err != nil {
		return nil, err
	}
	wanted, skipped := splitResolved(desired, known)

	wantedSet := make(map[string]struct{}, len(wanted))
	for _, name := range wanted {
		wantedSet[name] = struct{}{}
	}
	held := make(map[string]struct{}, len(current))
	result := &SyncResult{Added: []string{}, Removed: []string{}, Skipped: skipped}

	var removeIDs []uint
	for _, role := range current {
		held[role.Name] = struct{}{}
		if _, keep := wantedSet[role.Name]; !keep {
			removeIDs = append(removeIDs, role.ID)
			result.Removed = append(result.Removed, role.Name)
		}
	}
	var addIDs []uint
	for _, name := range wanted {
		if _, ok := held[name]; !ok {
			addIDs = append(addIDs, known[name])
			result.Added = append(result.Added, name)
		}
	}
	sort.Strings(result.Added)
	sort.Strings(result.Removed)

	if result.Unchanged() {
		return result, nil
	}
	if _, err := s.roles.RemoveUserFromRoles(ctx, userID, removeIDs); err != nil {
		s.logger.Error("role sync failed while removing", zap.Uint("user_id", userID), zap.Error(err))
		return nil, err
	}
	if err := s.roles.AddUserToRoles(ctx, userID, addIDs); err != nil {
		s.logger.Error("role sync failed while adding; removals already applied",
			zap.Uint("user_id", userID), zap.Strings("removed", result.Removed), zap.Error(err))
		return nil, err
	}

	s.logger.Info("user roles synced",
		zap.Uint("user_id", userID),
		zap.Strings("added", result.Added),
		zap.Strings("removed", result.Removed),
		zap.Strings("skipped", skipped))
	return result, nil
}

// --- Statistics ---

func (s *roleService) UserCountInRole(ctx context.Context, roleName string) (int64, error) {
	role, err := s.roles.FindByName(ctx, roleName)
	if errors.Is(err, repositories.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return s.roles.CountUsersInRole(ctx, role.ID)
}

func (s *roleService) UserCountByRole(ctx context.Context) (map[string]int64, error) {
	return s.roles.CountUsersByRole(ctx)
}

func (s *roleService) GetRoleStatistics(ctx context.Context, roleName string) (*RoleStatistics, error) {
	role, err := s.roles.FindByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	users, err := s.roles.CountUsersInRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	byCategory, err := s.grants.CountRoleGrantsByCategory(ctx, role.ID)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range byCategory {
		total += n
	}
	return &RoleStatistics{
		RoleID:                role.ID,
		RoleName:              role.Name,
		TotalUsers:            users,
		TotalPermissions:      total,
		PermissionsByCategory: byCategory,
	}, nil
}

// InitializeSystemRoles creates the missing built-in roles with their grants and returns how
// many roles were created. Existing roles, and their grants, are left untouched. Grants
// referring to permissions absent from the catalog are skipped.
func (s *roleService) InitializeSystemRoles(ctx context.Context) (int, error) {
	created := 0
	for _, def := range systemRoles {
		exists, err := s.roles.ExistsByName(ctx, def.Name)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		role := &models.Role{
			Name:         def.Name,
			Description:  def.Description,
			Category:     def.Category,
			Priority:     def.Priority,
			IsSystemRole: true,
			IsActive:     true,
		}
		if err := s.roles.Create(ctx, role); err != nil {
			s.logger.Error("failed to seed system role", zap.String("role", def.Name), zap.Error(err))
			return created, err
		}

		names := def.Permissions
		if names == nil {
			names = allSystemPermissionNames()
		}
		permissions, err := s.permissions.FindByNames(ctx, names)
		if err != nil {
			return created, err
		}
		grants := make([]models.RolePermission, 0, len(permissions))
		for _, p := range permissions {
			grants = append(grants, models.RolePermission{
				RoleID:       role.ID,
				PermissionID: p.ID,
				IsGranted:    true,
				IsEffective:  true,
				GrantedBy:    "System",
				Reason:       "System role initialization",
			})
		}
		if err := s.grants.BulkUpsertRoleGrants(ctx, grants); err != nil {
			return created, err
		}

		created++
		s.logger.Info("system role initialized", zap.String("role", def.Name), zap.Int("permissions", len(grants)))
	}
	return created, nil
}

func (s *roleService) resolveRoles(ctx context.Context, names []string) (map[string]uint, error) {
	roles, err := s.roles.FindByNames(ctx, names)
	if err != nil {
		return nil, err
	}
	known := make(map[string]uint, len(roles))
	for _, r := range roles {
		known[r.Name] = r.ID
	}
	return known, nil
}

func idsOf(names []string, known map[string]uint) []uint {
	ids := make([]uint, 0, len(names))
	for _, name := range names {
		ids = append(ids, known[name])
	}
	return ids
}
