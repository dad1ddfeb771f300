package services

import (
	"context"
	"errors"
	"sort"

	"permission-center/models"
	"permission-center/repositories"

	"go.uber.org/zap"
)

// GrantService writes role grants and per-user override records.
type GrantService interface {
	GrantUserPermission(ctx context.Context, userID uint, permission string, opts GrantOptions) error
	RevokeUserPermission(ctx context.Context, userID uint, permission string, opts GrantOptions) error
	SetUserOverride(ctx context.Context, userID uint, input *OverrideInput) error
	RemoveUserOverride(ctx context.Context, userID uint, permission string) (bool, error)
	GetUserOverride(ctx context.Context, userID uint, permission string) (*models.UserPermission, error)
	ListUserOverrides(ctx context.Context, userID uint) ([]models.UserPermission, error)
	CountUserOverrides(ctx context.Context, userID uint) (int64, error)
	SyncUserPermissions(ctx context.Context, userID uint, permissions []string, opts GrantOptions) (*SyncResult, error)

	GrantRolePermission(ctx context.Context, roleName, permission string, opts GrantOptions) error
	RevokeRolePermission(ctx context.Context, roleName, permission string) (bool, error)
	GetRoleGrant(ctx context.Context, roleName, permission string) (*models.RolePermission, error)
	ListRoleGrants(ctx context.Context, roleID uint) ([]models.RolePermission, error)
	CountRoleGrants(ctx context.Context, roleID uint) (int64, error)
	SyncRolePermissions(ctx context.Context, roleName string, permissions []string, opts GrantOptions) (*SyncResult, error)

	BulkAddUserOverrides(ctx context.Context, userID uint, inputs []OverrideInput) (*BulkResult, error)
	BulkRemoveUserOverrides(ctx context.Context, userID uint, permissions []string) (*BulkResult, error)
	BulkAddRoleGrants(ctx context.Context, roleID uint, inputs []RoleGrantInput) (*BulkResult, error)
	BulkRemoveRoleGrants(ctx context.Context, roleID uint, permissions []string) (*BulkResult, error)
}

// --- Structs for Input ---

// GrantOptions carries audit fields. Override marks a user grant as authoritative.
type GrantOptions struct {
	Override  bool   `json:"override"`
	GrantedBy string `json:"granted_by" validate:"max=64"`
	Reason    string `json:"reason" validate:"max=255"`
}

// OverrideInput is a raw per-user record keyed by permission name.
type OverrideInput struct {
	Permission  string `json:"permission" validate:"required,max=128,nowhitespace"`
	IsGranted   bool   `json:"is_granted"`
	IsOverride  bool   `json:"is_override"`
	IsEffective bool   `json:"is_effective"`
	GrantedBy   string `json:"granted_by" validate:"max=64"`
	Reason      string `json:"reason" validate:"max=255"`
}

// RoleGrantInput is a raw role grant keyed by permission name.
type RoleGrantInput struct {
	Permission  string `json:"permission" validate:"required,max=128,nowhitespace"`
	IsGranted   bool   `json:"is_granted"`
	IsEffective bool   `json:"is_effective"`
	GrantedBy   string `json:"granted_by" validate:"max=64"`
	Reason      string `json:"reason" validate:"max=255"`
}

type grantService struct {
	grants      repositories.GrantRepository
	permissions repositories.PermissionRepository
	roles       repositories.RoleRepository
	logger      *zap.Logger
}

var _ GrantService = (*grantService)(nil)

// NewGrantService creates a new GrantService instance
func NewGrantService(grants repositories.GrantRepository, permissions repositories.PermissionRepository, roles repositories.RoleRepository, logger *zap.Logger) GrantService {
	return &grantService{
		grants:      grants,
		permissions: permissions,
		roles:       roles,
		logger:      logger.Named("grants"),
	}
}

// --- User overrides ---

// GrantUserPermission records a granted, effective user record. With opts.Override the record
// also wins over the user's roles.
func (s *grantService) GrantUserPermission(ctx context.Context, userID uint, permission string, opts GrantOptions) error {
	if err := validateStruct(&opts); err != nil {
		return err
	}
	p, err := s.permissions.FindByName(ctx, permission)
	if err != nil {
		return err
	}
	err = s.grants.UpsertUserOverride(ctx, &models.UserPermission{
		UserID:       userID,
		PermissionID: p.ID,
		IsGranted:    true,
		IsOverride:   opts.Override,
		IsEffective:  true,
		GrantedBy:    opts.GrantedBy,
		Reason:       opts.Reason,
	})
	if err != nil {
		return err
	}
	s.logger.Info("permission granted to user",
		zap.Uint("user_id", userID), zap.String("permission", permission), zap.Bool("override", opts.Override))
	return nil
}

// RevokeUserPermission records an authoritative deny, so the user loses the permission even
// when a role grants it.
func (s *grantService) RevokeUserPermission(ctx context.Context, userID uint, permission string, opts GrantOptions) error {
	if err := validateStruct(&opts); err != nil {
		return err
	}
	p, err := s.permissions.FindByName(ctx, permission)
	if err != nil {
		return err
	}
	err = s.grants.UpsertUserOverride(ctx, &models.UserPermission{
		UserID:       userID,
		PermissionID: p.ID,
		IsGranted:    false,
		IsOverride:   true,
		IsEffective:  true,
		GrantedBy:    opts.GrantedBy,
		Reason:       opts.Reason,
	})
	if err != nil {
		return err
	}
	s.logger.Info("permission revoked from user", zap.Uint("user_id", userID), zap.String("permission", permission))
	return nil
}

func (s *grantService) SetUserOverride(ctx context.Context, userID uint, input *OverrideInput) error {
	if err := validateStruct(input); err != nil {
		return err
	}
	p, err := s.permissions.FindByName(ctx, input.Permission)
	if err != nil {
		return err
	}
	if err := s.grants.UpsertUserOverride(ctx, overrideRecord(userID, p.ID, input)); err != nil {
		return err
	}
	s.logger.Info("user override set",
		zap.Uint("user_id", userID),
		zap.String("permission", input.Permission),
		zap.Bool("granted", input.IsGranted),
		zap.Bool("override", input.IsOverride),
		zap.Bool("effective", input.IsEffective))
	return nil
}

// RemoveUserOverride deletes the user's record; false when there was none.
func (s *grantService) RemoveUserOverride(ctx context.Context, userID uint, permission string) (bool, error) {
	p, err := s.permissions.FindByName(ctx, permission)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	removed, err := s.grants.RemoveUserOverride(ctx, userID, p.ID)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("user override removed", zap.Uint("user_id", userID), zap.String("permission", permission))
	}
	return removed, nil
}

func (s *grantService) GetUserOverride(ctx context.Context, userID uint, permission string) (*models.UserPermission, error) {
	return s.grants.GetUserOverrideByName(ctx, userID, permission)
}

func (s *grantService) ListUserOverrides(ctx context.Context, userID uint) ([]models.UserPermission, error) {
	return s.grants.ListUserOverrides(ctx, userID)
}

func (s *grantService) CountUserOverrides(ctx context.Context, userID uint) (int64, error) {
	return s.grants.CountUserOverrides(ctx, userID)
}

// SyncUserPermissions replaces the user's records with granted, effective ones for exactly the
// named permissions. Records for other permissions are deleted, including denies. A kept record
// is rewritten unless it already grants with the same override flag. Unknown names are skipped.
func (s *grantService) SyncUserPermissions(ctx context.Context, userID uint, permissions []string, opts GrantOptions) (*SyncResult, error) {
	if err := validateStruct(&opts); err != nil {
		return nil, err
	}
	known, err := s.resolvePermissions(ctx, permissions)
	if err != nil {
		return nil, err
	}
	wanted, skipped := splitResolved(permissions, known)
	existing, err := s.grants.ListUserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}

	wantedSet := make(map[string]struct{}, len(wanted))
	for _, name := range wanted {
		wantedSet[name] = struct{}{}
	}
	held := make(map[string]struct{}, len(existing))
	result := &SyncResult{Added: []string{}, Removed: []string{}, Skipped: skipped}

	var removeIDs []uint
	for _, up := range existing {
		if _, keep := wantedSet[up.Permission.Name]; !keep {
			removeIDs = append(removeIDs, up.PermissionID)
			result.Removed = append(result.Removed, up.Permission.Name)
			continue
		}
		if up.Resolves() && up.IsOverride == opts.Override {
			held[up.Permission.Name] = struct{}{}
		}
	}
	var adds []models.UserPermission
	for _, name := range wanted {
		if _, ok := held[name]; ok {
			continue
		}
		adds = append(adds, models.UserPermission{
			UserID:       userID,
			PermissionID: known[name],
			IsGranted:    true,
			IsOverride:   opts.Override,
			IsEffective:  true,
			GrantedBy:    opts.GrantedBy,
			Reason:       opts.Reason,
		})
		result.Added = append(result.Added, name)
	}
	sort.Strings(result.Added)
	sort.Strings(result.Removed)

	if result.Unchanged() {
		return result, nil
	}
	if _, err := s.grants.BulkRemoveUserOverrides(ctx, userID, removeIDs); err != nil {
		return nil, err
	}
	if err := s.grants.BulkUpsertUserOverrides(ctx, adds); err != nil {
		s.logger.Error("user permission sync failed while adding; removals already applied",
			zap.Uint("user_id", userID), zap.Strings("removed", result.Removed), zap.Error(err))
		return nil, err
	}

	s.logger.Info("user permissions synced",
		zap.Uint("user_id", userID),
		zap.Strings("added", result.Added),
		zap.Strings("removed", result.Removed),
		zap.Strings("skipped", skipped))
	return result, nil
}

// --- Role grants ---

func (s *grantService) GrantRolePermission(ctx context.Context, roleName, permission string, opts GrantOptions) error {
	if err := validateStruct(&opts); err != nil {
		return err
	}
	role, err := s.roles.FindByName(ctx, roleName)
	if err != nil {
		return err
	}
	p, err := s.permissions.FindByName(ctx, permission)
	if err != nil {
		return err
	}
	err = s.grants.UpsertRoleGrant(ctx, &models.RolePermission{
		RoleID:       role.ID,
		PermissionID: p.ID,
		IsGranted:    true,
		IsEffective:  true,
		GrantedBy:    opts.GrantedBy,
		Reason:       opts.Reason,
	})
	if err != nil {
		return err
	}
	s.logger.Info("permission granted to role", zap.String("role", roleName), zap.String("permission", permission))
	return nil
}

// RevokeRolePermission marks the role's grant as revoked and no longer effective. It reports
// false when the role holds no grant for the permission.
func (s *grantService) RevokeRolePermission(ctx context.Context, roleName, permission string) (bool, error) {
	grant, err := s.grants.GetRoleGrantByName(ctx, roleName, permission)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	updated, err := s.grants.UpdateRoleGrantFlags(ctx, grant.RoleID, grant.PermissionID, false, false)
	if err != nil {
		return false, err
	}
	if updated {
		s.logger.Info("permission revoked from role", zap.String("role", roleName), zap.String("permission", permission))
	}
	return updated, nil
}

func (s *grantService) GetRoleGrant(ctx context.Context, roleName, permission string) (*models.RolePermission, error) {
	return s.grants.GetRoleGrantByName(ctx, roleName, permission)
}

func (s *grantService) ListRoleGrants(ctx context.Context, roleID uint) ([]models.RolePermission, error) {
	return s.grants.ListRoleGrants(ctx, roleID)
}

func (s *grantService) CountRoleGrants(ctx context.Context, roleID uint) (int64, error) {
	return s.grants.CountRoleGrants(ctx, roleID)
}

// SyncRolePermissions reconciles the role's effective grants to exactly the named permissions.
// Grants for other permissions are deleted; missing or ineffective ones are (re)granted.
// Unknown names are skipped.
func (s *grantService) SyncRolePermissions(ctx context.Context, roleName string, permissions []string, opts GrantOptions) (*SyncResult, error) {
	if err := validateStruct(&opts); err != nil {
		return nil, err
	}
	role, err := s.roles.FindByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	known, err := s.resolvePermissions(ctx, permissions)
	if err != nil {
		return nil, err
	}
	wanted, skipped := splitResolved(permissions, known)
	existing, err := s.grants.ListRoleGrants(ctx, role.ID)
	if err != nil {
		return nil, err
	}

	wantedSet := make(map[string]struct{}, len(wanted))
	for _, name := range wanted {
		wantedSet[name] = struct{}{}
	}
	held := make(map[string]struct{}, len(existing))
	result := &SyncResult{Added: []string{}, Removed: []string{}, Skipped: skipped}

	var removeIDs []uint
	for _, g := range existing {
		if _, keep := wantedSet[g.Permission.Name]; !keep {
			removeIDs = append(removeIDs, g.PermissionID)
			result.Removed = append(result.Removed, g.Permission.Name)
			continue
		}
		if g.IsGranted && g.IsEffective {
			held[g.Permission.Name] = struct{}{}
		}
	}
	var adds []models.RolePermission
	for _, name := range wanted {
		if _, ok := held[name]; ok {
			continue
		}
		adds = append(adds, models.RolePermission{
			RoleID:       role.ID,
			PermissionID: known[name],
			IsGranted:    true,
			IsEffective:  true,
			GrantedBy:    opts.GrantedBy,
			Reason:       opts.Reason,
		})
		result.Added = append(result.Added, name)
	}
	sort.Strings(result.Added)
	sort.Strings(result.Removed)

	if result.Unchanged() {
		return result, nil
	}
	if _, err := s.grants.BulkRemoveRoleGrants(ctx, role.ID, removeIDs); err != nil {
		return nil, err
	}
	if err := s.grants.BulkUpsertRoleGrants(ctx, adds); err != nil {
		s.logger.Error("role permission sync failed while adding; removals already applied",
			zap.String("role", roleName), zap.Strings("removed", result.Removed), zap.Error(err))
		return nil, err
	}

	s.logger.Info("role permissions synced",
		zap.String("role", roleName),
		zap.Strings("added", result.Added),
		zap.Strings("removed", result.Removed),
		zap.Strings("skipped", skipped))
	return result, nil
}

// --- Bulk ---
//
// Each bulk call resolves names first, skips the unknown ones and writes the rest in one
// transaction.

func (s *grantService) BulkAddUserOverrides(ctx context.Context, userID uint, inputs []OverrideInput) (*BulkResult, error) {
	for i := range inputs {
		if err := validateStruct(&inputs[i]); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(inputs))
	for _, in := range inputs {
		names = append(names, in.Permission)
	}
	known, err := s.resolvePermissions(ctx, names)
	if err != nil {
		return nil, err
	}
	applied, skipped := splitResolved(names, known)

	// Later entries for the same permission win.
	byName := make(map[string]*OverrideInput, len(inputs))
	for i := range inputs {
		byName[inputs[i].Permission] = &inputs[i]
	}
	records := make([]models.UserPermission, 0, len(applied))
	for _, name := range applied {
		records = append(records, *overrideRecord(userID, known[name], byName[name]))
	}
	if err := s.grants.BulkUpsertUserOverrides(ctx, records); err != nil {
		return nil, err
	}

	s.logger.Info("user overrides added", zap.Uint("user_id", userID), zap.Int("applied", len(applied)), zap.Strings("skipped", skipped))
	return &BulkResult{Applied: applied, Skipped: skipped}, nil
}

func (s *grantService) BulkRemoveUserOverrides(ctx context.Context, userID uint, permissions []string) (*BulkResult, error) {
	known, err := s.resolvePermissions(ctx, permissions)
	if err != nil {
		return nil, err
	}
	applied, skipped := splitResolved(permissions, known)
	removed, err := s.grants.BulkRemoveUserOverrides(ctx, userID, idsOf(applied, known))
	if err != nil {
		return nil, err
	}
	s.logger.Info("user overrides removed", zap.Uint("user_id", userID), zap.Int64("removed", removed), zap.Strings("skipped", skipped))
	return &BulkResult{Applied: applied, Skipped: skipped}, nil
}

func (s *grantService) BulkAddRoleGrants(ctx context.Context, roleID uint, inputs []RoleGrantInput) (*BulkResult, error) {
	for i := range inputs {
		if err := validateStruct(&inputs[i]); err != nil {
			return nil, err
		}
	}
	if _, err := s.roles.FindByID(ctx, roleID); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(inputs))
	for _, in := range inputs {
		names = append(names, in.Permission)
	}
	known, err := s.resolvePermissions(ctx, names)
	if err != nil {
		return nil, err
	}
	applied, skipped := splitResolved(names, known)

	byName := make(map[string]*RoleGrantInput, len(inputs))
	for i := range inputs {
		byName[inputs[i].Permission] = &inputs[i]
	}
	grants := make([]models.RolePermission, 0, len(applied))
	for _, name := range applied {
		in := byName[name]
		grants = append(grants, models.RolePermission{
			RoleID:       roleID,
			PermissionID: known[name],
			IsGranted:    in.IsGranted,
			IsEffective:  in.IsEffective,
			GrantedBy:    in.GrantedBy,
			Reason:       in.Reason,
		})
	}
	if err := s.grants.BulkUpsertRoleGrants(ctx, grants); err != nil {
		return nil, err
	}

	s.logger.Info("role grants added", zap.Uint("role_id", roleID), zap.Int("applied", len(applied)), zap.Strings("skipped", skipped))
	return &BulkResult{Applied: applied, Skipped: skipped}, nil
}

func (s *grantService) BulkRemoveRoleGrants(ctx context.Context, roleID uint, permissions []string) (*BulkResult, error) {
	known, err := s.resolvePermissions(ctx, permissions)
	if err != nil {
		return nil, err
	}
	applied, skipped := splitResolved(permissions, known)
	removed, err := s.grants.BulkRemoveRoleGrants(ctx, roleID, idsOf(applied, known))
	if err != nil {
		return nil, err
	}
	s.logger.Info("role grants removed", zap.Uint("role_id", roleID), zap.Int64("removed", removed), zap.Strings("skipped", skipped))
	return &BulkResult{Applied: applied, Skipped: skipped}, nil
}

func (s *grantService) resolvePermissions(ctx context.Context, names []string) (map[string]uint, error) {
	permissions, err := s.permissions.FindByNames(ctx, names)
	if err != nil {
		return nil, err
	}
	known := make(map[string]uint, len(permissions))
	for _, p := range permissions {
		known[p.Name] = p.ID
	}
	return known, nil
}

func overrideRecord(userID, permissionID uint, in *OverrideInput) *models.UserPermission {
	return &models.UserPermission{
		UserID:       userID,
		PermissionID: permissionID,
		IsGranted:    in.IsGranted,
		IsOverride:   in.IsOverride,
		IsEffective:  in.IsEffective,
		GrantedBy:    in.GrantedBy,
		Reason:       in.Reason,
	}
}
