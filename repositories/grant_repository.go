package repositories

import (
	"context"
	"permission-center/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	rolePermissionJoin = "JOIN permissions ON permissions.id = role_permissions.permission_id"
	userPermissionJoin = "JOIN permissions ON permissions.id = user_permissions.permission_id"
)

// GrantRepository stores role grants and per-user override records, and answers the
// read queries the resolution engine is built from.
type GrantRepository interface {
	// Role grants
	GetRoleGrant(ctx context.Context, roleID, permissionID uint) (*models.RolePermission, error)
	GetRoleGrantByName(ctx context.Context, roleName, permissionName string) (*models.RolePermission, error)
	UpsertRoleGrant(ctx context.Context, grant *models.RolePermission) error
	UpdateRoleGrantFlags(ctx context.Context, roleID, permissionID uint, granted, effective bool) (bool, error)
	RemoveRoleGrant(ctx context.Context, roleID, permissionID uint) (bool, error)
	ListRoleGrants(ctx context.Context, roleID uint) ([]models.RolePermission, error)
	CountRoleGrants(ctx context.Context, roleID uint) (int64, error)
	CountRoleGrantsByCategory(ctx context.Context, roleID uint) (map[string]int64, error)
	BulkUpsertRoleGrants(ctx context.Context, grants []models.RolePermission) error
	BulkRemoveRoleGrants(ctx context.Context, roleID uint, permissionIDs []uint) (int64, error)

	// User overrides
	GetUserOverride(ctx context.Context, userID, permissionID uint) (*models.UserPermission, error)
	GetUserOverrideByName(ctx context.Context, userID uint, permissionName string) (*models.UserPermission, error)
	UpsertUserOverride(ctx context.Context, override *models.UserPermission) error
	RemoveUserOverride(ctx context.Context, userID, permissionID uint) (bool, error)
	ListUserOverrides(ctx context.Context, userID uint) ([]models.UserPermission, error)
	CountUserOverrides(ctx context.Context, userID uint) (int64, error)
	BulkUpsertUserOverrides(ctx context.Context, overrides []models.UserPermission) error
	BulkRemoveUserOverrides(ctx context.Context, userID uint, permissionIDs []uint) (int64, error)

	// Resolution reads
	HasEffectiveRoleGrant(ctx context.Context, roleIDs []uint, permissionName string) (bool, error)
	EffectiveRoleGrantNames(ctx context.Context, roleIDs []uint) ([]string, error)
	RoleIDsWithEffectiveGrant(ctx context.Context, permissionName string) ([]uint, error)
	UserIDsWithResolvingRecord(ctx context.Context, permissionName string) ([]uint, error)
	UserIDsWithDenyingOverride(ctx context.Context, permissionName string) ([]uint, error)
}

type grantRepository struct {
	db *gorm.DB
}

var _ GrantRepository = (*grantRepository)(nil)

// NewGrantRepository creates a new GrantRepository instance
func NewGrantRepository(db *gorm.DB) GrantRepository {
	return &grantRepository{db: db}
}

var (
	roleGrantConflict = clause.OnConflict{
		Columns:   []clause.Column{{Name: "role_id"}, {Name: "permission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_granted", "is_effective", "granted_by", "reason", "updated_at"}),
	}
	userOverrideConflict = clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "permission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_granted", "is_override", "is_effective", "granted_by", "reason", "updated_at"}),
	}
)

// --- Role grants ---

func (r *grantRepository) GetRoleGrant(ctx context.Context, roleID, permissionID uint) (*models.RolePermission, error) {
	var grant models.RolePermission
	err := r.db.WithContext(ctx).Preload("Permission").
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		First(&grant).Error
	if err != nil {
		return nil, translate("get role grant", err)
	}
	return &grant, nil
}

func (r *grantRepository) GetRoleGrantByName(ctx context.Context, roleName, permissionName string) (*models.RolePermission, error) {
	var grant models.RolePermission
	err := r.db.WithContext(ctx).Preload("Permission").
		Joins(rolePermissionJoin).
		Joins("JOIN roles ON roles.id = role_permissions.role_id").
		Where("roles.name = ? AND permissions.name = ?", roleName, permissionName).
		First(&grant).Error
	if err != nil {
		return nil, translate("get role grant by name", err)
	}
	return &grant, nil
}

// UpsertRoleGrant writes the grant, replacing the flags of an existing (role, permission) row.
func (r *grantRepository) UpsertRoleGrant(ctx context.Context, grant *models.RolePermission) error {
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(roleGrantConflict).
		Create(grant).Error
	return translate("upsert role grant", err)
}

func (r *grantRepository) UpdateRoleGrantFlags(ctx context.Context, roleID, permissionID uint, granted, effective bool) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.RolePermission{}).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Updates(map[string]any{"is_granted": granted, "is_effective": effective})
	if result.Error != nil {
		return false, translate("update role grant", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *grantRepository) RemoveRoleGrant(ctx context.Context, roleID, permissionID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&models.RolePermission{})
	if result.Error != nil {
		return false, translate("remove role grant", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *grantRepository) ListRoleGrants(ctx context.Context, roleID uint) ([]models.RolePermission, error) {
	var grants []models.RolePermission
	err := r.db.WithContext(ctx).Preload("Permission").
		Where("role_id = ?", roleID).
		Order("permission_id").
		Find(&grants).Error
	if err != nil {
		return nil, translate("list role grants", err)
	}
	return grants, nil
}

func (r *grantRepository) CountRoleGrants(ctx context.Context, roleID uint) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.RolePermission{}).Where("role_id = ?", roleID).Count(&total).Error; err != nil {
		return 0, translate("count role grants", err)
	}
	return total, nil
}

// CountRoleGrantsByCategory counts the role's effective grants per permission category.
func (r *grantRepository) CountRoleGrantsByCategory(ctx context.Context, roleID uint) (map[string]int64, error) {
	var rows []categoryCount
	err := r.db.WithContext(ctx).Model(&models.RolePermission{}).
		Select("permissions.category AS category, COUNT(*) AS total").
		Joins(rolePermissionJoin).
		Where("role_permissions.role_id = ? AND role_permissions.is_effective = ?", roleID, true).
		Group("permissions.category").
		Scan(&rows).Error
	if err != nil {
		return nil, translate("count role grants by category", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Total
	}
	return counts, nil
}

// BulkUpsertRoleGrants writes all grants in a single transaction.
func (r *grantRepository) BulkUpsertRoleGrants(ctx context.Context, grants []models.RolePermission) error {
	if len(grants) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Clauses(roleGrantConflict).Create(&grants).Error
	})
	return translate("bulk upsert role grants", err)
}

func (r *grantRepository) BulkRemoveRoleGrants(ctx context.Context, roleID uint, permissionIDs []uint) (int64, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("role_id = ? AND permission_id IN ?", roleID, permissionIDs).Delete(&models.RolePermission{})
		removed = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, translate("bulk remove role grants", err)
	}
	return removed, nil
}

// --- User overrides ---

func (r *grantRepository) GetUserOverride(ctx context.Context, userID, permissionID uint) (*models.UserPermission, error) {
	var override models.UserPermission
	err := r.db.WithContext(ctx).Preload("Permission").
		Where("user_id = ? AND permission_id = ?", userID, permissionID).
		First(&override).Error
	if err != nil {
		return nil, translate("get user override", err)
	}
	return &override, nil
}

func (r *grantRepository) GetUserOverrideByName(ctx context.Context, userID uint, permissionName string) (*models.UserPermission, error) {
	var override models.UserPermission
	err := r.db.WithContext(ctx).Preload("Permission").
		Joins(userPermissionJoin).
		Where("user_permissions.user_id = ? AND permissions.name = ?", userID, permissionName).
		First(&override).Error
	if err != nil {
		return nil, translate("get user override by name", err)
	}
	return &override, nil
}

// UpsertUserOverride writes the record, replacing the flags of an existing (user, permission) row.
func (r *grantRepository) UpsertUserOverride(ctx context.Context, override *models.UserPermission) error {
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(userOverrideConflict).
		Create(override).Error
	return translate("upsert user override", err)
}

func (r *grantRepository) RemoveUserOverride(ctx context.Context, userID, permissionID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND permission_id = ?", userID, permissionID).
		Delete(&models.UserPermission{})
	if result.Error != nil {
		return false, translate("remove user override", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *grantRepository) ListUserOverrides(ctx context.Context, userID uint) ([]models.UserPermission, error) {
	var overrides []models.UserPermission
	err := r.db.WithContext(ctx).Preload("Permission").
		Where("user_id = ?", userID).
		Order("permission_id").
		Find(&overrides).Error
	if err != nil {
		return nil, translate("list user overrides", err)
	}
	return overrides, nil
}

func (r *grantRepository) CountUserOverrides(ctx context.Context, userID uint) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.UserPermission{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return 0, translate("count user overrides", err)
	}
	return total, nil
}

// BulkUpsertUserOverrides writes all records in a single transaction.
func (r *grantRepository) BulkUpsertUserOverrides(ctx context.Context, overrides []models.UserPermission) error {
	if len(overrides) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Clauses(userOverrideConflict).Create(&overrides).Error
	})
	return translate("bulk upsert user overrides", err)
}

func (r *grantRepository) BulkRemoveUserOverrides(ctx context.Context, userID uint, permissionIDs []uint) (int64, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND permission_id IN ?", userID, permissionIDs).Delete(&models.UserPermission{})
		removed = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, translate("bulk remove user overrides", err)
	}
	return removed, nil
}

// --- Resolution reads ---
//
// Role grants count when is_effective is set; is_granted is not consulted.

func (r *grantRepository) HasEffectiveRoleGrant(ctx context.Context, roleIDs []uint, permissionName string) (bool, error) {
	if len(roleIDs) == 0 {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.RolePermission{}).
		Joins(rolePermissionJoin).
		Where("role_permissions.role_id IN ? AND permissions.name = ? AND role_permissions.is_effective = ?", roleIDs, permissionName, true).
		Count(&count).Error
	if err != nil {
		return false, translate("check role grant", err)
	}
	return count > 0, nil
}

func (r *grantRepository) EffectiveRoleGrantNames(ctx context.Context, roleIDs []uint) ([]string, error) {
	var names []string
	if len(roleIDs) == 0 {
		return names, nil
	}
	err := r.db.WithContext(ctx).Model(&models.RolePermission{}).
		Joins(rolePermissionJoin).
		Distinct("permissions.name").
		Where("role_permissions.role_id IN ? AND role_permissions.is_effective = ?", roleIDs, true).
		Pluck("permissions.name", &names).Error
	if err != nil {
		return nil, translate("list role grant names", err)
	}
	return names, nil
}

func (r *grantRepository) RoleIDsWithEffectiveGrant(ctx context.Context, permissionName string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.RolePermission{}).
		Joins(rolePermissionJoin).
		Distinct("role_permissions.role_id").
		Where("permissions.name = ? AND role_permissions.is_effective = ?", permissionName, true).
		Order("role_permissions.role_id").
		Pluck("role_permissions.role_id", &ids).Error
	if err != nil {
		return nil, translate("list roles with grant", err)
	}
	return ids, nil
}

// UserIDsWithResolvingRecord lists users whose own record is granted and effective.
func (r *grantRepository) UserIDsWithResolvingRecord(ctx context.Context, permissionName string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.UserPermission{}).
		Joins(userPermissionJoin).
		Where("permissions.name = ? AND user_permissions.is_granted = ? AND user_permissions.is_effective = ?", permissionName, true, true).
		Order("user_permissions.user_id").
		Pluck("user_permissions.user_id", &ids).Error
	if err != nil {
		return nil, translate("list users with direct grant", err)
	}
	return ids, nil
}

// UserIDsWithDenyingOverride lists users holding an authoritative override that does not
// grant the permission, whatever their roles say.
func (r *grantRepository) UserIDsWithDenyingOverride(ctx context.Context, permissionName string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.UserPermission{}).
		Joins(userPermissionJoin).
		Where("permissions.name = ? AND user_permissions.is_override = ?", permissionName, true).
		Where("(user_permissions.is_granted = ? OR user_permissions.is_effective = ?)", false, false).
		Order("user_permissions.user_id").
		Pluck("user_permissions.user_id", &ids).Error
	if err != nil {
		return nil, translate("list users with denying override", err)
	}
	return ids, nil
}
