package repositories

import (
	"context"
	"permission-center/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoleFilter narrows role listings. Zero value lists everything.
type RoleFilter struct {
	Category   string
	ActiveOnly bool
	SystemOnly bool
}

// RoleRepository covers the Role catalog and user↔role membership.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, id uint) (bool, error)
	SetActive(ctx context.Context, id uint, active bool) (bool, error)
	UpdatePriority(ctx context.Context, id uint, priority int) (bool, error)
	FindByID(ctx context.Context, id uint) (*models.Role, error)
	FindByName(ctx context.Context, name string) (*models.Role, error)
	FindByNames(ctx context.Context, names []string) ([]models.Role, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, filter RoleFilter) ([]models.Role, error)
	ListByPriority(ctx context.Context) ([]models.Role, error)
	Count(ctx context.Context) (int64, error)
	CountByCategory(ctx context.Context) (map[string]int64, error)

	IsUserInRole(ctx context.Context, userID uint, roleName string) (bool, error)
	AddUserToRoles(ctx context.Context, userID uint, roleIDs []uint) error
	RemoveUserFromRoles(ctx context.Context, userID uint, roleIDs []uint) (int64, error)
	GetUserRoles(ctx context.Context, userID uint) ([]models.Role, error)
	GetUserRoleIDs(ctx context.Context, userID uint) ([]uint, error)
	GetUsersInRole(ctx context.Context, roleID uint) ([]uint, error)
	GetUsersInRoles(ctx context.Context, roleIDs []uint) ([]uint, error)
	GetHighestPriorityUserRole(ctx context.Context, userID uint) (*models.Role, error)
	CountUsersInRole(ctx context.Context, roleID uint) (int64, error)
	CountUsersByRole(ctx context.Context) (map[string]int64, error)
}

type roleRepository struct {
	db *gorm.DB
}

var _ RoleRepository = (*roleRepository)(nil)

// NewRoleRepository creates a new RoleRepository instance
func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) Create(ctx context.Context, role *models.Role) error {
	return translate("create role", r.db.WithContext(ctx).Create(role).Error)
}

func (r *roleRepository) Update(ctx context.Context, role *models.Role) error {
	result := r.db.WithContext(ctx).Model(&models.Role{ID: role.ID}).Updates(map[string]any{
		"description": role.Description,
		"category":    role.Category,
		"priority":    role.Priority,
		"is_active":   role.IsActive,
	})
	if result.Error != nil {
		return translate("update role", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the role, its memberships and its grants in one transaction.
func (r *roleRepository) Delete(ctx context.Context, id uint) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", id).Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		if err := tx.Where("role_id = ?", id).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Role{}, id)
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, translate("delete role", err)
	}
	return deleted, nil
}

func (r *roleRepository) SetActive(ctx context.Context, id uint, active bool) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Role{ID: id}).Update("is_active", active)
	if result.Error != nil {
		return false, translate("set role active", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *roleRepository) UpdatePriority(ctx context.Context, id uint, priority int) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Role{ID: id}).Update("priority", priority)
	if result.Error != nil {
		return false, translate("update role priority", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *roleRepository) FindByID(ctx context.Context, id uint) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).First(&role, id).Error; err != nil {
		return nil, translate("find role", err)
	}
	return &role, nil
}

func (r *roleRepository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, translate("find role by name", err)
	}
	return &role, nil
}

func (r *roleRepository) FindByNames(ctx context.Context, names []string) ([]models.Role, error) {
	var roles []models.Role
	if len(names) == 0 {
		return roles, nil
	}
	if err := r.db.WithContext(ctx).Where("name IN ?", names).Order("id").Find(&roles).Error; err != nil {
		return nil, translate("find roles by name", err)
	}
	return roles, nil
}

func (r *roleRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Role{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, translate("check role exists", err)
	}
	return count > 0, nil
}

func (r *roleRepository) List(ctx context.Context, filter RoleFilter) ([]models.Role, error) {
	query := r.db.WithContext(ctx).Model(&models.Role{})
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.SystemOnly {
		query = query.Where("is_system_role = ?", true)
	}

	var roles []models.Role
	if err := query.Order("name").Find(&roles).Error; err != nil {
		return nil, translate("list roles", err)
	}
	return roles, nil
}

// ListByPriority orders the catalog most senior first; equal priorities fall back to id order.
func (r *roleRepository) ListByPriority(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.WithContext(ctx).Order("priority DESC").Order("id ASC").Find(&roles).Error; err != nil {
		return nil, translate("list roles by priority", err)
	}
	return roles, nil
}

func (r *roleRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Role{}).Count(&total).Error; err != nil {
		return 0, translate("count roles", err)
	}
	return total, nil
}

func (r *roleRepository) CountByCategory(ctx context.Context) (map[string]int64, error) {
	var rows []categoryCount
	err := r.db.WithContext(ctx).Model(&models.Role{}).
		Select("category, COUNT(*) AS total").
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, translate("count roles by category", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Total
	}
	return counts, nil
}

// --- Membership ---

func (r *roleRepository) IsUserInRole(ctx context.Context, userID uint, roleName string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("user_roles.user_id = ? AND roles.name = ?", userID, roleName).
		Count(&count).Error
	if err != nil {
		return false, translate("check user role", err)
	}
	return count > 0, nil
}

// AddUserToRoles inserts the memberships in one statement; rows that already exist are left alone.
func (r *roleRepository) AddUserToRoles(ctx context.Context, userID uint, roleIDs []uint) error {
	if len(roleIDs) == 0 {
		return nil
	}
	rows := make([]models.UserRole, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		rows = append(rows, models.UserRole{UserID: userID, RoleID: roleID})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return translate("add user to roles", err)
}

func (r *roleRepository) RemoveUserFromRoles(ctx context.Context, userID uint, roleIDs []uint) (int64, error) {
	if len(roleIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("user_id = ? AND role_id IN ?", userID, roleIDs).Delete(&models.UserRole{})
	if result.Error != nil {
		return 0, translate("remove user from roles", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *roleRepository) GetUserRoles(ctx context.Context, userID uint) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name").
		Find(&roles).Error
	if err != nil {
		return nil, translate("get user roles", err)
	}
	return roles, nil
}

func (r *roleRepository) GetUserRoleIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("user_id = ?", userID).
		Order("role_id").
		Pluck("role_id", &ids).Error
	if err != nil {
		return nil, translate("get user role ids", err)
	}
	return ids, nil
}

func (r *roleRepository) GetUsersInRole(ctx context.Context, roleID uint) ([]uint, error) {
	return r.GetUsersInRoles(ctx, []uint{roleID})
}

func (r *roleRepository) GetUsersInRoles(ctx context.Context, roleIDs []uint) ([]uint, error) {
	var ids []uint
	if len(roleIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).Model(&models.UserRole{}).
		Distinct("user_id").
		Where("role_id IN ?", roleIDs).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, translate("get users in roles", err)
	}
	return ids, nil
}

// GetHighestPriorityUserRole returns ErrNotFound when the user holds no role.
// Equal priorities resolve to the lowest role id.
func (r *roleRepository) GetHighestPriorityUserRole(ctx context.Context, userID uint) (*models.Role, error) {
	var role models.Role
	err := r.db.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.priority DESC").
		Order("roles.id ASC").
		Take(&role).Error
	if err != nil {
		return nil, translate("get highest priority user role", err)
	}
	return &role, nil
}

func (r *roleRepository) CountUsersInRole(ctx context.Context, roleID uint) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.UserRole{}).Where("role_id = ?", roleID).Count(&total).Error; err != nil {
		return 0, translate("count users in role", err)
	}
	return total, nil
}

type roleUserCount struct {
	Name  string
	Total int64
}

// CountUsersByRole reports every role, including those with no members.
func (r *roleRepository) CountUsersByRole(ctx context.Context) (map[string]int64, error) {
	var rows []roleUserCount
	err := r.db.WithContext(ctx).Model(&models.Role{}).
		Select("roles.name AS name, COUNT(user_roles.user_id) AS total").
		Joins("LEFT JOIN user_roles ON user_roles.role_id = roles.id").
		Group("roles.name").
		Scan(&rows).Error
	if err != nil {
		return nil, translate("count users by role", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Name] = row.Total
	}
	return counts, nil
}
