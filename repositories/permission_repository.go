package repositories

import (
	"context"
	"permission-center/models"

	"gorm.io/gorm"
)

// PermissionFilter narrows catalog listings. Zero value lists everything.
type PermissionFilter struct {
	Category   string
	ActiveOnly bool
}

// PermissionRepository interface defines Permission catalog operations
type PermissionRepository interface {
	Create(ctx context.Context, permission *models.Permission) error
	Update(ctx context.Context, permission *models.Permission) error
	Delete(ctx context.Context, id uint) (bool, error)
	SetActive(ctx context.Context, id uint, active bool) (bool, error)
	FindByID(ctx context.Context, id uint) (*models.Permission, error)
	FindByName(ctx context.Context, name string) (*models.Permission, error)
	FindByNames(ctx context.Context, names []string) ([]models.Permission, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, filter PermissionFilter) ([]models.Permission, error)
	Count(ctx context.Context) (int64, error)
	CountByCategory(ctx context.Context) (map[string]int64, error)
}

// permissionRepository implements the PermissionRepository interface
type permissionRepository struct {
	db *gorm.DB
}

var _ PermissionRepository = (*permissionRepository)(nil)

// NewPermissionRepository creates a new PermissionRepository instance
func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	return translate("create permission", r.db.WithContext(ctx).Create(permission).Error)
}

func (r *permissionRepository) Update(ctx context.Context, permission *models.Permission) error {
	result := r.db.WithContext(ctx).Model(&models.Permission{ID: permission.ID}).Updates(map[string]any{
		"display_name": permission.DisplayName,
		"description":  permission.Description,
		"category":     permission.Category,
		"is_active":    permission.IsActive,
	})
	if result.Error != nil {
		return translate("update permission", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete hard-deletes a permission together with every grant that references it.
func (r *permissionRepository) Delete(ctx context.Context, id uint) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("permission_id = ?", id).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("permission_id = ?", id).Delete(&models.UserPermission{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Permission{}, id)
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, translate("delete permission", err)
	}
	return deleted, nil
}

func (r *permissionRepository) SetActive(ctx context.Context, id uint, active bool) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Permission{ID: id}).Update("is_active", active)
	if result.Error != nil {
		return false, translate("set permission active", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *permissionRepository) FindByID(ctx context.Context, id uint) (*models.Permission, error) {
	var permission models.Permission
	if err := r.db.WithContext(ctx).First(&permission, id).Error; err != nil {
		return nil, translate("find permission", err)
	}
	return &permission, nil
}

func (r *permissionRepository) FindByName(ctx context.Context, name string) (*models.Permission, error) {
	var permission models.Permission
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&permission).Error; err != nil {
		return nil, translate("find permission by name", err)
	}
	return &permission, nil
}

// FindByNames returns the permissions whose names match exactly; unknown names are absent from the result.
func (r *permissionRepository) FindByNames(ctx context.Context, names []string) ([]models.Permission, error) {
	var permissions []models.Permission
	if len(names) == 0 {
		return permissions, nil
	}
	if err := r.db.WithContext(ctx).Where("name IN ?", names).Order("id").Find(&permissions).Error; err != nil {
		return nil, translate("find permissions by name", err)
	}
	return permissions, nil
}

func (r *permissionRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Permission{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, translate("check permission exists", err)
	}
	return count > 0, nil
}

func (r *permissionRepository) List(ctx context.Context, filter PermissionFilter) ([]models.Permission, error) {
	query := r.db.WithContext(ctx).Model(&models.Permission{})
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}

	var permissions []models.Permission
	if err := query.Order("category").Order("name").Find(&permissions).Error; err != nil {
		return nil, translate("list permissions", err)
	}
	return permissions, nil
}

func (r *permissionRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Permission{}).Count(&total).Error; err != nil {
		return 0, translate("count permissions", err)
	}
	return total, nil
}

type categoryCount struct {
	Category string
	Total    int64
}

func (r *permissionRepository) CountByCategory(ctx context.Context) (map[string]int64, error) {
	var rows []categoryCount
	err := r.db.WithContext(ctx).Model(&models.Permission{}).
		Select("category, COUNT(*) AS total").
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, translate("count permissions by category", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Total
	}
	return counts, nil
}
