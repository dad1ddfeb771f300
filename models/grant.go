package models

import "time"

// RolePermission grants (or records a revoked grant of) a permission to a role.
// At most one row exists per (RoleID, PermissionID).
type RolePermission struct {
	ID           uint   `gorm:"primaryKey"`
	RoleID       uint   `gorm:"uniqueIndex:idx_role_permission,priority:1;not null"`
	PermissionID uint   `gorm:"uniqueIndex:idx_role_permission,priority:2;index;not null"`
	IsGranted    bool   `gorm:"not null"`
	IsEffective  bool   `gorm:"not null"`
	GrantedBy    string `gorm:"size:64"`
	Reason       string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Permission Permission `gorm:"foreignKey:PermissionID"`
	Role       Role       `gorm:"foreignKey:RoleID"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}

// UserPermission is a per-user record for one permission. When IsOverride is set it is
// authoritative and wins over anything the user's roles say.
// At most one row exists per (UserID, PermissionID).
type UserPermission struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       uint   `gorm:"uniqueIndex:idx_user_permission,priority:1;not null"`
	PermissionID uint   `gorm:"uniqueIndex:idx_user_permission,priority:2;index;not null"`
	IsGranted    bool   `gorm:"not null"`
	IsOverride   bool   `gorm:"not null"`
	IsEffective  bool   `gorm:"not null"`
	GrantedBy    string `gorm:"size:64"`
	Reason       string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Permission Permission `gorm:"foreignKey:PermissionID"`
}

func (UserPermission) TableName() string {
	return "user_permissions"
}

// Resolves reports whether the record on its own grants the permission.
func (up UserPermission) Resolves() bool {
	return up.IsGranted && up.IsEffective
}
