package models

import "time"

type Role struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;size:64;not null"`
	Description  string `gorm:"size:255"`
	Category     string `gorm:"index;size:64;not null"`
	Priority     int    `gorm:"index;not null"` // Higher = more senior
	IsSystemRole bool   `gorm:"not null"`       // Built-in roles cannot be deleted
	IsActive     bool   `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Role) TableName() string {
	return "roles"
}

// UserRole is a membership row; the composite primary key keeps (user, role) unique.
type UserRole struct {
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	RoleID    uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

func (UserRole) TableName() string {
	return "user_roles"
}
