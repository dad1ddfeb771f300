package models

import "time"

// Permission is a named capability in a flat namespace (e.g. "content.moderate", "users.view").
type Permission struct {
	ID                 uint   `gorm:"primaryKey"`
	Name               string `gorm:"uniqueIndex;size:128;not null"` // Case-sensitive, unique across the catalog
	DisplayName        string `gorm:"size:128"`
	Description        string `gorm:"size:255"`
	Category           string `gorm:"index;size:64;not null"` // Free-text grouping, e.g. "Content"
	IsSystemPermission bool   `gorm:"not null"`
	IsActive           bool   `gorm:"not null"` // Deactivated rather than deleted in normal operation
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Permission) TableName() string {
	return "permissions"
}
