package models

import "time"

// User is the credential record behind login. Role membership lives in UserRole.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;size:64;not null"`
	Password  string `gorm:"not null" json:"-"` // Don't expose password hash
	Email     string `gorm:"size:128"`
	Nickname  string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}
