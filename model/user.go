package model

import (
	"time"

	"gorm.io/gorm"
)

// User is an authenticated principal. Principals are soft-disabled, never deleted.
type User struct {
	ID             uint         `gorm:"primarykey"`
	Email          string       `gorm:"uniqueIndex;size:256;not null"` // stored lower-cased
	PasswordHash   string       `gorm:"size:72;not null"`
	Role           string       `gorm:"size:32;not null;index"`
	TenantID       string       `gorm:"size:64;index"` // empty for system owners
	TOTPSecret     *string      `gorm:"size:64"`
	TOTPEnabled    bool         `gorm:"not null"`
	FirstLogin     bool         `gorm:"not null"`
	FailedAttempts int          `gorm:"not null"`
	LockedUntil    *time.Time
	Disabled       bool         `gorm:"not null"`
	BackupCodes    []BackupCode `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Grants         []UserRole   `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == 0 {
		u.ID = GenerateID()
	}
	return nil
}

// BackupCode is a single-use recovery code. Only the keyed hash is stored.
type BackupCode struct {
	ID        uint   `gorm:"primarykey,autoIncrement"`
	UserID    uint   `gorm:"not null;index:idx_backup_code,unique"`
	CodeHash  string `gorm:"size:64;not null;index:idx_backup_code,unique"`
	CreatedAt time.Time
}
