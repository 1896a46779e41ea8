package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const ScopeTypeGlobal = "global"

var ErrGrantScopeMissing = errors.New("scope id is required for non-global grants")

type Permission struct {
	Key         string `gorm:"primaryKey;size:128"` // <module>.<action>
	Module      string `gorm:"size:64;not null;index"`
	Action      string `gorm:"size:64;not null"`
	IsDangerous bool   `gorm:"not null"`
}

type Role struct {
	Key          string       `gorm:"primaryKey;size:64"`
	Name         string       `gorm:"size:128;not null"`
	IsSystemRole bool         `gorm:"not null"`
	Permissions  []Permission `gorm:"many2many:role_permission;joinForeignKey:RoleKey;joinReferences:PermissionKey"`
}

// UserRole grants a role to a user at a scope. Inactive or expired rows are
// retained for history and ignored by authorization.
type UserRole struct {
	ID        string     `gorm:"primaryKey;size:36"`
	UserID    uint       `gorm:"not null;index"`
	RoleKey   string     `gorm:"size:64;not null;index"`
	Role      Role       `gorm:"foreignKey:RoleKey;references:Key"`
	ScopeType string     `gorm:"size:16;not null"`
	ScopeID   string     `gorm:"size:64"`
	IsActive  bool       `gorm:"not null"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// BeforeCreate enforces the scope invariant. Grants are immutable apart from
// is_active, so partial updates skip the check.
func (g *UserRole) BeforeCreate(tx *gorm.DB) error {
	if g.ScopeType != ScopeTypeGlobal && g.ScopeID == "" {
		return ErrGrantScopeMissing
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
