package model

import "time"

type Tenant struct {
	Slug         string  `gorm:"primaryKey;size:64"`
	Name         string  `gorm:"size:128;not null"`
	CustomDomain *string `gorm:"uniqueIndex;size:253"`
	IsDemo       bool    `gorm:"not null"`
	Disabled     bool    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
