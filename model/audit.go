package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent is append-only. Details are redacted before they are stored.
type AuditEvent struct {
	ID        uint64            `gorm:"primaryKey;autoIncrement"`
	Actor     string            `gorm:"size:256;not null;index"` // principal id or submitted email
	Area      string            `gorm:"size:32;not null;index"`  // auth, authz, admin, webhook
	Action    string            `gorm:"size:64;not null;index"`  // login_success, login_failure...
	Reason    string            `gorm:"size:128"`                // precise failure reason
	Details   datatypes.JSONMap
	IP        string            `gorm:"size:45"`
	UserAgent string            `gorm:"size:512"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index"`
}

func (AuditEvent) TableName() string {
	return "audit"
}
