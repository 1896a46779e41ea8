package audit

import (
	"context"

	"github.com/khanghh/kgate/model"
	"gorm.io/gorm"
)

type AuditEventRepository interface {
	Create(ctx context.Context, event *model.AuditEvent) error
	ListRecent(ctx context.Context, area string, limit int) ([]model.AuditEvent, error)
}

type auditEventRepository struct {
	db *gorm.DB
}

func (r *auditEventRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListRecent returns the newest events first, optionally filtered by area.
func (r *auditEventRepository) ListRecent(ctx context.Context, area string, limit int) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	query := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if area != "" {
		query = query.Where(&model.AuditEvent{Area: area})
	}
	err := query.Find(&events).Error
	return events, err
}

func NewAuditEventRepository(db *gorm.DB) AuditEventRepository {
	return &auditEventRepository{db: db}
}
