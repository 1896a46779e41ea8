package users

import (
	"context"

	"github.com/khanghh/kgate/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GrantRepository interface {
	ListByUser(ctx context.Context, userID uint) ([]model.UserRole, error)
	Create(ctx context.Context, grant *model.UserRole) error
	SetActive(ctx context.Context, id string, active bool) (int64, error)
}

type RoleRepository interface {
	FindByKey(ctx context.Context, key string) (*model.Role, error)
	Upsert(ctx context.Context, role *model.Role) error
}

type grantRepository struct {
	db *gorm.DB
}

func (r *grantRepository) ListByUser(ctx context.Context, userID uint) ([]model.UserRole, error) {
	var grants []model.UserRole
	err := r.db.WithContext(ctx).
		Preload("Role.Permissions").
		Where("user_id = ?", userID).
		Find(&grants).Error
	return grants, err
}

func (r *grantRepository) Create(ctx context.Context, grant *model.UserRole) error {
	return r.db.WithContext(ctx).Omit("Role").Create(grant).Error
}

func (r *grantRepository) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	ret := r.db.WithContext(ctx).Model(&model.UserRole{}).Where("id = ?", id).Update("is_active", active)
	return ret.RowsAffected, ret.Error
}

func NewGrantRepository(db *gorm.DB) GrantRepository {
	return &grantRepository{db}
}

type roleRepository struct {
	db *gorm.DB
}

func (r *roleRepository) FindByKey(ctx context.Context, key string) (*model.Role, error) {
	var role model.Role
	if err := r.db.WithContext(ctx).Preload("Permissions").Where(&model.Role{Key: key}).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

// Upsert stores the role and replaces its permission set.
func (r *roleRepository) Upsert(ctx context.Context, role *model.Role) error {
	perms := role.Permissions
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Permissions").Clauses(clause.OnConflict{UpdateAll: true}).Create(role).Error; err != nil {
			return err
		}
		if len(perms) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&perms).Error; err != nil {
				return err
			}
		}
		if len(perms) == 0 {
			return tx.Model(role).Association("Permissions").Clear()
		}
		return tx.Model(role).Association("Permissions").Replace(perms)
	})
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db}
}
