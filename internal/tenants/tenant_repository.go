package tenants

import (
	"context"

	"github.com/khanghh/kgate/model"
	"gorm.io/gorm"
)

type TenantRepository interface {
	FindBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	FindByDomain(ctx context.Context, host string) (*model.Tenant, error)
	Create(ctx context.Context, tenant *model.Tenant) error
	List(ctx context.Context) ([]model.Tenant, error)
}

type tenantRepository struct {
	db *gorm.DB
}

func (r *tenantRepository) FindBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindByDomain returns the enabled tenant owning the custom domain.
func (r *tenantRepository) FindByDomain(ctx context.Context, host string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.WithContext(ctx).
		Where("custom_domain = ? AND disabled = ?", host, false).
		First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepository) Create(ctx context.Context, tenant *model.Tenant) error {
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *tenantRepository) List(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	err := r.db.WithContext(ctx).Order("slug").Find(&tenants).Error
	return tenants, err
}

func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}
