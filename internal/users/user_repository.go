package users

import (
	"context"
	"time"

	"github.com/khanghh/kgate/model"
	"gorm.io/gorm"
)

type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository
	FindByID(ctx context.Context, id uint) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Updates(ctx context.Context, id uint, columns map[string]interface{}) (int64, error)
	CompareAndSwapFailures(ctx context.Context, id uint, expected int, failedAttempts int, lockedUntil *time.Time) (bool, error)
}

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Updates(ctx context.Context, id uint, columns map[string]interface{}) (int64, error) {
	ret := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(columns)
	return ret.RowsAffected, ret.Error
}

// CompareAndSwapFailures writes the new lockout state only if the stored
// counter still equals expected.
func (r *userRepository) CompareAndSwapFailures(ctx context.Context, id uint, expected int, failedAttempts int, lockedUntil *time.Time) (bool, error) {
	ret := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND failed_attempts = ?", id, expected).
		Updates(map[string]interface{}{
			"failed_attempts": failedAttempts,
			"locked_until":    lockedUntil,
		})
	if ret.Error != nil {
		return false, ret.Error
	}
	return ret.RowsAffected == 1, nil
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return NewUserRepository(tx)
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db}
}
