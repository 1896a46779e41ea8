package users

import (
	"context"

	"github.com/khanghh/kgate/model"
	"gorm.io/gorm"
)

type BackupCodeRepository interface {
	WithTx(tx *gorm.DB) BackupCodeRepository
	Replace(ctx context.Context, userID uint, hashes []string) error
	Consume(ctx context.Context, userID uint, hash string) (bool, error)
	Count(ctx context.Context, userID uint) (int64, error)
}

type backupCodeRepository struct {
	db *gorm.DB
}

func (r *backupCodeRepository) Replace(ctx context.Context, userID uint, hashes []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.BackupCode{}).Error; err != nil {
			return err
		}
		if len(hashes) == 0 {
			return nil
		}
		codes := make([]model.BackupCode, 0, len(hashes))
		for _, hash := range hashes {
			codes = append(codes, model.BackupCode{UserID: userID, CodeHash: hash})
		}
		return tx.Create(&codes).Error
	})
}

// Consume deletes the matching code. Exactly one of any concurrent callers
// presenting the same code observes the deleted row.
func (r *backupCodeRepository) Consume(ctx context.Context, userID uint, hash string) (bool, error) {
	ret := r.db.WithContext(ctx).
		Where("user_id = ? AND code_hash = ?", userID, hash).
		Delete(&model.BackupCode{})
	if ret.Error != nil {
		return false, ret.Error
	}
	return ret.RowsAffected == 1, nil
}

func (r *backupCodeRepository) Count(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.BackupCode{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *backupCodeRepository) WithTx(tx *gorm.DB) BackupCodeRepository {
	return NewBackupCodeRepository(tx)
}

func NewBackupCodeRepository(db *gorm.DB) BackupCodeRepository {
	return &backupCodeRepository{db}
}
