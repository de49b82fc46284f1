package repository

import (
	"fmt"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// updateVersioned writes every column of model except omit, guarded by the expected version.
// model must already carry expected+1 as its version.
func updateVersioned(tx *gorm.DB, model any, id string, expected int, omit ...string) error {
	result := tx.Model(model).
		Where("id = ? AND version = ?", id, expected).
		Select("*").
		Omit(append([]string{"id", "created_at"}, omit...)...).
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %s was modified concurrently (expected version %d)", domain.ErrConflict, id, expected)
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
