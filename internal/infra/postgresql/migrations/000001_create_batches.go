package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"gorm.io/gorm"
)

func createBatchesTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchModel{}, &repository.BatchUnitResultModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_batches_unfinished ON batches (created_at) WHERE status IN ('pending', 'processing')`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchUnitResultModel{}, &repository.BatchModel{})
		},
	}
}
