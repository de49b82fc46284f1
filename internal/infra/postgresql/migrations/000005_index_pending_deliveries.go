package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Supports the scanner's sweep for deliveries left pending by an interrupted dispatch.
func indexPendingDeliveries() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_index_pending_deliveries",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_deliveries_pending ON webhook_deliveries (created_at) WHERE status = 'pending'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_deliveries_pending`).Error
		},
	}
}
