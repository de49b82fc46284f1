package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"gorm.io/gorm"
)

func createWebhookTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_webhook_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EndpointModel{}, &repository.DeliveryModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_deliveries_retry_due ON webhook_deliveries (next_retry_at) WHERE status = 'retrying'`,
				`CREATE INDEX IF NOT EXISTS idx_deliveries_failed ON webhook_deliveries (endpoint_id, attempt_count) WHERE status = 'failed'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryModel{}, &repository.EndpointModel{})
		},
	}
}
