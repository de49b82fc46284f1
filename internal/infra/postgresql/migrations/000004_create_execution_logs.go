package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"gorm.io/gorm"
)

func createExecutionLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_execution_logs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ExecutionLogModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ExecutionLogModel{})
		},
	}
}
