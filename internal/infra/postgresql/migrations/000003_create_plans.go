package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"gorm.io/gorm"
)

func createPlansTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_plans",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.PlanModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PlanModel{})
		},
	}
}
