package repository

import (
	"context"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"gorm.io/gorm"
)

// ExecutionLogRepository is append-only: entries are created and read, never updated.
type ExecutionLogRepository interface {
	Create(ctx context.Context, l *domain.ExecutionLog) error
	ListByJob(ctx context.Context, jobID string, jobType domain.JobType) ([]domain.ExecutionLog, error)
}

type GormExecutionLogRepo struct {
	db *gorm.DB
}

func NewGormExecutionLogRepo(db *gorm.DB) *GormExecutionLogRepo {
	return &GormExecutionLogRepo{db: db}
}

func (r *GormExecutionLogRepo) Create(ctx context.Context, l *domain.ExecutionLog) error {
	return r.db.WithContext(ctx).Create(executionLogModelFromDomain(l)).Error
}

func (r *GormExecutionLogRepo) ListByJob(ctx context.Context, jobID string, jobType domain.JobType) ([]domain.ExecutionLog, error) {
	var models []ExecutionLogModel
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND job_type = ?", jobID, jobType).
		Order("created_at ASC").
		Order("unit_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	logs := make([]domain.ExecutionLog, 0, len(models))
	for i := range models {
		logs = append(logs, *executionLogModelToDomain(&models[i]))
	}
	return logs, nil
}
