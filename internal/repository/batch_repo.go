package repository

import (
	"context"
	"errors"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Batch, error)
	ListUnfinished(ctx context.Context) ([]domain.Batch, error)
	// Save appends results and writes the batch row in one transaction, bumping b.Version.
	Save(ctx context.Context, b *domain.Batch, results ...domain.UnitResult) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if b.Version == 0 {
		b.Version = 1
	}
	model := batchModelFromDomain(b)
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var results []BatchUnitResultModel
	err = r.db.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("unit_index ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	return batchModelToDomain(&model, results), nil
}

// ListByOwner returns batch summaries newest first; per-unit results are not loaded.
func (r *GormBatchRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Batch, error) {
	var models []BatchModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i], nil))
	}
	return batches, nil
}

// ListUnfinished returns every batch that has not reached a terminal status, with its results.
func (r *GormBatchRepo) ListUnfinished(ctx context.Context) ([]domain.Batch, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("status IN ?", []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing}).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(ids))
	for _, id := range ids {
		b, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, nil
}

func (r *GormBatchRepo) Save(ctx context.Context, b *domain.Batch, results ...domain.UnitResult) error {
	expected := b.Version
	model := batchModelFromDomain(b)
	model.Version = expected + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(results) > 0 {
			rows := make([]BatchUnitResultModel, 0, len(results))
			for _, res := range results {
				rows = append(rows, unitResultModelFromDomain(b.ID, res))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return updateVersioned(tx, model, b.ID, expected)
	})
	if err != nil {
		return err
	}

	b.Version = model.Version
	return nil
}
