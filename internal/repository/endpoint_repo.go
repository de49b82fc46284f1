package repository

import (
	"context"
	"errors"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"gorm.io/gorm"
)

type EndpointRepository interface {
	Create(ctx context.Context, e *domain.Endpoint) error
	GetByID(ctx context.Context, id string) (*domain.Endpoint, error)
	Update(ctx context.Context, e *domain.Endpoint) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Endpoint, error)
	ListActiveByOwner(ctx context.Context, ownerID string) ([]domain.Endpoint, error)
	// RecordDispatch bumps the rolling failure count, or resets it on success.
	RecordDispatch(ctx context.Context, id string, success bool) error
}

type GormEndpointRepo struct {
	db *gorm.DB
}

func NewGormEndpointRepo(db *gorm.DB) *GormEndpointRepo {
	return &GormEndpointRepo{db: db}
}

func (r *GormEndpointRepo) Create(ctx context.Context, e *domain.Endpoint) error {
	if e.Version == 0 {
		e.Version = 1
	}
	return r.db.WithContext(ctx).Create(endpointModelFromDomain(e)).Error
}

func (r *GormEndpointRepo) GetByID(ctx context.Context, id string) (*domain.Endpoint, error) {
	var model EndpointModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return endpointModelToDomain(&model), nil
}

// Update writes owner-editable fields; failure_count is maintained by RecordDispatch only.
func (r *GormEndpointRepo) Update(ctx context.Context, e *domain.Endpoint) error {
	expected := e.Version
	model := endpointModelFromDomain(e)
	model.Version = expected + 1

	if err := updateVersioned(r.db.WithContext(ctx), model, e.ID, expected, "failure_count"); err != nil {
		return err
	}
	e.Version = model.Version
	return nil
}

func (r *GormEndpointRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&EndpointModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormEndpointRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Endpoint, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("owner_id = ?", ownerID))
}

func (r *GormEndpointRepo) ListActiveByOwner(ctx context.Context, ownerID string) ([]domain.Endpoint, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("owner_id = ? AND active = ?", ownerID, true))
}

func (r *GormEndpointRepo) list(_ context.Context, query *gorm.DB) ([]domain.Endpoint, error) {
	var models []EndpointModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	endpoints := make([]domain.Endpoint, 0, len(models))
	for i := range models {
		endpoints = append(endpoints, *endpointModelToDomain(&models[i]))
	}
	return endpoints, nil
}

func (r *GormEndpointRepo) RecordDispatch(ctx context.Context, id string, success bool) error {
	value := gorm.Expr("failure_count + 1")
	if success {
		value = gorm.Expr("0")
	}

	result := r.db.WithContext(ctx).
		Model(&EndpointModel{}).
		Where("id = ?", id).
		UpdateColumn("failure_count", value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
