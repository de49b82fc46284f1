package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"gorm.io/gorm"
)

type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	Update(ctx context.Context, d *domain.Delivery) error
	ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]domain.Delivery, error)
	// ListRetryable returns failed deliveries of an endpoint that still have attempts left.
	ListRetryable(ctx context.Context, endpointID string, maxRetries int) ([]domain.Delivery, error)
	// GetDueForRetry returns retrying deliveries whose next_retry_at has passed.
	GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.Delivery, error)
	// GetStalePending returns pending deliveries created before createdBefore, oldest first.
	GetStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Delivery, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	if d.Version == 0 {
		d.Version = 1
	}
	return r.db.WithContext(ctx).Create(deliveryModelFromDomain(d)).Error
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) Update(ctx context.Context, d *domain.Delivery) error {
	expected := d.Version
	model := deliveryModelFromDomain(d)
	model.Version = expected + 1

	if err := updateVersioned(r.db.WithContext(ctx), model, d.ID, expected); err != nil {
		return err
	}
	d.Version = model.Version
	return nil
}

func (r *GormDeliveryRepo) ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]domain.Delivery, error) {
	return r.find(r.db.WithContext(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(clampLimit(limit)))
}

func (r *GormDeliveryRepo) ListRetryable(ctx context.Context, endpointID string, maxRetries int) ([]domain.Delivery, error) {
	return r.find(r.db.WithContext(ctx).
		Where("endpoint_id = ? AND status = ? AND attempt_count < ?", endpointID, domain.DeliveryStatusFailed, maxRetries).
		Order("created_at ASC"))
}

func (r *GormDeliveryRepo) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.Delivery, error) {
	return r.find(r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.DeliveryStatusRetrying, now.UTC()).
		Order("next_retry_at ASC").
		Limit(clampLimit(limit)))
}

func (r *GormDeliveryRepo) GetStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Delivery, error) {
	return r.find(r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.DeliveryStatusPending, createdBefore.UTC()).
		Order("created_at ASC").
		Limit(clampLimit(limit)))
}

func (r *GormDeliveryRepo) find(query *gorm.DB) ([]domain.Delivery, error) {
	var models []DeliveryModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}
