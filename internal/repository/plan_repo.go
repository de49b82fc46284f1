package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"gorm.io/gorm"
)

type PlanRepository interface {
	Create(ctx context.Context, p *domain.Plan) error
	GetByID(ctx context.Context, id string) (*domain.Plan, error)
	Update(ctx context.Context, p *domain.Plan) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Plan, error)
	// ListDue returns active plans whose next due date falls on day.
	ListDue(ctx context.Context, day time.Time) ([]domain.Plan, error)
	// ListFailedDue returns active plans due on or before day whose last attempt failed with budget left.
	ListFailedDue(ctx context.Context, day time.Time, maxFailures int) ([]domain.Plan, error)
}

type GormPlanRepo struct {
	db *gorm.DB
}

func NewGormPlanRepo(db *gorm.DB) *GormPlanRepo {
	return &GormPlanRepo{db: db}
}

func (r *GormPlanRepo) Create(ctx context.Context, p *domain.Plan) error {
	if p.Version == 0 {
		p.Version = 1
	}
	return r.db.WithContext(ctx).Create(planModelFromDomain(p)).Error
}

func (r *GormPlanRepo) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	var model PlanModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return planModelToDomain(&model), nil
}

func (r *GormPlanRepo) Update(ctx context.Context, p *domain.Plan) error {
	expected := p.Version
	model := planModelFromDomain(p)
	model.Version = expected + 1

	if err := updateVersioned(r.db.WithContext(ctx), model, p.ID, expected); err != nil {
		return err
	}
	p.Version = model.Version
	return nil
}

func (r *GormPlanRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Plan, error) {
	return r.find(r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC"))
}

func (r *GormPlanRepo) ListDue(ctx context.Context, day time.Time) ([]domain.Plan, error) {
	from, to := dayBounds(day)
	return r.find(r.db.WithContext(ctx).
		Where("status = ? AND next_due_date >= ? AND next_due_date < ?", domain.PlanStatusActive, from, to).
		Order("created_at ASC"))
}

func (r *GormPlanRepo) ListFailedDue(ctx context.Context, day time.Time, maxFailures int) ([]domain.Plan, error) {
	_, to := dayBounds(day)
	return r.find(r.db.WithContext(ctx).
		Where("status = ? AND next_due_date < ?", domain.PlanStatusActive, to).
		Where("last_outcome = ? AND consecutive_failures > 0 AND consecutive_failures < ?", domain.ExecutionOutcomeFailure.String(), maxFailures).
		Order("created_at ASC"))
}

func (r *GormPlanRepo) find(query *gorm.DB) ([]domain.Plan, error) {
	var models []PlanModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	plans := make([]domain.Plan, 0, len(models))
	for i := range models {
		plans = append(plans, *planModelToDomain(&models[i]))
	}
	return plans, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	from := domain.DateOf(day)
	return from, from.AddDate(0, 0, 1)
}
