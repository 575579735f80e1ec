package repository

import (
	"context"

	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"

	"gorm.io/gorm"
)

type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, id uint) (*models.Plan, error)
	GetByName(ctx context.Context, name string) (*models.Plan, error)
	List(ctx context.Context, includeInactive bool) ([]*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) error
}

type planRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) Create(ctx context.Context, plan *models.Plan) error {
	result := r.db.WithContext(ctx).Create(plan)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to create plan")
	}
	return nil
}

func (r *planRepository) GetByID(ctx context.Context, id uint) (*models.Plan, error) {
	var plan models.Plan
	result := r.db.WithContext(ctx).First(&plan, "id = ?", id)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get plan by ID")
	}

	return &plan, nil
}

func (r *planRepository) GetByName(ctx context.Context, name string) (*models.Plan, error) {
	var plan models.Plan
	result := r.db.WithContext(ctx).First(&plan, "name = ?", name)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get plan by name")
	}

	return &plan, nil
}

func (r *planRepository) List(ctx context.Context, includeInactive bool) ([]*models.Plan, error) {
	var plans []*models.Plan

	query := r.db.WithContext(ctx)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	err := query.Order("query_limit").Find(&plans).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list plans")
	}

	return plans, nil
}

func (r *planRepository) Update(ctx context.Context, plan *models.Plan) error {
	result := r.db.WithContext(ctx).Model(&models.Plan{}).
		Where("id = ?", plan.ID).
		Updates(map[string]interface{}{
			"name":               plan.Name,
			"description":        plan.Description,
			"query_limit":        plan.QueryLimit,
			"query_window_hours": plan.QueryWindowHours,
			"is_active":          plan.IsActive,
			"updated_at":         plan.UpdatedAt,
		})

	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update plan")
	}

	if result.RowsAffected == 0 {
		return errors.ErrNotFound
	}

	return nil
}
