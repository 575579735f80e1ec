package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatkit-api/internal/config"
	"chatkit-api/internal/logger"
	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"
	"chatkit-api/internal/repository"

	"github.com/sirupsen/logrus"
)

const planCacheTTL = 15 * time.Minute

type PlanService interface {
	GetByID(ctx context.Context, id uint) (*models.Plan, error)
	GetByName(ctx context.Context, name string) (*models.Plan, error)
	GetDefault(ctx context.Context) (*models.Plan, error)
	List(ctx context.Context, includeInactive bool) ([]*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) error
	Update(ctx context.Context, plan *models.Plan) error
	SetActive(ctx context.Context, id uint, active bool) (*models.Plan, error)
	EnsureDefaultPlan(ctx context.Context, rateCfg *config.RateLimitConfig) error
}

type planService struct {
	planRepo repository.PlanRepository
	cache    CacheService
}

// NewPlanService returns a plan service. cache may be nil, in which case
// every lookup goes to the database.
func NewPlanService(planRepo repository.PlanRepository, cache CacheService) PlanService {
	return &planService{
		planRepo: planRepo,
		cache:    cache,
	}
}

func planCacheKey(id uint) string {
	return fmt.Sprintf("plan:%d", id)
}

func (s *planService) GetByID(ctx context.Context, id uint) (*models.Plan, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, planCacheKey(id)); err == nil {
			var plan models.Plan
			if err := json.Unmarshal([]byte(cached), &plan); err == nil {
				return &plan, nil
			}
		}
	}

	plan, err := s.planRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, planCacheKey(id), plan, planCacheTTL); err != nil {
			logger.LogEvent(logrus.WarnLevel, "Failed to cache plan", logrus.Fields{
				"plan_id": id,
				"error":   err.Error(),
			})
		}
	}

	return plan, nil
}

func (s *planService) GetByName(ctx context.Context, name string) (*models.Plan, error) {
	return s.planRepo.GetByName(ctx, name)
}

func (s *planService) GetDefault(ctx context.Context) (*models.Plan, error) {
	return s.planRepo.GetByName(ctx, models.DefaultPlanName)
}

func (s *planService) List(ctx context.Context, includeInactive bool) ([]*models.Plan, error) {
	return s.planRepo.List(ctx, includeInactive)
}

func (s *planService) Create(ctx context.Context, plan *models.Plan) error {
	if plan.Name == "" || plan.QueryLimit <= 0 || plan.QueryWindowHours <= 0 {
		return errors.ErrInvalidInput
	}
	return s.planRepo.Create(ctx, plan)
}

func (s *planService) Update(ctx context.Context, plan *models.Plan) error {
	plan.UpdatedAt = time.Now()
	if err := s.planRepo.Update(ctx, plan); err != nil {
		return err
	}
	s.invalidate(ctx, plan.ID)
	return nil
}

func (s *planService) SetActive(ctx context.Context, id uint, active bool) (*models.Plan, error) {
	plan, err := s.planRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	plan.IsActive = active
	plan.UpdatedAt = time.Now()
	if err := s.planRepo.Update(ctx, plan); err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return plan, nil
}

// EnsureDefaultPlan seeds the "Free" plan at startup when missing. Nothing
// else in the system creates it, and registration fails without it.
func (s *planService) EnsureDefaultPlan(ctx context.Context, rateCfg *config.RateLimitConfig) error {
	_, err := s.planRepo.GetByName(ctx, models.DefaultPlanName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	plan := &models.Plan{
		Name:             models.DefaultPlanName,
		Description:      "Default plan assigned on registration",
		QueryLimit:       rateCfg.DefaultQueryLimit,
		QueryWindowHours: rateCfg.DefaultQueryWindowHours,
		IsActive:         true,
	}

	if err := s.planRepo.Create(ctx, plan); err != nil {
		return err
	}

	logger.LogEvent(logrus.InfoLevel, "Seeded default plan", logrus.Fields{
		"plan":         plan.Name,
		"query_limit":  plan.QueryLimit,
		"window_hours": plan.QueryWindowHours,
	})

	return nil
}

func (s *planService) invalidate(ctx context.Context, id uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, planCacheKey(id)); err != nil {
		logger.LogEvent(logrus.WarnLevel, "Failed to invalidate plan cache", logrus.Fields{
			"plan_id": id,
			"error":   err.Error(),
		})
	}
}
