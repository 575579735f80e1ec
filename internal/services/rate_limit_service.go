package services

import (
	"context"
	"time"

	"chatkit-api/internal/logger"
	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"
	"chatkit-api/internal/repository"

	"github.com/sirupsen/logrus"
)

// QuotaStatus is the outcome of one rate-limit check.
type QuotaStatus struct {
	Allowed     bool   `json:"allowed"`
	Used        int    `json:"used"`
	Remaining   int    `json:"remaining"`
	Limit       int    `json:"limit"`
	WindowHours int    `json:"window_hours"`
	PlanName    string `json:"plan"`
}

// RateLimitService derives "can query now" from the ledger and the user's
// plan. The window is recomputed against the ledger on every check; there is
// no counter state and no reset job, so the answer is always consistent with
// what has actually been recorded.
type RateLimitService interface {
	Check(ctx context.Context, user *models.User, now time.Time) (*QuotaStatus, error)
}

type rateLimitService struct {
	usageRepo   repository.UsageLogRepository
	planService PlanService
}

func NewRateLimitService(usageRepo repository.UsageLogRepository, planService PlanService) RateLimitService {
	return &rateLimitService{
		usageRepo:   usageRepo,
		planService: planService,
	}
}

// Check counts distinct main calls inside the plan window. Several
// node-level ledger rows produced by one user-facing request share a main
// call id and count as a single query. A user whose plan relation is missing
// or misconfigured (non-positive limit or window) is rejected: failing
// closed beats silently granting unlimited queries.
func (s *rateLimitService) Check(ctx context.Context, user *models.User, now time.Time) (*QuotaStatus, error) {
	plan, err := s.planService.GetByID(ctx, user.PlanID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			logger.LogEvent(logrus.WarnLevel, "User has no plan, rejecting query", logrus.Fields{
				"user_id": user.ID,
				"plan_id": user.PlanID,
			})
			return &QuotaStatus{Allowed: false}, nil
		}
		return nil, err
	}

	status := &QuotaStatus{
		Limit:       plan.QueryLimit,
		WindowHours: plan.QueryWindowHours,
		PlanName:    plan.Name,
	}

	if plan.QueryLimit <= 0 || plan.QueryWindowHours <= 0 {
		logger.LogEvent(logrus.WarnLevel, "Misconfigured plan, rejecting query", logrus.Fields{
			"plan":         plan.Name,
			"query_limit":  plan.QueryLimit,
			"window_hours": plan.QueryWindowHours,
		})
		return status, nil
	}

	since := now.Add(-time.Duration(plan.QueryWindowHours) * time.Hour)
	used, err := s.usageRepo.CountDistinctMainCalls(ctx, user.ID, since)
	if err != nil {
		return nil, err
	}

	status.Used = int(used)
	status.Allowed = status.Used < plan.QueryLimit
	status.Remaining = plan.QueryLimit - status.Used
	if status.Remaining < 0 {
		status.Remaining = 0
	}

	return status, nil
}
