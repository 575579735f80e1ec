package services

import (
	"context"
	"time"

	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"
	"chatkit-api/internal/repository"

	"github.com/google/uuid"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 500
)

// UsageService is the append-only token-accounting ledger. Entries are never
// mutated after creation; the retention purge is the only delete path.
type UsageService interface {
	Record(ctx context.Context, entry *models.UsageLog) (uint, error)
	EntriesForUser(ctx context.Context, userID uuid.UUID, model string, limit, offset int) ([]models.UsageLog, error)
	AggregateTotals(ctx context.Context, userID uuid.UUID, model string) (*repository.TokenTotals, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

type usageService struct {
	usageRepo repository.UsageLogRepository
}

func NewUsageService(usageRepo repository.UsageLogRepository) UsageService {
	return &usageService{usageRepo: usageRepo}
}

func (s *usageService) Record(ctx context.Context, entry *models.UsageLog) (uint, error) {
	if entry.UserID == uuid.Nil || entry.MainCallID == "" || entry.NodeCallID == "" {
		return 0, errors.ErrInvalidInput
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := s.usageRepo.Create(ctx, entry); err != nil {
		return 0, err
	}

	return entry.ID, nil
}

func (s *usageService) EntriesForUser(ctx context.Context, userID uuid.UUID, model string, limit, offset int) ([]models.UsageLog, error) {
	if limit <= 0 {
		limit = defaultEntryLimit
	}
	if limit > maxEntryLimit {
		limit = maxEntryLimit
	}
	if offset < 0 {
		offset = 0
	}

	return s.usageRepo.ListByUser(ctx, userID, model, limit, offset)
}

func (s *usageService) AggregateTotals(ctx context.Context, userID uuid.UUID, model string) (*repository.TokenTotals, error) {
	return s.usageRepo.AggregateTotals(ctx, userID, model)
}

func (s *usageService) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, errors.ErrInvalidInput
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	return s.usageRepo.PurgeOlderThan(ctx, cutoff)
}
