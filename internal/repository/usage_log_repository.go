package repository

import (
	"context"
	"time"

	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenTotals is the aggregate over a set of usage rows. Totals are always
// recomputed from the rows themselves; no running counters are persisted.
type TokenTotals struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Count        int64 `json:"count"`
}

type UsageLogRepository interface {
	Create(ctx context.Context, entry *models.UsageLog) error
	ListByUser(ctx context.Context, userID uuid.UUID, model string, limit, offset int) ([]models.UsageLog, error)
	AggregateTotals(ctx context.Context, userID uuid.UUID, model string) (*TokenTotals, error)
	CountDistinctMainCalls(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type usageLogRepository struct {
	db *gorm.DB
}

func NewUsageLogRepository(db *gorm.DB) UsageLogRepository {
	return &usageLogRepository{db: db}
}

func (r *usageLogRepository) Create(ctx context.Context, entry *models.UsageLog) error {
	result := r.db.WithContext(ctx).Create(entry)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to create usage log")
	}
	return nil
}

func (r *usageLogRepository) ListByUser(ctx context.Context, userID uuid.UUID, model string, limit, offset int) ([]models.UsageLog, error) {
	var entries []models.UsageLog

	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if model != "" {
		query = query.Where("model = ?", model)
	}

	err := query.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error

	if err != nil {
		return nil, errors.Wrap(err, "failed to list usage logs")
	}

	return entries, nil
}

func (r *usageLogRepository) AggregateTotals(ctx context.Context, userID uuid.UUID, model string) (*TokenTotals, error) {
	var totals TokenTotals

	query := r.db.WithContext(ctx).Model(&models.UsageLog{}).Where("user_id = ?", userID)
	if model != "" {
		query = query.Where("model = ?", model)
	}

	err := query.Select(
		"COALESCE(SUM(input_tokens), 0) AS input_tokens, " +
			"COALESCE(SUM(output_tokens), 0) AS output_tokens, " +
			"COALESCE(SUM(total_tokens), 0) AS total_tokens, " +
			"COUNT(*) AS count").
		Scan(&totals).Error

	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate usage totals")
	}

	return &totals, nil
}

// CountDistinctMainCalls counts user-facing requests inside the window. A
// single request may write several node-level rows; they share one
// main_call_id and count once.
func (r *usageLogRepository) CountDistinctMainCalls(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).Model(&models.UsageLog{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Distinct("main_call_id").
		Count(&count).Error

	if err != nil {
		return 0, errors.Wrap(err, "failed to count distinct main calls")
	}

	return count, nil
}

func (r *usageLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.UsageLog{})

	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to purge usage logs")
	}

	return result.RowsAffected, nil
}
