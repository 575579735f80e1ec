package services

import (
	"context"
	"sync"
	"testing"

	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"
	"chatkit-api/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsageService struct {
	mu       sync.Mutex
	recorded []*models.UsageLog
	err      error
}

func (s *stubUsageService) Record(ctx context.Context, entry *models.UsageLog) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.recorded = append(s.recorded, entry)
	return uint(len(s.recorded)), nil
}

func (s *stubUsageService) EntriesForUser(ctx context.Context, userID uuid.UUID, model string, limit, offset int) ([]models.UsageLog, error) {
	return nil, nil
}

func (s *stubUsageService) AggregateTotals(ctx context.Context, userID uuid.UUID, model string) (*repository.TokenTotals, error) {
	return &repository.TokenTotals{}, nil
}

func (s *stubUsageService) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

func TestUsageRecorderWritesEntries(t *testing.T) {
	stub := &stubUsageService{}
	recorder := NewUsageRecorder(stub, 8)

	for i := 0; i < 3; i++ {
		recorder.Enqueue(&models.UsageLog{
			UserID:     uuid.New(),
			MainCallID: "parent-1",
			NodeCallID: uuid.NewString(),
		})
	}

	// Close drains the queue before returning
	recorder.Close()

	require.Len(t, stub.recorded, 3)
}

func TestUsageRecorderSwallowsWriteFailures(t *testing.T) {
	stub := &stubUsageService{err: errors.ErrDatabaseError}
	recorder := NewUsageRecorder(stub, 8)

	assert.NotPanics(t, func() {
		recorder.Enqueue(&models.UsageLog{
			UserID:     uuid.New(),
			MainCallID: "parent-1",
			NodeCallID: "node-1",
		})
		recorder.Close()
	})
}

func TestUsageRecorderCloseIsIdempotent(t *testing.T) {
	recorder := NewUsageRecorder(&stubUsageService{}, 8)
	recorder.Close()
	assert.NotPanics(t, recorder.Close)
}
