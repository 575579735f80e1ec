package repository

import (
	"context"
	"time"

	"chatkit-api/internal/models"
	"chatkit-api/internal/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepository interface {
	GetByThreadID(ctx context.Context, threadID string) (*models.Conversation, error)
	Save(ctx context.Context, threadID string, messages []byte) error
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) GetByThreadID(ctx context.Context, threadID string) (*models.Conversation, error) {
	var conversation models.Conversation
	result := r.db.WithContext(ctx).First(&conversation, "thread_id = ?", threadID)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get conversation")
	}

	return &conversation, nil
}

// Save upserts the full turn history for a thread. Interleaved writers are
// not coordinated; the last write wins.
func (r *conversationRepository) Save(ctx context.Context, threadID string, messages []byte) error {
	conversation := models.Conversation{
		ThreadID:  threadID,
		Messages:  messages,
		UpdatedAt: time.Now(),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages", "updated_at"}),
	}).Create(&conversation).Error

	if err != nil {
		return errors.Wrap(err, "failed to save conversation")
	}

	return nil
}
