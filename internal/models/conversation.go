package models

import (
	"time"
)

// Conversation is the checkpoint row for one chat thread. Messages holds the
// serialized turn history. Concurrent writes on the same thread are not
// guarded; last write wins.
type Conversation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ThreadID  string    `gorm:"type:varchar(200);uniqueIndex;not null" json:"thread_id"`
	Messages  []byte    `gorm:"type:jsonb" json:"messages"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}
