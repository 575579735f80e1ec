package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageLog is one immutable record of an LLM model invocation. MainCallID
// groups every row produced by a single user-facing chat request; NodeCallID
// identifies the individual model call within it. Rows are never updated
// after creation; deletion happens only through the retention purge.
type UsageLog struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	MainCallID   string    `gorm:"type:varchar(200);not null;index" json:"main_call_id"`
	NodeCallID   string    `gorm:"type:varchar(200);not null" json:"node_call_id"`
	Description  string    `gorm:"type:text" json:"description,omitempty"`
	Model        string    `gorm:"type:varchar(200)" json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (UsageLog) TableName() string {
	return "usage_logs"
}
