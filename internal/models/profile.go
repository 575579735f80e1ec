package models

import (
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	TimeZone    string    `gorm:"type:varchar(200)" json:"time_zone,omitempty"`
	Language    string    `gorm:"type:varchar(50);not null;default:'en'" json:"language"`
	Preferences string    `gorm:"type:text" json:"preferences,omitempty"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
