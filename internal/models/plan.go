package models

import (
	"time"
)

// DefaultPlanName is the plan new registrations are attached to. It must
// exist before any registration can succeed.
const DefaultPlanName = "Free"

// Plan is a named rate-limit tier. QueryLimit queries are allowed per
// QueryWindowHours sliding window.
type Plan struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	Name             string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description      string    `gorm:"type:varchar(500)" json:"description,omitempty"`
	QueryLimit       int       `gorm:"not null" json:"query_limit"`
	QueryWindowHours int       `gorm:"not null" json:"query_window_hours"`
	IsActive         bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Plan) TableName() string {
	return "plans"
}
