package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ElevationCode is a short-lived single-use code that upgrades a session to elevated
type ElevationCode struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index:idx_elevation_user_live"`
	Code       string     `json:"-" gorm:"type:varchar(6);not null"`
	ExpiresAt  time.Time  `json:"expires_at" gorm:"not null;index:idx_elevation_user_live"`
	Consumed   bool       `json:"consumed" gorm:"not null;default:false"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (ElevationCode) TableName() string {
	return "elevation_codes"
}

func (e *ElevationCode) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// IsLive reports whether the code can still be verified at now
func (e *ElevationCode) IsLive(now time.Time) bool {
	return !e.Consumed && now.Before(e.ExpiresAt)
}
