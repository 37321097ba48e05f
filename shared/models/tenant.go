package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantStatus is the lifecycle state of a tenant workspace
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusArchived  TenantStatus = "archived"
)

// Valid reports whether s is a known lifecycle state
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusActive, TenantStatusTrial, TenantStatusSuspended, TenantStatusArchived:
		return true
	}
	return false
}

// Tenant represents an isolated customer workspace
type Tenant struct {
	ID        uuid.UUID    `json:"id" gorm:"type:uuid;primary_key"`
	Slug      string       `json:"slug" gorm:"type:varchar(63);not null;uniqueIndex"`
	Name      string       `json:"name" gorm:"not null"`
	Status    TenantStatus `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	Plan      string       `json:"plan" gorm:"type:varchar(50);default:'starter'"`
	SeatLimit int          `json:"seat_limit" gorm:"default:5"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// BeforeCreate assigns an id when the caller did not
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsActive checks if the tenant may be acted in
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}
