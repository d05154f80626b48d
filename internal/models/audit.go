package models

import (
	"time"
)

// AuditLog records side effects visible to the back-office audit trail.
// The worker writes one entry per failed publish attempt.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AgencyID   string    `gorm:"not null;index;size:36" json:"agency_id"`
	Action     string    `gorm:"not null;size:100" json:"action"`
	EntityType string    `gorm:"not null;size:100" json:"entity_type"`
	EntityID   string    `gorm:"size:36;index" json:"entity_id"`
	Detail     string    `gorm:"type:jsonb" json:"detail"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
