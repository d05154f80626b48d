package models

import (
	"time"
)

// MetaConnection holds the per-agency Meta credentials. Tokens stay
// server-side only and are never serialized or logged.
type MetaConnection struct {
	ID       string   `gorm:"primaryKey;size:36" json:"id"`
	AgencyID string   `gorm:"not null;index;size:36" json:"agency_id"`
	Provider Provider `gorm:"not null;size:50;default:'meta'" json:"provider"`

	UserAccessToken      string `gorm:"type:text" json:"-"`
	PageAccessToken      string `gorm:"type:text" json:"-"`
	InstagramAccessToken string `gorm:"type:text" json:"-"`

	FacebookPageID     string `gorm:"size:255" json:"facebook_page_id"`
	FacebookPageName   string `gorm:"size:255" json:"facebook_page_name"`
	InstagramAccountID string `gorm:"size:255" json:"instagram_account_id"`
	InstagramUsername  string `gorm:"size:255" json:"instagram_username"`

	Scopes         StringArray `gorm:"type:text[]" json:"scopes"`
	TokenExpiresAt *time.Time  `json:"token_expires_at"`
	IsActive       bool        `gorm:"default:false;index" json:"is_active"`

	ConnectedBy string     `gorm:"size:36" json:"connected_by"`
	ConnectedAt *time.Time `json:"connected_at"`
	LastRefresh *time.Time `json:"last_refresh"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
