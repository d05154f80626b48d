package models

import (
	"time"
)

// PublicationStatus is the lifecycle state of a publication job.
// PENDING and ERROR are the only rest states; UPLOADING marks a job
// claimed by a worker and must never survive a worker pass.
type PublicationStatus string

const (
	StatusPending   PublicationStatus = "PENDING"
	StatusUploading PublicationStatus = "UPLOADING"
	StatusPublished PublicationStatus = "PUBLISHED"
	StatusError     PublicationStatus = "ERROR"
)

// PublicationPlatform identifies the destination+format pair of a job.
type PublicationPlatform string

const (
	PlatformInstagramFeed PublicationPlatform = "instagram_feed"
	PlatformInstagramReel PublicationPlatform = "instagram_reel"
	PlatformFacebookFeed  PublicationPlatform = "facebook_feed"
	PlatformFacebookReel  PublicationPlatform = "facebook_reel"
)

// Provider is the external publishing service family behind a platform.
type Provider string

const ProviderMeta Provider = "meta"

// ProviderFor maps a platform to its provider. All current platforms
// publish through the Meta Graph API.
func ProviderFor(platform PublicationPlatform) Provider {
	return ProviderMeta
}

// PublicationJob is one unit of publishing work. Jobs are created by the
// back-office CRUD layer in PENDING state and mutated exclusively by the
// worker thereafter.
type PublicationJob struct {
	ID         string              `gorm:"primaryKey;size:36" json:"id"`
	AgencyID   string              `gorm:"not null;index;size:36" json:"agency_id"`
	PropertyID string              `gorm:"not null;size:36" json:"property_id"`
	Platform   PublicationPlatform `gorm:"not null;size:50" json:"platform"`

	Title     string      `gorm:"size:500" json:"title"`
	Caption   string      `gorm:"type:text" json:"caption"`
	MediaURLs StringArray `gorm:"type:text[]" json:"media_urls"`

	Status      PublicationStatus `gorm:"size:50;default:'PENDING';index:idx_jobs_due,priority:1" json:"status"`
	ScheduledAt *time.Time        `gorm:"index:idx_jobs_due,priority:2" json:"scheduled_at"`
	NextRetryAt *time.Time        `json:"next_retry_at"`
	Retries     int               `gorm:"default:0" json:"retries"`
	MaxRetries  int               `gorm:"default:3" json:"max_retries"`

	PostID    string `gorm:"size:255" json:"post_id"`
	MediaID   string `gorm:"size:255" json:"media_id"`
	ErrorLog  string `gorm:"type:text" json:"error_log"`
	ErrorCode string `gorm:"size:50" json:"error_code"`

	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
