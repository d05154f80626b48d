package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inmopost/inmopost/internal/models"
	"github.com/inmopost/inmopost/internal/service/publisher"
)

// Store is the gorm-backed persistence layer for publication jobs and
// their audit trail. The worker consumes it through the JobStore
// interface; the HTTP layer uses it directly.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FetchDueJobs returns up to limit jobs matching the due predicate:
// PENDING, past (or without) scheduled_at and next_retry_at, and with
// retries left. Unscheduled jobs sort first so the oldest intent wins.
func (s *Store) FetchDueJobs(ctx context.Context, now time.Time, limit int) ([]models.PublicationJob, error) {
	var jobs []models.PublicationJob
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Where("scheduled_at IS NULL OR scheduled_at <= ?", now).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Where("retries < max_retries").
		Order("scheduled_at ASC NULLS FIRST").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due jobs: %w", err)
	}
	return jobs, nil
}

// TryLock claims a job through a conditional status update. The WHERE
// clause on status is the only concurrency control in the system: of two
// concurrent claims for the same PENDING job exactly one matches a row.
func (s *Store) TryLock(ctx context.Context, jobID string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.PublicationJob{}).
		Where("id = ? AND status = ?", jobID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":     models.StatusUploading,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to lock job %s: %w", jobID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkPublished finalizes a successful publish, stamping the outcome
// identifiers and clearing any error from earlier attempts.
func (s *Store) MarkPublished(ctx context.Context, jobID string, result *publisher.Result, now time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.PublicationJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.StatusPublished,
			"published_at": now,
			"post_id":      result.PostID,
			"media_id":     result.MediaID,
			"error_log":    "",
			"error_code":   "",
			"updated_at":   now,
		}).Error
}

// ScheduleRetry returns a failed job to PENDING with its retry count and
// next attempt time updated.
func (s *Store) ScheduleRetry(ctx context.Context, jobID string, retries int, errMsg, errCode string, nextRetryAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.PublicationJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        models.StatusPending,
			"retries":       retries,
			"error_log":     errMsg,
			"error_code":    errCode,
			"next_retry_at": nextRetryAt,
			"updated_at":    time.Now(),
		}).Error
}

// MarkFailed moves a job to terminal ERROR. next_retry_at is cleared so
// the job never matches the due predicate again.
func (s *Store) MarkFailed(ctx context.Context, jobID string, retries int, errMsg, errCode string) error {
	return s.db.WithContext(ctx).
		Model(&models.PublicationJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        models.StatusError,
			"retries":       retries,
			"error_log":     errMsg,
			"error_code":    errCode,
			"next_retry_at": nil,
			"updated_at":    time.Now(),
		}).Error
}

func (s *Store) RecordAudit(ctx context.Context, entry *models.AuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// CreateJob persists a new job in PENDING state. Used by the operator
// API; the worker never creates jobs.
func (s *Store) CreateJob(ctx context.Context, job *models.PublicationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*models.PublicationJob, error) {
	var job models.PublicationJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, status models.PublicationStatus, limit int) ([]models.PublicationJob, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var jobs []models.PublicationJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByStatus returns job counts grouped by status for the operator
// stats endpoint.
func (s *Store) CountByStatus(ctx context.Context) (map[models.PublicationStatus]int64, error) {
	type row struct {
		Status models.PublicationStatus
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.PublicationJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.PublicationStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
