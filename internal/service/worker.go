package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inmopost/inmopost/internal/config"
	"github.com/inmopost/inmopost/internal/models"
	"github.com/inmopost/inmopost/internal/service/publisher"
)

// Stats aggregates one worker pass. Processed counts the fetched batch;
// Succeeded and Failed count only jobs that were actually locked and
// attempted; Skipped counts lost lock races.
type Stats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// JobStore is the persistence contract the worker needs: filtered
// selects, the conditional lock update, and the finalize transitions.
type JobStore interface {
	FetchDueJobs(ctx context.Context, now time.Time, limit int) ([]models.PublicationJob, error)
	TryLock(ctx context.Context, jobID string, now time.Time) (bool, error)
	MarkPublished(ctx context.Context, jobID string, result *publisher.Result, now time.Time) error
	ScheduleRetry(ctx context.Context, jobID string, retries int, errMsg, errCode string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, retries int, errMsg, errCode string) error
	RecordAudit(ctx context.Context, entry *models.AuditLog) error
}

type jobOutcome int

const (
	outcomeSkipped jobOutcome = iota
	outcomeSucceeded
	outcomeFailed
)

// Worker selects due publication jobs and drives each through lock,
// credential resolution, publish and finalize. One RunOnce call runs to
// completion; overlapping calls are safe because the conditional lock is
// the only claim mechanism.
type Worker struct {
	store      JobStore
	resolver   ConnectionResolver
	publishers map[models.PublicationPlatform]publisher.Publisher
	backoff    Backoff
	logger     *zap.Logger

	batchSize     int
	maxConcurrent int

	// now is swapped in tests for deterministic retry schedules.
	now func() time.Time
}

func NewWorker(cfg *config.WorkerConfig, store JobStore, resolver ConnectionResolver, publishers []publisher.Publisher, logger *zap.Logger) (*Worker, error) {
	backoff, err := ParseBackoff(cfg.RetryBackoff)
	if err != nil {
		return nil, err
	}

	byPlatform := make(map[models.PublicationPlatform]publisher.Publisher, len(publishers))
	for _, pub := range publishers {
		if _, exists := byPlatform[pub.Platform()]; exists {
			return nil, fmt.Errorf("publisher for platform %s already registered", pub.Platform())
		}
		byPlatform[pub.Platform()] = pub
		logger.Info("Publisher registered", zap.String("platform", string(pub.Platform())))
	}

	return &Worker{
		store:         store,
		resolver:      resolver,
		publishers:    byPlatform,
		backoff:       backoff,
		logger:        logger,
		batchSize:     cfg.BatchSize,
		maxConcurrent: cfg.MaxConcurrent,
		now:           time.Now,
	}, nil
}

// RunOnce processes one batch of due jobs in fixed-size windows of
// maxConcurrent. Windows run sequentially with a barrier between them;
// jobs inside a window run concurrently. Per-job failures are reduced
// into job state and never fail the pass; an unreachable store does.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	jobs, err := w.store.FetchDueJobs(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error("Failed to fetch due jobs", zap.Error(err))
		return Stats{}, fmt.Errorf("failed to fetch due jobs: %w", err)
	}

	if len(jobs) == 0 {
		w.logger.Debug("No pending jobs found")
		return stats, nil
	}

	w.logger.Info("Processing publication jobs", zap.Int("count", len(jobs)))
	stats.Processed = len(jobs)

	var mu sync.Mutex
	for start := 0; start < len(jobs); start += w.maxConcurrent {
		end := start + w.maxConcurrent
		if end > len(jobs) {
			end = len(jobs)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, job := range jobs[start:end] {
			job := job
			g.Go(func() error {
				outcome := w.processJob(gctx, &job)

				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeSucceeded:
					stats.Succeeded++
				case outcomeFailed:
					stats.Failed++
				case outcomeSkipped:
					stats.Skipped++
				}
				return nil
			})
		}
		g.Wait()
	}

	w.logger.Info("Worker pass done",
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// processJob drives one job through the state machine. Every outbound
// call either succeeds or fails the attempt; retries happen only through
// a future pass picking the job up again.
func (w *Worker) processJob(ctx context.Context, job *models.PublicationJob) jobOutcome {
	locked, err := w.store.TryLock(ctx, job.ID, w.now())
	if err != nil {
		w.logger.Warn("Failed to lock job", zap.String("job_id", job.ID), zap.Error(err))
		return outcomeSkipped
	}
	if !locked {
		// Another worker claimed it between fetch and lock.
		w.logger.Debug("Job already locked, skipping", zap.String("job_id", job.ID))
		return outcomeSkipped
	}

	conn, err := w.resolver.Resolve(ctx, job.AgencyID, models.ProviderFor(job.Platform))
	if err != nil {
		// Configuration errors need human reconnection, not time: the
		// job goes terminal without consuming a retry.
		if markErr := w.store.MarkFailed(ctx, job.ID, job.Retries, err.Error(), ""); markErr != nil {
			w.logger.Error("Failed to finalize job", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		w.logger.Info("Job failed on connection resolution",
			zap.String("job_id", job.ID),
			zap.String("agency_id", job.AgencyID),
			zap.Error(err))
		return outcomeFailed
	}

	pub, ok := w.publishers[job.Platform]
	if !ok {
		msg := fmt.Sprintf("no publisher registered for platform %s", job.Platform)
		if markErr := w.store.MarkFailed(ctx, job.ID, job.Retries, msg, ""); markErr != nil {
			w.logger.Error("Failed to finalize job", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		w.logger.Error("Unknown platform", zap.String("job_id", job.ID), zap.String("platform", string(job.Platform)))
		return outcomeFailed
	}

	result, err := pub.Publish(ctx, job, conn)
	if err != nil {
		w.handlePublishFailure(ctx, job, err)
		return outcomeFailed
	}

	now := w.now()
	if err := w.store.MarkPublished(ctx, job.ID, result, now); err != nil {
		w.logger.Error("Failed to mark job published",
			zap.String("job_id", job.ID),
			zap.String("post_id", result.PostID),
			zap.Error(err))
		return outcomeFailed
	}

	w.logger.Info("Job published",
		zap.String("job_id", job.ID),
		zap.String("platform", string(job.Platform)),
		zap.String("post_id", result.PostID))
	return outcomeSucceeded
}

// handlePublishFailure applies the retry policy: back to PENDING with a
// backoff delay while retries remain, terminal ERROR once exhausted. An
// audit entry is written either way.
func (w *Worker) handlePublishFailure(ctx context.Context, job *models.PublicationJob, pubErr error) {
	newRetries := job.Retries + 1
	errCode := errorCode(pubErr)
	now := w.now()

	if newRetries < job.MaxRetries {
		nextRetryAt := now.Add(w.backoff.Delay(newRetries))
		if err := w.store.ScheduleRetry(ctx, job.ID, newRetries, pubErr.Error(), errCode, nextRetryAt); err != nil {
			w.logger.Error("Failed to schedule retry", zap.String("job_id", job.ID), zap.Error(err))
		}
		w.logger.Warn("Job failed, retry scheduled",
			zap.String("job_id", job.ID),
			zap.Int("retries", newRetries),
			zap.Time("next_retry_at", nextRetryAt),
			zap.Error(pubErr))
	} else {
		if err := w.store.MarkFailed(ctx, job.ID, newRetries, pubErr.Error(), errCode); err != nil {
			w.logger.Error("Failed to finalize job", zap.String("job_id", job.ID), zap.Error(err))
		}
		w.logger.Error("Job failed permanently",
			zap.String("job_id", job.ID),
			zap.Int("retries", newRetries),
			zap.Error(pubErr))
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"error":    pubErr.Error(),
		"platform": job.Platform,
		"retries":  newRetries,
	})
	entry := &models.AuditLog{
		AgencyID:   job.AgencyID,
		Action:     "publish",
		EntityType: "publication_job",
		EntityID:   job.ID,
		Detail:     string(detail),
	}
	if err := w.store.RecordAudit(ctx, entry); err != nil {
		w.logger.Error("Failed to record audit entry", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func errorCode(err error) string {
	var coded publisher.CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
