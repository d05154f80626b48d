package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inmopost/inmopost/internal/config"
)

// Scheduler is an optional in-process trigger for single-binary
// deployments: it invokes one worker pass on a fixed interval. External
// cron hitting the trigger route does the same job; all scheduling
// decisions live in the worker either way.
type Scheduler struct {
	config *config.WorkerConfig
	logger *zap.Logger
	worker *Worker
	ticker *time.Ticker
	stopCh chan struct{}
}

func NewScheduler(cfg *config.WorkerConfig, logger *zap.Logger, worker *Worker) *Scheduler {
	return &Scheduler{
		config: cfg,
		logger: logger,
		worker: worker,
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Worker poll loop is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.PollInterval)
	if err != nil {
		s.logger.Error("Invalid poll interval", zap.String("interval", s.config.PollInterval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting worker poll loop", zap.String("poll_interval", s.config.PollInterval))

	s.ticker = time.NewTicker(interval)

	// Run first pass immediately
	go func() {
		s.logger.Info("Running initial worker pass")
		s.runPass(ctx)
	}()

	// Start periodic passes
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runPass(ctx)
			case <-s.stopCh:
				s.logger.Info("Worker poll loop stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Worker poll loop context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Worker poll loop shutdown completed")
}

func (s *Scheduler) runPass(ctx context.Context) {
	start := time.Now()
	stats, err := s.worker.RunOnce(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Worker pass failed",
			zap.Error(err),
			zap.Duration("duration", duration))
		return
	}

	if stats.Processed > 0 {
		s.logger.Info("Worker pass completed",
			zap.Int("processed", stats.Processed),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Int("skipped", stats.Skipped),
			zap.Duration("duration", duration))
	}
}
