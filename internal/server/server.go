package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inmopost/inmopost/internal/config"
	"github.com/inmopost/inmopost/internal/models"
	"github.com/inmopost/inmopost/internal/service"
)

// WorkerRunner is the trigger-facing slice of the worker.
type WorkerRunner interface {
	RunOnce(ctx context.Context) (service.Stats, error)
}

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Store     *service.Store
	Runner    WorkerRunner
	Scheduler *service.Scheduler
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	worker, err := service.NewPublicationWorker(cfg, db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker: %w", err)
	}
	scheduler := service.NewScheduler(&cfg.Worker, logger, worker)

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:    cfg,
		DB:        db,
		Router:    router,
		Logger:    logger,
		Store:     service.NewStore(db),
		Runner:    worker,
		Scheduler: scheduler,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		// Worker trigger; invocation cadence is the caller's concern
		api.POST("/worker/run", s.requireCronSecret, s.handleRunWorker)

		// Operator surface over the job store
		jobs := api.Group("/jobs")
		{
			jobs.GET("", s.handleListJobs)
			jobs.POST("", s.handleCreateJob)
			jobs.GET("/stats", s.handleJobStats)
			jobs.GET("/:id", s.handleGetJob)
		}
	}
}

// requireCronSecret rejects trigger calls without the configured bearer
// secret. An empty secret disables the check (local development).
func (s *Server) requireCronSecret(c *gin.Context) {
	secret := s.Config.Worker.CronSecret
	if secret == "" {
		return
	}

	header := c.GetHeader("Authorization")
	expected := "Bearer " + secret
	if subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
}

func (s *Server) handleRunWorker(c *gin.Context) {
	stats, err := s.Runner.RunOnce(c.Request.Context())
	if err != nil {
		s.Logger.Error("Worker run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"processed": stats.Processed,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	})
}

type createJobRequest struct {
	AgencyID    string     `json:"agency_id" binding:"required"`
	PropertyID  string     `json:"property_id" binding:"required"`
	Platform    string     `json:"platform" binding:"required"`
	Title       string     `json:"title"`
	Caption     string     `json:"caption"`
	MediaURLs   []string   `json:"media_urls"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	MaxRetries  int        `json:"max_retries"`
}

var knownPlatforms = map[models.PublicationPlatform]bool{
	models.PlatformInstagramFeed: true,
	models.PlatformInstagramReel: true,
	models.PlatformFacebookFeed:  true,
	models.PlatformFacebookReel:  true,
}

func (s *Server) handleCreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	platform := models.PublicationPlatform(strings.ToLower(req.Platform))
	if !knownPlatforms[platform] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown platform %q", req.Platform)})
		return
	}

	job := &models.PublicationJob{
		AgencyID:    req.AgencyID,
		PropertyID:  req.PropertyID,
		Platform:    platform,
		Title:       req.Title,
		Caption:     req.Caption,
		MediaURLs:   req.MediaURLs,
		ScheduledAt: req.ScheduledAt,
		MaxRetries:  req.MaxRetries,
	}

	if err := s.Store.CreateJob(c.Request.Context(), job); err != nil {
		s.Logger.Error("Failed to create job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	status := models.PublicationStatus(c.Query("status"))

	jobs, err := s.Store.ListJobs(c.Request.Context(), status, limit)
	if err != nil {
		s.Logger.Error("Failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.Store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobStats(c *gin.Context) {
	counts, err := s.Store.CountByStatus(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to count jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (s *Server) Start(ctx context.Context) error {
	// Start the optional in-process trigger loop
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker poll loop: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop the trigger loop first
	s.Scheduler.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
