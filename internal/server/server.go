// Package server exposes the internal trigger surface: cron-invoked sync and
// draft-preparation endpoints guarded by a shared secret, plus a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reviewkit/sync-worker/internal/drafts"
	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/repository"
	syncengine "github.com/reviewkit/sync-worker/internal/sync"
)

// SyncRunner is the slice of the orchestrator the trigger surface needs.
type SyncRunner interface {
	Run(ctx context.Context, opts syncengine.RunOptions) (*syncengine.RunReport, error)
	DryRun(ctx context.Context) (*syncengine.Plan, error)
}

// DraftPreparer is the slice of the draft pipeline the trigger surface needs.
type DraftPreparer interface {
	PrepareBatch(ctx context.Context, tenantID, locationID, identityHash string) (*drafts.PrepareResult, error)
	EnsureDraft(ctx context.Context, reviewID, identityHash string) (*drafts.EnsureResult, error)
}

// JobEnqueuer creates durable sync jobs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.SyncJob) error
}

type Server struct {
	runner     SyncRunner
	preparer   DraftPreparer
	jobs       JobEnqueuer
	cronSecret string
}

func New(runner SyncRunner, preparer DraftPreparer, jobs JobEnqueuer, cronSecret string) *Server {
	return &Server{
		runner:     runner,
		preparer:   preparer,
		jobs:       jobs,
		cronSecret: cronSecret,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)

	internal := router.Group("/internal", s.requireCronSecret)
	internal.POST("/sync/run", s.handleSyncRun)
	internal.POST("/sync/jobs", s.handleEnqueueJob)
	internal.POST("/drafts/prepare", s.handlePrepareDrafts)
	internal.POST("/drafts/ensure", s.handleEnsureDraft)

	return router
}

// requireCronSecret rejects callers that do not present the shared secret.
func (s *Server) requireCronSecret(c *gin.Context) {
	if c.GetHeader("X-Cron-Secret") != s.cronSecret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleSyncRun triggers one orchestrator invocation. Query parameters:
// force=true bypasses the schedule gate, dry_run=true returns the plan
// without mutating, cursor restarts the sweep after the given location id.
func (s *Server) handleSyncRun(c *gin.Context) {
	if c.Query("dry_run") == "true" {
		plan, err := s.runner.DryRun(c.Request.Context())
		if err != nil {
			logger.WithError(err).Error("Dry run failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, plan)
		return
	}

	opts := syncengine.RunOptions{
		Force:          c.Query("force") == "true",
		CursorOverride: c.Query("cursor"),
	}

	report, err := s.runner.Run(c.Request.Context(), opts)
	if err != nil {
		logger.WithError(err).Error("Sync run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

type enqueueJobRequest struct {
	TenantID   string `json:"tenant_id" binding:"required"`
	AccountRef string `json:"account_ref" binding:"required"`
}

// handleEnqueueJob creates the provider_sync job that imports a tenant's
// location listing. Called once when a connection is established.
func (s *Server) handleEnqueueJob(c *gin.Context) {
	var req enqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := json.Marshal(syncengine.ProviderSyncPayload{AccountRef: req.AccountRef})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job := &models.SyncJob{
		ID:       uuid.New().String(),
		TenantID: req.TenantID,
		Type:     models.JobTypeProviderSync,
		Payload:  datatypes.JSON(payload),
		Status:   models.JobStatusQueued,
		RunAt:    time.Now(),
	}
	if err := s.jobs.Enqueue(c.Request.Context(), job); err != nil {
		logger.WithError(err).Error("Failed to enqueue sync job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job_id": job.ID})
}

type prepareDraftsRequest struct {
	TenantID     string `json:"tenant_id" binding:"required"`
	LocationID   string `json:"location_id" binding:"required"`
	IdentityHash string `json:"identity_hash"`
}

func (s *Server) handlePrepareDrafts(c *gin.Context) {
	var req prepareDraftsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.preparer.PrepareBatch(c.Request.Context(), req.TenantID, req.LocationID, req.IdentityHash)
	if err != nil {
		logger.WithError(err).Error("Draft preparation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type ensureDraftRequest struct {
	ReviewID     string `json:"review_id" binding:"required"`
	IdentityHash string `json:"identity_hash"`
}

func (s *Server) handleEnsureDraft(c *gin.Context) {
	var req ensureDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.preparer.EnsureDraft(c.Request.Context(), req.ReviewID, req.IdentityHash)
	if err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
			return
		}
		logger.WithError(err).Error("Ensure draft failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
