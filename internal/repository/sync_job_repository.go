package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewkit/sync-worker/internal/models"
	"gorm.io/gorm"
)

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Enqueue creates a new job in queued state
func (r *SyncJobRepository) Enqueue(ctx context.Context, job *models.SyncJob) error {
	result := r.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to enqueue job: %w", result.Error)
	}
	return nil
}

// Claim atomically marks up to max due queued jobs as running and returns
// them. SKIP LOCKED keeps concurrent claimers from ever seeing the same row.
func (r *SyncJobRepository) Claim(ctx context.Context, max int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).Raw(`
		UPDATE sync_jobs
		SET status = ?, attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = ? AND run_at <= now()
			ORDER BY run_at ASC, created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, type, payload, status, attempts, last_error,
		          run_at, created_at, updated_at, processed_at
	`, models.JobStatusRunning, models.JobStatusQueued, max).Scan(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", result.Error)
	}
	return jobs, nil
}

// ListClaimable previews due queued jobs without claiming them. Used by dry
// runs.
func (r *SyncJobRepository) ListClaimable(ctx context.Context, max int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ? AND run_at <= now()", models.JobStatusQueued).
		Order("run_at ASC, created_at ASC").
		Limit(max).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list claimable jobs: %w", result.Error)
	}
	return jobs, nil
}

// RunningTenants returns the tenants that currently have a running job,
// excluding the given job ids (the current claim batch).
func (r *SyncJobRepository) RunningTenants(ctx context.Context, excludeJobIDs []string) (map[string]bool, error) {
	var tenants []string
	query := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Distinct("tenant_id").
		Where("status = ?", models.JobStatusRunning)
	if len(excludeJobIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeJobIDs)
	}
	result := query.Pluck("tenant_id", &tenants)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query running tenants: %w", result.Error)
	}

	active := make(map[string]bool, len(tenants))
	for _, t := range tenants {
		active[t] = true
	}
	return active, nil
}

// Requeue pushes a claimed job back to queued with a delayed run_at.
func (r *SyncJobRepository) Requeue(ctx context.Context, jobID string, runAt time.Time, lastError string) error {
	return r.update(ctx, jobID, map[string]interface{}{
		"status":     models.JobStatusQueued,
		"run_at":     runAt,
		"last_error": lastError,
		"updated_at": time.Now(),
	})
}

// MarkDone completes a job and clears its last error.
func (r *SyncJobRepository) MarkDone(ctx context.Context, jobID string) error {
	now := time.Now()
	return r.update(ctx, jobID, map[string]interface{}{
		"status":       models.JobStatusDone,
		"last_error":   nil,
		"processed_at": &now,
		"updated_at":   now,
	})
}

// MarkFailed fails a job with a human-readable error.
func (r *SyncJobRepository) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	now := time.Now()
	return r.update(ctx, jobID, map[string]interface{}{
		"status":       models.JobStatusFailed,
		"last_error":   lastError,
		"processed_at": &now,
		"updated_at":   now,
	})
}

func (r *SyncJobRepository) update(ctx context.Context, jobID string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}
