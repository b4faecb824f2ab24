package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reviewkit/sync-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateAiJob reports that an active job already exists for the review.
// Callers treat this as "already in flight", not as a failure.
var ErrDuplicateAiJob = errors.New("ai job already in flight")

type DraftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// GetRequest retrieves the draft request for a (review, mode) pair. Returns
// nil without error when none exists.
func (r *DraftRepository) GetRequest(ctx context.Context, reviewID, mode string) (*models.DraftRequest, error) {
	var req models.DraftRequest
	result := r.db.WithContext(ctx).
		First(&req, "review_id = ? AND mode = ?", reviewID, mode)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get draft request: %w", result.Error)
	}
	return &req, nil
}

// UpsertQueued writes the draft request to queued state, keyed on
// (review_id, mode). A pre-existing row is reset to queued with the new
// identity hash.
func (r *DraftRepository) UpsertQueued(ctx context.Context, req *models.DraftRequest) error {
	req.Status = models.DraftStatusQueued
	req.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "review_id"}, {Name: "mode"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"identity_hash", "status", "updated_at",
		}),
	}).Create(req)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert draft request: %w", result.Error)
	}
	return nil
}

// SetRequestStatus moves a draft request to the given status.
func (r *DraftRepository) SetRequestStatus(ctx context.Context, reviewID, mode string, status models.DraftStatus) error {
	result := r.db.WithContext(ctx).Model(&models.DraftRequest{}).
		Where("review_id = ? AND mode = ?", reviewID, mode).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update draft request: %w", result.Error)
	}
	return nil
}

// InsertAiJob creates a job for the external AI worker. A conflict with the
// active-job uniqueness constraint maps to ErrDuplicateAiJob.
func (r *DraftRepository) InsertAiJob(ctx context.Context, job *models.AiJob) error {
	result := r.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateAiJob
		}
		return fmt.Errorf("failed to insert ai job: %w", result.Error)
	}
	return nil
}

// HasActiveAiJob reports whether a non-terminal job exists for the review.
func (r *DraftRepository) HasActiveAiJob(ctx context.Context, reviewID, jobType string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.AiJob{}).
		Where("review_id = ? AND type = ? AND status NOT IN ?",
			reviewID, jobType, []models.AiJobStatus{models.AiJobStatusDone, models.AiJobStatusFailed}).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check ai jobs: %w", result.Error)
	}
	return count > 0, nil
}
