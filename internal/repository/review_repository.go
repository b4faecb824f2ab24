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

var ErrReviewNotFound = errors.New("review not found")

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// GetByID retrieves a review by internal id
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	result := r.db.WithContext(ctx).First(&review, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", result.Error)
	}
	return &review, nil
}

// GetByNaturalKey retrieves a review by its provider natural key
func (r *ReviewRepository) GetByNaturalKey(ctx context.Context, tenantID, locationID, providerReviewID string) (*models.Review, error) {
	var review models.Review
	result := r.db.WithContext(ctx).
		First(&review, "tenant_id = ? AND location_id = ? AND provider_review_id = ?",
			tenantID, locationID, providerReviewID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", result.Error)
	}
	return &review, nil
}

// Upsert writes a review idempotently against the natural key. Concurrent
// writers resolve through the conflict target instead of erroring.
func (r *ReviewRepository) Upsert(ctx context.Context, review *models.Review) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "location_id"}, {Name: "provider_review_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"rating", "comment", "reviewer_name", "update_time", "last_synced_at",
			"reply_comment", "reply_time", "status", "updated_at",
		}),
	}).Create(review)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert review: %w", result.Error)
	}
	return nil
}

// PriorityLocationIDs returns ids of locations that have recently updated,
// still-unreplied reviews, most recently active first.
func (r *ReviewRepository) PriorityLocationIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var ids []string
	result := r.db.WithContext(ctx).Raw(`
		SELECT location_id
		FROM reviews
		WHERE update_time >= ?
		  AND (reply_comment IS NULL OR reply_comment = '')
		GROUP BY location_id
		ORDER BY MAX(update_time) DESC
		LIMIT ?
	`, since, limit).Scan(&ids)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query priority locations: %w", result.Error)
	}
	return ids, nil
}

// ListByLocationSince returns a location's reviews updated within the lookback
// window, most recent first. The draft pipeline evaluates eligibility per row.
func (r *ReviewRepository) ListByLocationSince(ctx context.Context, tenantID, locationID string, since time.Time, limit int) ([]models.Review, error) {
	var reviews []models.Review
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND location_id = ? AND update_time >= ?", tenantID, locationID, since).
		Order("update_time DESC").
		Limit(limit).
		Find(&reviews)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", result.Error)
	}
	return reviews, nil
}
