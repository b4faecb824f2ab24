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

var ErrLocationNotFound = errors.New("location not found")

type LocationRepository struct {
	db *gorm.DB
}

func NewLocationRepository(db *gorm.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// GetByID retrieves a location by internal id
func (r *LocationRepository) GetByID(ctx context.Context, id string) (*models.Location, error) {
	var loc models.Location
	result := r.db.WithContext(ctx).First(&loc, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to get location: %w", result.Error)
	}
	return &loc, nil
}

// UpsertBatch writes provider locations idempotently, keyed on
// (tenant_id, location_ref). Re-applying the same page only refreshes
// mutable fields and the sync timestamp.
func (r *LocationRepository) UpsertBatch(ctx context.Context, locations []models.Location) error {
	if len(locations) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "location_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_ref", "title", "latitude", "longitude", "last_synced_at", "updated_at",
		}),
	}).Create(&locations)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert locations: %w", result.Error)
	}
	return nil
}

// ListAfter returns locations in ascending id order, starting strictly after
// the given cursor id. An empty cursor starts from the beginning.
func (r *LocationRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]models.Location, error) {
	var locations []models.Location
	query := r.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	result := query.Find(&locations)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list locations: %w", result.Error)
	}
	return locations, nil
}

// GetByIDs retrieves locations by internal ids, ascending id order.
func (r *LocationRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Location, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var locations []models.Location
	result := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&locations)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get locations: %w", result.Error)
	}
	return locations, nil
}

// TouchSynced stamps a location's last successful review sync.
func (r *LocationRepository) TouchSynced(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Location{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_synced_at": at,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch location: %w", result.Error)
	}
	return nil
}
