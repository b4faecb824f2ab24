package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reviewkit/sync-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatusRepository struct {
	db *gorm.DB
}

func NewStatusRepository(db *gorm.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Get retrieves the status record for a (tenant, location, phase) scope.
// Returns nil without error when no record exists yet.
func (r *StatusRepository) Get(ctx context.Context, tenantID, locationID string, phase models.SyncPhase) (*models.SyncStatus, error) {
	var status models.SyncStatus
	result := r.db.WithContext(ctx).
		First(&status, "tenant_id = ? AND location_id = ? AND phase = ?", tenantID, locationID, phase)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync status: %w", result.Error)
	}
	return &status, nil
}

// Set overwrites the status record wholesale for its scope. These records are
// last-write-wins by design; dashboards only ever read the latest state.
func (r *StatusRepository) Set(ctx context.Context, status *models.SyncStatus) error {
	now := time.Now()
	if status.ID == "" {
		status.ID = uuid.New().String()
		status.CreatedAt = now
	}
	status.UpdatedAt = now

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "location_id"}, {Name: "phase"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "last_run_at", "scanned", "upserted", "errors_count", "last_error", "updated_at",
		}),
	}).Create(status)
	if result.Error != nil {
		return fmt.Errorf("failed to set sync status: %w", result.Error)
	}
	return nil
}
