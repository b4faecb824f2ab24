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

type CursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Load reads the cursor for a purpose. A missing row loads as a fresh cursor
// so the first invocation starts from the beginning.
func (r *CursorRepository) Load(ctx context.Context, purpose string) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	result := r.db.WithContext(ctx).First(&cursor, "purpose = ?", purpose)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return &models.SyncCursor{Purpose: purpose}, nil
		}
		return nil, fmt.Errorf("failed to load cursor: %w", result.Error)
	}
	return &cursor, nil
}

// Save persists the cursor wholesale.
func (r *CursorRepository) Save(ctx context.Context, cursor *models.SyncCursor) error {
	cursor.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "purpose"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"location_cursor", "page_token", "errors_count", "updated_at",
		}),
	}).Create(cursor)
	if result.Error != nil {
		return fmt.Errorf("failed to save cursor: %w", result.Error)
	}
	return nil
}
