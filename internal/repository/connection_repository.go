package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reviewkit/sync-worker/internal/models"
	"gorm.io/gorm"
)

var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// GetByTenant retrieves the tenant's connection for a provider
func (r *ConnectionRepository) GetByTenant(ctx context.Context, tenantID, provider string) (*models.Connection, error) {
	var conn models.Connection
	result := r.db.WithContext(ctx).
		First(&conn, "tenant_id = ? AND provider = ?", tenantID, provider)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", result.Error)
	}
	return &conn, nil
}

// UpdateTokens updates the access token, refresh token and expiry after a refresh
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id string, accessToken, refreshToken string, expiry time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_expiry":  expiry,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// Delete removes a connection outright. Used when the provider reports the
// grant revoked; the tenant must re-authorize to get a new row.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Connection{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete connection: %w", result.Error)
	}
	return nil
}
