package models

import "time"

// ProviderGoogle is the only review provider currently supported.
const ProviderGoogle = "google"

// Connection holds the OAuth credentials linking a tenant to a review
// provider. Exactly one active row exists per (tenant, provider); the row is
// deleted outright when the provider reports the grant as revoked, which
// forces the tenant through re-authorization.
type Connection struct {
	ID           string    `gorm:"column:id;primaryKey"`
	TenantID     string    `gorm:"column:tenant_id"`
	Provider     string    `gorm:"column:provider"`
	AccessToken  string    `gorm:"column:access_token"`
	RefreshToken string    `gorm:"column:refresh_token"`
	TokenExpiry  time.Time `gorm:"column:token_expiry"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Connection) TableName() string {
	return "connections"
}
