package models

import "time"

// Location is a provider business location owned by a tenant. The natural key
// is (tenant_id, location_ref); AccountRef and LocationRef together form the
// provider resource path used when listing reviews.
type Location struct {
	ID           string     `gorm:"column:id;primaryKey"`
	TenantID     string     `gorm:"column:tenant_id"`
	AccountRef   string     `gorm:"column:account_ref"`
	LocationRef  string     `gorm:"column:location_ref"`
	Title        string     `gorm:"column:title"`
	Latitude     *float64   `gorm:"column:latitude"`
	Longitude    *float64   `gorm:"column:longitude"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Location) TableName() string {
	return "locations"
}
