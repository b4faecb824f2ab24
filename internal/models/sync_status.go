package models

import "time"

type SyncPhase string

const (
	PhaseImport SyncPhase = "import"
	PhaseAi     SyncPhase = "ai"
)

type SyncStatusState string

const (
	SyncStateIdle    SyncStatusState = "idle"
	SyncStateRunning SyncStatusState = "running"
	SyncStateDone    SyncStatusState = "done"
	SyncStateError   SyncStatusState = "error"
)

// SyncStatus is the per-(tenant, location, phase) status record read by
// dashboards. It is overwritten wholesale on each phase transition, not
// appended to; the lifecycle is idle -> running -> done|error.
type SyncStatus struct {
	ID          string          `gorm:"column:id;primaryKey"`
	TenantID    string          `gorm:"column:tenant_id"`
	LocationID  string          `gorm:"column:location_id"`
	Phase       SyncPhase       `gorm:"column:phase"`
	Status      SyncStatusState `gorm:"column:status"`
	LastRunAt   *time.Time      `gorm:"column:last_run_at"`
	Scanned     int             `gorm:"column:scanned"`
	Upserted    int             `gorm:"column:upserted"`
	ErrorsCount int             `gorm:"column:errors_count"`
	LastError   *string         `gorm:"column:last_error"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncStatus) TableName() string {
	return "sync_statuses"
}
