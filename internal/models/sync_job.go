package models

import (
	"time"

	"gorm.io/datatypes"
)

type SyncJobStatus string

const (
	JobStatusQueued  SyncJobStatus = "queued"
	JobStatusRunning SyncJobStatus = "running"
	JobStatusDone    SyncJobStatus = "done"
	JobStatusFailed  SyncJobStatus = "failed"
)

// Job type constants
const (
	JobTypeProviderSync = "provider_sync"
)

// LastErrorRateLimited marks a job that was requeued because its tenant
// already had a job in flight.
const LastErrorRateLimited = "rate_limited"

// SyncJob is a durable, claimable work item. Claiming flips status to running
// atomically; a row is visible to at most one concurrent claimer. RunAt gates
// visibility so contended jobs can be requeued with a delay.
type SyncJob struct {
	ID          string         `gorm:"column:id;primaryKey"`
	TenantID    string         `gorm:"column:tenant_id"`
	Type        string         `gorm:"column:type"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	Status      SyncJobStatus  `gorm:"column:status"`
	Attempts    int            `gorm:"column:attempts"`
	LastError   *string        `gorm:"column:last_error"`
	RunAt       time.Time      `gorm:"column:run_at"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
	ProcessedAt *time.Time     `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_jobs"
}
