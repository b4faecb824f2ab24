package models

import (
	"time"

	"gorm.io/datatypes"
)

// Draft request modes
const (
	DraftModeDraft = "draft"
)

type DraftStatus string

const (
	DraftStatusQueued     DraftStatus = "queued"
	DraftStatusProcessing DraftStatus = "processing"
	DraftStatusGenerating DraftStatus = "generating"
	DraftStatusDraft      DraftStatus = "draft"
	DraftStatusError      DraftStatus = "error"
)

// ActiveDraftStatuses are the states in which a review already has a draft in
// flight (or finished) and must not be enqueued again.
var ActiveDraftStatuses = []DraftStatus{
	DraftStatusDraft,
	DraftStatusQueued,
	DraftStatusProcessing,
	DraftStatusGenerating,
}

// DraftRequest tracks AI draft generation for one review. One active row per
// (review, mode), enforced with upsert-on-conflict. IdentityHash fingerprints
// the brand-voice context used for generation so a changed context can be
// detected and the draft regenerated.
type DraftRequest struct {
	ID           string      `gorm:"column:id;primaryKey"`
	TenantID     string      `gorm:"column:tenant_id"`
	ReviewID     string      `gorm:"column:review_id"`
	Mode         string      `gorm:"column:mode"`
	IdentityHash string      `gorm:"column:identity_hash"`
	Status       DraftStatus `gorm:"column:status"`
	DraftText    *string     `gorm:"column:draft_text"`
	CreatedAt    time.Time   `gorm:"column:created_at"`
	UpdatedAt    time.Time   `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (DraftRequest) TableName() string {
	return "draft_requests"
}

// AI job types
const (
	AiJobTypeReplyDraft = "reply_draft"
)

type AiJobStatus string

const (
	AiJobStatusPending    AiJobStatus = "pending"
	AiJobStatusQueued     AiJobStatus = "queued"
	AiJobStatusProcessing AiJobStatus = "processing"
	AiJobStatusGenerating AiJobStatus = "generating"
	AiJobStatusDone       AiJobStatus = "done"
	AiJobStatusFailed     AiJobStatus = "failed"
)

// AiJob drives the external AI worker. A partial unique index on
// (review_id, type) over non-terminal statuses makes duplicate enqueues fail
// with a conflict, which callers treat as "already running".
type AiJob struct {
	ID          string         `gorm:"column:id;primaryKey"`
	TenantID    string         `gorm:"column:tenant_id"`
	ReviewID    string         `gorm:"column:review_id"`
	Type        string         `gorm:"column:type"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	Status      AiJobStatus    `gorm:"column:status"`
	Attempts    int            `gorm:"column:attempts"`
	LastError   *string        `gorm:"column:last_error"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
	ProcessedAt *time.Time     `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (AiJob) TableName() string {
	return "ai_jobs"
}
