package models

import "time"

type ReviewStatus string

const (
	ReviewStatusNew      ReviewStatus = "new"
	ReviewStatusReading  ReviewStatus = "reading"
	ReviewStatusReplied  ReviewStatus = "replied"
	ReviewStatusArchived ReviewStatus = "archived"
)

// Review is a provider review mapped to internal rows. The natural key is
// (tenant_id, location_id, provider_review_id); sync upserts against that key
// and never hard-deletes rows.
type Review struct {
	ID               string       `gorm:"column:id;primaryKey"`
	TenantID         string       `gorm:"column:tenant_id"`
	LocationID       string       `gorm:"column:location_id"`
	ProviderReviewID string       `gorm:"column:provider_review_id"`
	Rating           *int         `gorm:"column:rating"`
	Comment          string       `gorm:"column:comment"`
	ReviewerName     string       `gorm:"column:reviewer_name"`
	CreateTime       time.Time    `gorm:"column:create_time"`
	UpdateTime       time.Time    `gorm:"column:update_time"`
	LastSyncedAt     time.Time    `gorm:"column:last_synced_at"`
	ReplyComment     *string      `gorm:"column:reply_comment"`
	ReplyTime        *time.Time   `gorm:"column:reply_time"`
	Status           ReviewStatus `gorm:"column:status"`
	CreatedAt        time.Time    `gorm:"column:created_at"`
	UpdatedAt        time.Time    `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Review) TableName() string {
	return "reviews"
}

// HasReply reports whether the stored row carries a non-empty owner reply.
func (r *Review) HasReply() bool {
	return r.ReplyComment != nil && *r.ReplyComment != ""
}
