package models

import "time"

// CursorPurposeReviewSync keys the singleton cursor used by the review sweep.
const CursorPurposeReviewSync = "review_sync"

// SyncCursor is a resumable position for a time-boxed sweep, one row per
// purpose. LocationCursor is the id of the last fully-processed location;
// PageToken resumes pagination inside the location that was in flight when the
// previous invocation hit its budget.
type SyncCursor struct {
	Purpose        string    `gorm:"column:purpose;primaryKey"`
	LocationCursor *string   `gorm:"column:location_cursor"`
	PageToken      *string   `gorm:"column:page_token"`
	ErrorsCount    int       `gorm:"column:errors_count"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncCursor) TableName() string {
	return "sync_cursors"
}
