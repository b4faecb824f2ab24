package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reviewkit/sync-worker/internal/gbp"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/repository"
)

// ReviewStore is the slice of the review repository the sync engine needs.
type ReviewStore interface {
	GetByNaturalKey(ctx context.Context, tenantID, locationID, providerReviewID string) (*models.Review, error)
	Upsert(ctx context.Context, review *models.Review) error
	PriorityLocationIDs(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// StatusStore writes the per-(tenant, location, phase) records dashboards read.
type StatusStore interface {
	Get(ctx context.Context, tenantID, locationID string, phase models.SyncPhase) (*models.SyncStatus, error)
	Set(ctx context.Context, status *models.SyncStatus) error
}

// RunTotals accumulates one invocation's counters for a location.
type RunTotals struct {
	Scanned  int
	Upserted int
	Errors   int
}

// Upserter maps provider review records to internal rows and maintains the
// import status record per location.
type Upserter struct {
	reviews  ReviewStore
	statuses StatusStore
	now      func() time.Time
}

func NewUpserter(reviews ReviewStore, statuses StatusStore) *Upserter {
	return &Upserter{
		reviews:  reviews,
		statuses: statuses,
		now:      time.Now,
	}
}

// UpsertPage writes one page of provider reviews idempotently. Rows whose
// provider update time is not newer than the stored row are skipped, unless
// the incoming record newly carries an owner reply the stored row lacks:
// reply arrival is always captured, even when nothing else changed.
func (u *Upserter) UpsertPage(ctx context.Context, loc *models.Location, records []gbp.ReviewRecord) (RunTotals, error) {
	var totals RunTotals
	now := u.now()

	for _, rec := range records {
		totals.Scanned++

		if rec.ReviewID == "" {
			continue
		}

		existing, err := u.reviews.GetByNaturalKey(ctx, loc.TenantID, loc.ID, rec.ReviewID)
		if err != nil && !errors.Is(err, repository.ErrReviewNotFound) {
			return totals, fmt.Errorf("failed to load review %s: %w", rec.ReviewID, err)
		}

		if existing != nil && !u.needsWrite(existing, rec) {
			continue
		}

		row := u.buildRow(loc, rec, existing, now)
		if err := u.reviews.Upsert(ctx, row); err != nil {
			return totals, fmt.Errorf("failed to upsert review %s: %w", rec.ReviewID, err)
		}
		totals.Upserted++
	}

	return totals, nil
}

// needsWrite implements the staleness shortcut with the reply-arrival escape
// hatch.
func (u *Upserter) needsWrite(existing *models.Review, rec gbp.ReviewRecord) bool {
	if rec.UpdateTime.After(existing.UpdateTime) {
		return true
	}
	if rec.Reply != nil && rec.Reply.Comment != "" && !existing.HasReply() {
		return true
	}
	return false
}

func (u *Upserter) buildRow(loc *models.Location, rec gbp.ReviewRecord, existing *models.Review, now time.Time) *models.Review {
	row := &models.Review{
		TenantID:         loc.TenantID,
		LocationID:       loc.ID,
		ProviderReviewID: rec.ReviewID,
		Rating:           gbp.RatingValue(rec.StarRating),
		Comment:          rec.Comment,
		ReviewerName:     rec.Reviewer.DisplayName,
		CreateTime:       rec.CreateTime,
		UpdateTime:       rec.UpdateTime,
		LastSyncedAt:     now,
		Status:           models.ReviewStatusNew,
	}

	if existing != nil {
		row.ID = existing.ID
		row.Status = existing.Status
		row.CreatedAt = existing.CreatedAt
	} else {
		row.ID = uuid.New().String()
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	if rec.Reply != nil && rec.Reply.Comment != "" {
		reply := rec.Reply.Comment
		replyTime := rec.Reply.UpdateTime
		row.ReplyComment = &reply
		row.ReplyTime = &replyTime
		row.Status = models.ReviewStatusReplied
	} else if existing != nil {
		// Never drop a stored reply on a provider record that omits it.
		row.ReplyComment = existing.ReplyComment
		row.ReplyTime = existing.ReplyTime
	}

	return row
}

// MarkRunning overwrites the location's import status with the invocation's
// counters so far.
func (u *Upserter) MarkRunning(ctx context.Context, loc *models.Location, totals RunTotals) error {
	return u.writeStatus(ctx, loc, models.SyncStateRunning, totals, nil)
}

// MarkDone records a fully-swept location. Called at most once per location
// per invocation.
func (u *Upserter) MarkDone(ctx context.Context, loc *models.Location, totals RunTotals) error {
	return u.writeStatus(ctx, loc, models.SyncStateDone, totals, nil)
}

// MarkError records a per-location failure, preserving the counters gathered
// before it.
func (u *Upserter) MarkError(ctx context.Context, loc *models.Location, totals RunTotals, cause error) error {
	msg := cause.Error()
	totals.Errors++
	return u.writeStatus(ctx, loc, models.SyncStateError, totals, &msg)
}

func (u *Upserter) writeStatus(ctx context.Context, loc *models.Location, state models.SyncStatusState, totals RunTotals, lastError *string) error {
	now := u.now()
	return u.statuses.Set(ctx, &models.SyncStatus{
		TenantID:    loc.TenantID,
		LocationID:  loc.ID,
		Phase:       models.PhaseImport,
		Status:      state,
		LastRunAt:   &now,
		Scanned:     totals.Scanned,
		Upserted:    totals.Upserted,
		ErrorsCount: totals.Errors,
		LastError:   lastError,
	})
}
