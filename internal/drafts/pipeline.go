// Package drafts prepares AI reply drafts: it selects eligible reviews,
// records a draft request per review and enqueues the job the external AI
// worker consumes. Batch preparation is cooldown-gated per location.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/repository"
)

// Skip reasons returned per candidate review. The set is closed; UI code
// switches on these strings.
const (
	SkipNoComment       = "no_comment"
	SkipHasOwnerReply   = "has_owner_reply"
	SkipAlreadyHasDraft = "already_has_draft"
	SkipJobInProgress   = "job_in_progress"
	SkipOutsideLookback = "outside_lookback"
	SkipLimitReached    = "limit_reached"
	SkipEnqueueError    = "enqueue_error"
	SkipMissingReviewID = "missing_review_id"
)

// lookbackMargin widens the candidate fetch past the lookback floor so the
// outside_lookback skips near the boundary stay visible in the outcomes.
const lookbackMargin = 30 * 24 * time.Hour

// ReviewSource is the slice of the review repository the pipeline needs.
type ReviewSource interface {
	GetByID(ctx context.Context, id string) (*models.Review, error)
	ListByLocationSince(ctx context.Context, tenantID, locationID string, since time.Time, limit int) ([]models.Review, error)
}

// DraftStore persists draft requests and their AI jobs.
type DraftStore interface {
	GetRequest(ctx context.Context, reviewID, mode string) (*models.DraftRequest, error)
	UpsertQueued(ctx context.Context, req *models.DraftRequest) error
	SetRequestStatus(ctx context.Context, reviewID, mode string, status models.DraftStatus) error
	// InsertAiJob returns repository.ErrDuplicateAiJob when the review
	// already has a non-terminal job of the same type.
	InsertAiJob(ctx context.Context, job *models.AiJob) error
	HasActiveAiJob(ctx context.Context, reviewID, jobType string) (bool, error)
}

// StatusStore reads and writes the per-location AI phase record that carries
// the cooldown timestamp.
type StatusStore interface {
	Get(ctx context.Context, tenantID, locationID string, phase models.SyncPhase) (*models.SyncStatus, error)
	Set(ctx context.Context, status *models.SyncStatus) error
}

// Options tune one pipeline instance.
type Options struct {
	Lookback   time.Duration
	BatchLimit int
	Cooldown   time.Duration
}

// Outcome is the per-review result of batch preparation. Exactly one of
// Queued or SkipReason is meaningful.
type Outcome struct {
	ReviewID   string `json:"review_id"`
	Queued     bool   `json:"queued"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// PrepareResult is the structured response of one batch preparation call.
type PrepareResult struct {
	Queued   int       `json:"queued"`
	Cooldown bool      `json:"cooldown"`
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// EnsureResult reports the on-demand single-review path.
type EnsureResult struct {
	ReviewID string             `json:"review_id"`
	Created  bool               `json:"created"`
	Status   models.DraftStatus `json:"status,omitempty"`
	// SkipReason is set when the review is ineligible.
	SkipReason string `json:"skip_reason,omitempty"`
}

// aiJobPayload is what the external AI worker reads off the job row.
type aiJobPayload struct {
	ReviewID     string `json:"review_id"`
	Mode         string `json:"mode"`
	IdentityHash string `json:"identity_hash"`
}

type Pipeline struct {
	reviews  ReviewSource
	drafts   DraftStore
	statuses StatusStore
	opts     Options
	now      func() time.Time
}

func NewPipeline(reviews ReviewSource, drafts DraftStore, statuses StatusStore, opts Options) *Pipeline {
	if opts.Lookback <= 0 {
		opts.Lookback = 180 * 24 * time.Hour
	}
	if opts.Lookback > 3650*24*time.Hour {
		opts.Lookback = 3650 * 24 * time.Hour
	}
	if opts.BatchLimit <= 0 || opts.BatchLimit > 25 {
		opts.BatchLimit = 25
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Minute
	}
	return &Pipeline{
		reviews:  reviews,
		drafts:   drafts,
		statuses: statuses,
		opts:     opts,
		now:      time.Now,
	}
}

// PrepareBatch evaluates the location's recent reviews and enqueues a draft
// job for each eligible one, up to the batch limit. Calls inside the cooldown
// window do nothing but still overwrite the status row, so polling clients
// see the attempt without retriggering work.
func (p *Pipeline) PrepareBatch(ctx context.Context, tenantID, locationID, identityHash string) (*PrepareResult, error) {
	now := p.now()

	status, err := p.statuses.Get(ctx, tenantID, locationID, models.PhaseAi)
	if err != nil {
		return nil, fmt.Errorf("failed to read ai status: %w", err)
	}
	if status != nil && status.LastRunAt != nil && now.Sub(*status.LastRunAt) < p.opts.Cooldown {
		// The gated write keeps the original LastRunAt so the cooldown still
		// expires on schedule under constant polling.
		if err := p.statuses.Set(ctx, status); err != nil {
			logger.WithError(err).Error("Failed to record gated draft attempt")
		}
		return &PrepareResult{Queued: 0, Cooldown: true}, nil
	}

	since := now.Add(-p.opts.Lookback)

	// Candidates are fetched with a margin past the lookback floor so reviews
	// just outside the window surface with an explicit skip reason instead of
	// silently vanishing from the outcome list. The margin is bounded so the
	// row cap is spent on reviews near the window, not arbitrarily old ones.
	fetchFloor := since.Add(-lookbackMargin)
	candidates, err := p.reviews.ListByLocationSince(ctx, tenantID, locationID, fetchFloor, p.opts.BatchLimit*4)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate reviews: %w", err)
	}

	result := &PrepareResult{}
	for i := range candidates {
		review := &candidates[i]
		outcome := Outcome{ReviewID: review.ID}

		switch {
		case result.Queued >= p.opts.BatchLimit:
			outcome.SkipReason = SkipLimitReached
		case review.ID == "":
			outcome.SkipReason = SkipMissingReviewID
		case review.Comment == "":
			outcome.SkipReason = SkipNoComment
		case review.HasReply():
			outcome.SkipReason = SkipHasOwnerReply
		case review.CreateTime.Before(since):
			outcome.SkipReason = SkipOutsideLookback
		default:
			reason, err := p.enqueue(ctx, review, identityHash)
			if err != nil {
				return nil, err
			}
			if reason == "" {
				outcome.Queued = true
				result.Queued++
			} else {
				outcome.SkipReason = reason
			}
		}

		result.Outcomes = append(result.Outcomes, outcome)
	}

	p.writeStatus(ctx, tenantID, locationID, now, len(candidates), result.Queued)

	logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"location_id": locationID,
		"candidates":  len(candidates),
		"queued":      result.Queued,
	}).Info("Draft batch prepared")

	return result, nil
}

// EnsureDraft is the on-demand path for one review. It bypasses the cooldown
// but still refuses to stack a second draft or job on the review.
func (p *Pipeline) EnsureDraft(ctx context.Context, reviewID, identityHash string) (*EnsureResult, error) {
	review, err := p.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	result := &EnsureResult{ReviewID: reviewID}

	if review.Comment == "" {
		result.SkipReason = SkipNoComment
		return result, nil
	}
	if review.HasReply() {
		result.SkipReason = SkipHasOwnerReply
		return result, nil
	}

	existing, err := p.drafts.GetRequest(ctx, reviewID, models.DraftModeDraft)
	if err != nil {
		return nil, err
	}
	if existing != nil && isActiveDraftStatus(existing.Status) {
		result.Status = existing.Status
		result.SkipReason = SkipAlreadyHasDraft
		return result, nil
	}

	inFlight, err := p.drafts.HasActiveAiJob(ctx, reviewID, models.AiJobTypeReplyDraft)
	if err != nil {
		return nil, err
	}
	if inFlight {
		result.SkipReason = SkipJobInProgress
		return result, nil
	}

	reason, err := p.enqueue(ctx, review, identityHash)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		result.SkipReason = reason
		return result, nil
	}

	result.Created = true
	result.Status = models.DraftStatusQueued
	return result, nil
}

// enqueue upserts the DraftRequest to queued and inserts the AiJob. A
// uniqueness conflict on the job means another enqueue won the race; the
// DraftRequest is left as-is. Any other insert failure rolls the request
// forward to error. Returns a skip reason for expected outcomes; an error
// only for infrastructure failures before the request row was written.
func (p *Pipeline) enqueue(ctx context.Context, review *models.Review, identityHash string) (string, error) {
	existing, err := p.drafts.GetRequest(ctx, review.ID, models.DraftModeDraft)
	if err != nil {
		return "", err
	}
	if existing != nil && isActiveDraftStatus(existing.Status) {
		return SkipAlreadyHasDraft, nil
	}

	req := &models.DraftRequest{
		ID:           uuid.New().String(),
		TenantID:     review.TenantID,
		ReviewID:     review.ID,
		Mode:         models.DraftModeDraft,
		IdentityHash: identityHash,
		Status:       models.DraftStatusQueued,
	}
	if err := p.drafts.UpsertQueued(ctx, req); err != nil {
		return "", fmt.Errorf("failed to queue draft request: %w", err)
	}

	payload, err := json.Marshal(aiJobPayload{
		ReviewID:     review.ID,
		Mode:         models.DraftModeDraft,
		IdentityHash: identityHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}

	job := &models.AiJob{
		ID:       uuid.New().String(),
		TenantID: review.TenantID,
		ReviewID: review.ID,
		Type:     models.AiJobTypeReplyDraft,
		Payload:  datatypes.JSON(payload),
		Status:   models.AiJobStatusPending,
	}
	if err := p.drafts.InsertAiJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrDuplicateAiJob) {
			return SkipJobInProgress, nil
		}
		logger.WithError(err).Error("Failed to insert ai job")
		if stErr := p.drafts.SetRequestStatus(ctx, review.ID, models.DraftModeDraft, models.DraftStatusError); stErr != nil {
			logger.WithError(stErr).Error("Failed to roll draft request to error")
		}
		return SkipEnqueueError, nil
	}

	return "", nil
}

func (p *Pipeline) writeStatus(ctx context.Context, tenantID, locationID string, runAt time.Time, scanned, queued int) {
	if err := p.statuses.Set(ctx, &models.SyncStatus{
		TenantID:   tenantID,
		LocationID: locationID,
		Phase:      models.PhaseAi,
		Status:     models.SyncStateDone,
		LastRunAt:  &runAt,
		Scanned:    scanned,
		Upserted:   queued,
	}); err != nil {
		logger.WithError(err).Error("Failed to write ai status")
	}
}

func isActiveDraftStatus(status models.DraftStatus) bool {
	for _, s := range models.ActiveDraftStatuses {
		if s == status {
			return true
		}
	}
	return false
}
