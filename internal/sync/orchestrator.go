// Package sync is the background synchronization engine: it drains the
// durable job queue, pulls paginated review data from the provider and
// persists it idempotently under a wall-clock and item budget.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/token"
)

// CursorStore persists the resumable sweep position.
type CursorStore interface {
	Load(ctx context.Context, purpose string) (*models.SyncCursor, error)
	Save(ctx context.Context, cursor *models.SyncCursor) error
}

// Options tune one orchestrator instance.
type Options struct {
	TimeBudget       time.Duration
	MaxReviews       int
	PriorityLookback time.Duration
	PageSize         int
	// MinRunInterval gates scheduled invocations; force bypasses it.
	MinRunInterval time.Duration
	// PriorityBatchLimit caps how many locations the priority pass visits.
	PriorityBatchLimit int
	// SweepBatchSize is how many locations are pulled per sweep query.
	SweepBatchSize int
}

// RunOptions are per-invocation flags from the trigger surface.
type RunOptions struct {
	// Force bypasses the schedule gate.
	Force bool
	// CursorOverride restarts the sweep after the given location id.
	CursorOverride string
}

// CursorView is the cursor as reported to callers.
type CursorView struct {
	LocationCursor *string `json:"location_cursor"`
	PageToken      *string `json:"page_token"`
	ErrorsCount    int     `json:"errors_count"`
}

// RunReport is the structured outcome of one invocation. Aborted reports a
// budget-driven early stop, which is expected, not an error.
type RunReport struct {
	StartedAt          time.Time   `json:"started_at"`
	DurationMs         int64       `json:"duration_ms"`
	Skipped            bool        `json:"skipped"`
	Queue              QueueResult `json:"queue"`
	PriorityLocations  int         `json:"priority_locations"`
	LocationsCompleted int         `json:"locations_completed"`
	Scanned            int         `json:"scanned"`
	Upserted           int         `json:"upserted"`
	Errors             []string    `json:"errors,omitempty"`
	Aborted            bool        `json:"aborted"`
	Cursor             CursorView  `json:"cursor"`
}

// Plan describes the work a run would do, without doing it.
type Plan struct {
	ClaimableJobs     []models.SyncJob `json:"claimable_jobs"`
	PriorityLocations []string         `json:"priority_locations"`
	NextLocations     []string         `json:"next_locations"`
	Cursor            CursorView       `json:"cursor"`
}

type Orchestrator struct {
	queue     *QueueProcessor
	upserter  *Upserter
	tokens    TokenSource
	provider  ProviderClient
	locations LocationStore
	reviews   ReviewStore
	cursors   CursorStore
	opts      Options
	now       func() time.Time

	lastRunNano atomic.Int64
}

func NewOrchestrator(
	queue *QueueProcessor,
	upserter *Upserter,
	tokens TokenSource,
	provider ProviderClient,
	locations LocationStore,
	reviews ReviewStore,
	cursors CursorStore,
	opts Options,
) *Orchestrator {
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = 24 * time.Second
	}
	if opts.MaxReviews <= 0 {
		opts.MaxReviews = 80
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.PriorityBatchLimit <= 0 {
		opts.PriorityBatchLimit = 10
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 20
	}
	return &Orchestrator{
		queue:     queue,
		upserter:  upserter,
		tokens:    tokens,
		provider:  provider,
		locations: locations,
		reviews:   reviews,
		cursors:   cursors,
		opts:      opts,
		now:       time.Now,
	}
}

// budget bounds one invocation by wall clock and item count. Both are checked
// between every page and every location.
type budget struct {
	deadline time.Time
	maxItems int
	items    int
	now      func() time.Time
}

func (b *budget) exceeded() bool {
	return b.now().After(b.deadline) || b.items >= b.maxItems
}

func (b *budget) add(n int) {
	b.items += n
}

// Run executes one invocation of the state machine:
// processJobQueue -> syncPriorityLocations -> syncCursorSweep -> persistCursor.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	start := o.now()
	report := &RunReport{StartedAt: start}

	if !opts.Force && o.opts.MinRunInterval > 0 {
		last := time.Unix(0, o.lastRunNano.Load())
		if start.Sub(last) < o.opts.MinRunInterval {
			report.Skipped = true
			return report, nil
		}
	}
	o.lastRunNano.Store(start.UnixNano())

	b := &budget{
		deadline: start.Add(o.opts.TimeBudget),
		maxItems: o.opts.MaxReviews,
		now:      o.now,
	}

	queueRes, err := o.queue.Process(ctx)
	if err != nil {
		// Claim-level failures abort the whole invocation.
		return report, err
	}
	report.Queue = queueRes

	cursor, err := o.cursors.Load(ctx, models.CursorPurposeReviewSync)
	if err != nil {
		return report, err
	}
	if opts.CursorOverride != "" {
		override := opts.CursorOverride
		cursor.LocationCursor = &override
		cursor.PageToken = nil
	}

	// Tenants that already failed with ReauthRequired this run; their other
	// locations are skipped instead of hammering the refresh endpoint.
	reauthTenants := make(map[string]bool)
	handled := make(map[string]bool)

	o.syncPriorityLocations(ctx, b, report, handled, reauthTenants)
	o.syncCursorSweep(ctx, b, report, cursor, handled, reauthTenants)

	if err := o.cursors.Save(ctx, cursor); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("persist cursor: %v", err))
	}

	report.Cursor = cursorView(cursor)
	report.DurationMs = o.now().Sub(start).Milliseconds()

	logger.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"upserted": report.Upserted,
		"aborted":  report.Aborted,
		"errors":   len(report.Errors),
	}).Info("Sync invocation finished")

	return report, nil
}

// DryRun reports the work a run would pick up without mutating anything.
func (o *Orchestrator) DryRun(ctx context.Context) (*Plan, error) {
	plan := &Plan{}

	jobs, err := o.queue.jobs.ListClaimable(ctx, o.queue.batchSize)
	if err != nil {
		return nil, err
	}
	plan.ClaimableJobs = jobs

	cursor, err := o.cursors.Load(ctx, models.CursorPurposeReviewSync)
	if err != nil {
		return nil, err
	}
	plan.Cursor = cursorView(cursor)

	since := o.now().Add(-o.opts.PriorityLookback)
	priority, err := o.reviews.PriorityLocationIDs(ctx, since, o.opts.PriorityBatchLimit)
	if err != nil {
		return nil, err
	}
	plan.PriorityLocations = priority

	afterID := ""
	if cursor.LocationCursor != nil {
		afterID = *cursor.LocationCursor
	}
	next, err := o.locations.ListAfter(ctx, afterID, o.opts.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, loc := range next {
		plan.NextLocations = append(plan.NextLocations, loc.ID)
	}

	return plan, nil
}

// syncPriorityLocations gives locations with recently updated, unreplied
// reviews a best-effort freshness pass. It never touches the durable cursor.
func (o *Orchestrator) syncPriorityLocations(ctx context.Context, b *budget, report *RunReport, handled, reauthTenants map[string]bool) {
	since := o.now().Add(-o.opts.PriorityLookback)
	ids, err := o.reviews.PriorityLocationIDs(ctx, since, o.opts.PriorityBatchLimit)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("priority query: %v", err))
		return
	}
	if len(ids) == 0 {
		return
	}

	locs, err := o.locations.GetByIDs(ctx, ids)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("priority load: %v", err))
		return
	}

	for i := range locs {
		loc := &locs[i]
		if b.exceeded() {
			report.Aborted = true
			return
		}
		if reauthTenants[loc.TenantID] {
			continue
		}

		completed, totals, err := o.syncLocation(ctx, loc, "", b, nil)
		report.Scanned += totals.Scanned
		report.Upserted += totals.Upserted
		handled[loc.ID] = true
		report.PriorityLocations++

		if err != nil {
			o.recordLocationError(report, loc, err, reauthTenants)
			continue
		}
		if !completed {
			report.Aborted = true
			return
		}
	}
}

// syncCursorSweep walks locations in ascending id order after the stored
// cursor, resuming mid-location via the persisted page token. Failed
// locations are skipped past so the sweep always makes forward progress.
func (o *Orchestrator) syncCursorSweep(ctx context.Context, b *budget, report *RunReport, cursor *models.SyncCursor, handled, reauthTenants map[string]bool) {
	// The persisted page token belongs to the first unswept location.
	resumeToken := ""
	if cursor.PageToken != nil {
		resumeToken = *cursor.PageToken
	}

	for {
		if b.exceeded() {
			report.Aborted = true
			return
		}

		afterID := ""
		if cursor.LocationCursor != nil {
			afterID = *cursor.LocationCursor
		}
		batch, err := o.locations.ListAfter(ctx, afterID, o.opts.SweepBatchSize)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("sweep query: %v", err))
			return
		}
		if len(batch) == 0 {
			// Full sweep complete; restart from the beginning next cycle.
			cursor.LocationCursor = nil
			cursor.PageToken = nil
			cursor.ErrorsCount = 0
			return
		}

		for i := range batch {
			loc := &batch[i]
			if b.exceeded() {
				report.Aborted = true
				return
			}

			// The token belongs to this location or to none: it must be
			// consumed here even when the location is skipped, or the next
			// location would be fetched with another location's token.
			startToken := resumeToken
			resumeToken = ""

			if handled[loc.ID] {
				// Already completed as a priority pass this run; a leftover
				// mid-location token is obsolete.
				o.advanceCursor(ctx, cursor, loc.ID)
				continue
			}
			if reauthTenants[loc.TenantID] {
				report.Errors = append(report.Errors, fmt.Sprintf("location %s: tenant requires re-authorization", loc.ID))
				cursor.ErrorsCount++
				o.advanceCursor(ctx, cursor, loc.ID)
				continue
			}

			completed, totals, err := o.syncLocation(ctx, loc, startToken, b, cursor)
			report.Scanned += totals.Scanned
			report.Upserted += totals.Upserted

			if err != nil {
				// Skip-on-error: the cursor still advances past the failed
				// location to guarantee forward progress.
				o.recordLocationError(report, loc, err, reauthTenants)
				cursor.ErrorsCount++
				o.advanceCursor(ctx, cursor, loc.ID)
				continue
			}
			if !completed {
				report.Aborted = true
				return
			}

			report.LocationsCompleted++
			o.advanceCursor(ctx, cursor, loc.ID)
		}
	}
}

// syncLocation pulls a location's review pages until exhaustion or budget.
// When cursor is non-nil (sweep mode) the page token is persisted after every
// page so an aborted run resumes exactly where it stopped. Returns false when
// the budget stopped the location before its pages were exhausted.
func (o *Orchestrator) syncLocation(ctx context.Context, loc *models.Location, startPageToken string, b *budget, cursor *models.SyncCursor) (bool, RunTotals, error) {
	var totals RunTotals

	accessToken, err := o.tokens.GetValidAccessToken(ctx, loc.TenantID)
	if err != nil {
		if markErr := o.upserter.MarkError(ctx, loc, totals, err); markErr != nil {
			logger.WithError(markErr).Error("Failed to write error status")
		}
		return false, totals, err
	}

	pageToken := startPageToken
	for {
		if b.exceeded() {
			return false, totals, nil
		}

		page, err := o.provider.ListReviews(ctx, accessToken, loc.AccountRef, loc.LocationRef, o.opts.PageSize, pageToken)
		if err != nil {
			if markErr := o.upserter.MarkError(ctx, loc, totals, err); markErr != nil {
				logger.WithError(markErr).Error("Failed to write error status")
			}
			return false, totals, err
		}

		if len(page.Reviews) > 0 {
			pageTotals, err := o.upserter.UpsertPage(ctx, loc, page.Reviews)
			totals.Scanned += pageTotals.Scanned
			totals.Upserted += pageTotals.Upserted
			b.add(pageTotals.Scanned)

			if err != nil {
				if markErr := o.upserter.MarkError(ctx, loc, totals, err); markErr != nil {
					logger.WithError(markErr).Error("Failed to write error status")
				}
				return false, totals, err
			}
			if err := o.upserter.MarkRunning(ctx, loc, totals); err != nil {
				logger.WithError(err).Error("Failed to write running status")
			}
		}

		pageToken = page.NextPageToken
		if cursor != nil {
			if pageToken == "" {
				cursor.PageToken = nil
			} else {
				tok := pageToken
				cursor.PageToken = &tok
			}
			if err := o.cursors.Save(ctx, cursor); err != nil {
				logger.WithError(err).Error("Failed to persist cursor checkpoint")
			}
		}

		if pageToken == "" {
			break
		}
	}

	if err := o.upserter.MarkDone(ctx, loc, totals); err != nil {
		logger.WithError(err).Error("Failed to write done status")
	}
	if err := o.locations.TouchSynced(ctx, loc.ID, o.now()); err != nil {
		logger.WithError(err).Error("Failed to stamp location sync time")
	}

	return true, totals, nil
}

// advanceCursor moves the durable cursor past a handled location and clears
// the in-flight page token.
func (o *Orchestrator) advanceCursor(ctx context.Context, cursor *models.SyncCursor, locationID string) {
	id := locationID
	cursor.LocationCursor = &id
	cursor.PageToken = nil
	if err := o.cursors.Save(ctx, cursor); err != nil {
		logger.WithError(err).Error("Failed to persist cursor")
	}
}

func (o *Orchestrator) recordLocationError(report *RunReport, loc *models.Location, err error, reauthTenants map[string]bool) {
	if errors.Is(err, token.ErrReauthRequired) {
		reauthTenants[loc.TenantID] = true
	}
	report.Errors = append(report.Errors, fmt.Sprintf("location %s: %v", loc.ID, err))
}

func cursorView(cursor *models.SyncCursor) CursorView {
	return CursorView{
		LocationCursor: cursor.LocationCursor,
		PageToken:      cursor.PageToken,
		ErrorsCount:    cursor.ErrorsCount,
	}
}
