// Package worker runs the scheduled invocations: the sync engine on its
// cadence and the draft preparation sweep on its own.
package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/reviewkit/sync-worker/internal/config"
	"github.com/reviewkit/sync-worker/internal/drafts"
	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
	syncengine "github.com/reviewkit/sync-worker/internal/sync"
)

// SyncTrigger is the slice of the orchestrator the scheduler invokes.
type SyncTrigger interface {
	Run(ctx context.Context, opts syncengine.RunOptions) (*syncengine.RunReport, error)
}

// DraftTrigger is the slice of the draft pipeline the scheduler invokes.
type DraftTrigger interface {
	PrepareBatch(ctx context.Context, tenantID, locationID, identityHash string) (*drafts.PrepareResult, error)
}

// LocationLister pages through locations for the scheduled draft sweep.
type LocationLister interface {
	ListAfter(ctx context.Context, afterID string, limit int) ([]models.Location, error)
}

type Worker struct {
	cfg       *config.Config
	runner    SyncTrigger
	preparer  DraftTrigger
	locations LocationLister
	cron      *cron.Cron
}

func New(cfg *config.Config, runner SyncTrigger, preparer DraftTrigger, locations LocationLister) *Worker {
	return &Worker{
		cfg:       cfg,
		runner:    runner,
		preparer:  preparer,
		locations: locations,
		cron:      cron.New(),
	}
}

// Start registers the cron entries and blocks until ctx is cancelled, then
// waits for in-flight entries to drain.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.cfg.SyncSchedule, func() { w.runSync(ctx) }); err != nil {
		return err
	}
	if _, err := w.cron.AddFunc(w.cfg.DraftSchedule, func() { w.runDrafts(ctx) }); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"sync_schedule":  w.cfg.SyncSchedule,
		"draft_schedule": w.cfg.DraftSchedule,
	}).Info("Scheduler started")

	w.cron.Start()
	<-ctx.Done()

	stopped := w.cron.Stop()
	<-stopped.Done()

	return ctx.Err()
}

func (w *Worker) runSync(ctx context.Context) {
	// The orchestrator bounds itself by wall clock; the outer timeout only
	// covers stalls in store or provider calls.
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.SyncTimeBudget+30*time.Second)
	defer cancel()

	report, err := w.runner.Run(runCtx, syncengine.RunOptions{})
	if err != nil {
		logger.WithError(err).Error("Scheduled sync run failed")
		return
	}
	if report.Skipped {
		return
	}
	logger.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"upserted": report.Upserted,
		"aborted":  report.Aborted,
	}).Info("Scheduled sync run finished")
}

// runDrafts walks all locations and prepares draft batches. The per-location
// cooldown keeps repeat visits cheap.
func (w *Worker) runDrafts(ctx context.Context) {
	afterID := ""
	for {
		batch, err := w.locations.ListAfter(ctx, afterID, 50)
		if err != nil {
			logger.WithError(err).Error("Draft sweep failed to list locations")
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, loc := range batch {
			if ctx.Err() != nil {
				return
			}
			result, err := w.preparer.PrepareBatch(ctx, loc.TenantID, loc.ID, "")
			if err != nil {
				logger.WithFields(logrus.Fields{
					"location_id": loc.ID,
					"error":       err.Error(),
				}).Error("Draft preparation failed")
				continue
			}
			if result.Queued > 0 {
				logger.WithFields(logrus.Fields{
					"location_id": loc.ID,
					"queued":      result.Queued,
				}).Info("Drafts queued")
			}
		}
		afterID = batch[len(batch)-1].ID
	}
}
