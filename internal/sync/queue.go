package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
)

// JobStore is the slice of the sync job repository the queue processor needs.
type JobStore interface {
	Claim(ctx context.Context, max int) ([]models.SyncJob, error)
	ListClaimable(ctx context.Context, max int) ([]models.SyncJob, error)
	RunningTenants(ctx context.Context, excludeJobIDs []string) (map[string]bool, error)
	Requeue(ctx context.Context, jobID string, runAt time.Time, lastError string) error
	MarkDone(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, lastError string) error
}

// JobHandler executes one claimed job.
type JobHandler func(ctx context.Context, job models.SyncJob) error

// QueueResult summarizes one drain of the job queue.
type QueueResult struct {
	Claimed   int      `json:"claimed"`
	Executed  int      `json:"executed"`
	Requeued  int      `json:"requeued"`
	Failed    int      `json:"failed"`
	JobErrors []string `json:"job_errors,omitempty"`
}

// QueueProcessor drains the durable job queue with at most one job in flight
// per tenant. Contended jobs are pushed back with a delay instead of being
// reordered.
type QueueProcessor struct {
	jobs      JobStore
	handlers  map[string]JobHandler
	batchSize int
	cooldown  time.Duration
	now       func() time.Time
}

func NewQueueProcessor(jobs JobStore, batchSize int, cooldown time.Duration) *QueueProcessor {
	return &QueueProcessor{
		jobs:      jobs,
		handlers:  make(map[string]JobHandler),
		batchSize: batchSize,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Register installs the handler for a job type. Jobs with an unregistered
// type fail immediately and are not retried.
func (p *QueueProcessor) Register(jobType string, handler JobHandler) {
	p.handlers[jobType] = handler
}

// Process claims one batch and executes it. Per-job failures are recorded on
// the job row and do not block the rest of the batch; only claim-level
// failures abort the drain.
func (p *QueueProcessor) Process(ctx context.Context) (QueueResult, error) {
	var result QueueResult

	claimed, err := p.jobs.Claim(ctx, p.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to claim jobs: %w", err)
	}
	result.Claimed = len(claimed)
	if len(claimed) == 0 {
		return result, nil
	}

	claimedIDs := make([]string, 0, len(claimed))
	for _, job := range claimed {
		claimedIDs = append(claimedIDs, job.ID)
	}

	// Tenants with a job already running outside this batch.
	active, err := p.jobs.RunningTenants(ctx, claimedIDs)
	if err != nil {
		return result, fmt.Errorf("failed to resolve running tenants: %w", err)
	}

	for _, job := range claimed {
		log := logger.WithFields(logrus.Fields{
			"job_id":    job.ID,
			"tenant_id": job.TenantID,
			"job_type":  job.Type,
		})

		if active[job.TenantID] {
			log.Info("Tenant already has a job in flight, requeueing")
			runAt := p.now().Add(p.cooldown)
			if err := p.jobs.Requeue(ctx, job.ID, runAt, models.LastErrorRateLimited); err != nil {
				log.WithError(err).Error("Failed to requeue job")
				result.JobErrors = append(result.JobErrors, err.Error())
				continue
			}
			result.Requeued++
			continue
		}
		// Jobs claimed later in this batch for the same tenant are contended
		// too.
		active[job.TenantID] = true

		handler, ok := p.handlers[job.Type]
		if !ok {
			log.Warn("Unknown job type")
			msg := fmt.Sprintf("unknown job type: %s", job.Type)
			if err := p.jobs.MarkFailed(ctx, job.ID, msg); err != nil {
				log.WithError(err).Error("Failed to mark job failed")
			}
			result.Failed++
			result.JobErrors = append(result.JobErrors, msg)
			continue
		}

		if err := p.execute(ctx, handler, job); err != nil {
			log.WithError(err).Error("Job execution failed")
			if markErr := p.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
				log.WithError(markErr).Error("Failed to mark job failed")
			}
			result.Failed++
			result.JobErrors = append(result.JobErrors, err.Error())
			continue
		}

		if err := p.jobs.MarkDone(ctx, job.ID); err != nil {
			log.WithError(err).Error("Failed to mark job done")
			result.JobErrors = append(result.JobErrors, err.Error())
			continue
		}
		result.Executed++
	}

	return result, nil
}

// execute runs a handler, converting panics into job failures so one bad job
// cannot take down the invocation.
func (p *QueueProcessor) execute(ctx context.Context, handler JobHandler, job models.SyncJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
