package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/reviewkit/sync-worker/internal/gbp"
	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
)

// TokenSource resolves a valid provider access token for a tenant.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, tenantID string) (string, error)
}

// ProviderClient is the provider API surface the sync engine consumes.
type ProviderClient interface {
	ListLocations(ctx context.Context, accessToken, accountRef, pageToken string) (*gbp.LocationPage, error)
	ListReviews(ctx context.Context, accessToken, accountRef, locationRef string, pageSize int, pageToken string) (*gbp.ReviewPage, error)
}

// LocationStore is the slice of the location repository the sync engine needs.
type LocationStore interface {
	UpsertBatch(ctx context.Context, locations []models.Location) error
	ListAfter(ctx context.Context, afterID string, limit int) ([]models.Location, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Location, error)
	TouchSynced(ctx context.Context, id string, at time.Time) error
}

// ProviderSyncPayload is the payload of a provider_sync job.
type ProviderSyncPayload struct {
	AccountRef string `json:"account_ref"`
}

// LocationSyncer executes provider_sync jobs: it walks the tenant's location
// listing page by page and upserts the rows the review sweep later reads.
type LocationSyncer struct {
	tokens    TokenSource
	provider  ProviderClient
	locations LocationStore
	now       func() time.Time
}

func NewLocationSyncer(tokens TokenSource, provider ProviderClient, locations LocationStore) *LocationSyncer {
	return &LocationSyncer{
		tokens:    tokens,
		provider:  provider,
		locations: locations,
		now:       time.Now,
	}
}

// HandleProviderSync is the JobHandler for provider_sync jobs.
func (s *LocationSyncer) HandleProviderSync(ctx context.Context, job models.SyncJob) error {
	var payload ProviderSyncPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("invalid provider_sync payload: %w", err)
		}
	}
	if payload.AccountRef == "" {
		return fmt.Errorf("provider_sync payload missing account_ref")
	}

	accessToken, err := s.tokens.GetValidAccessToken(ctx, job.TenantID)
	if err != nil {
		return err
	}

	log := logger.WithFields(logrus.Fields{
		"tenant_id":   job.TenantID,
		"account_ref": payload.AccountRef,
	})

	total := 0
	pageToken := ""
	for {
		page, err := s.provider.ListLocations(ctx, accessToken, payload.AccountRef, pageToken)
		if err != nil {
			return fmt.Errorf("failed to list locations: %w", err)
		}

		if len(page.Locations) > 0 {
			rows := make([]models.Location, 0, len(page.Locations))
			now := s.now()
			for _, rec := range page.Locations {
				rows = append(rows, models.Location{
					ID:           uuid.New().String(),
					TenantID:     job.TenantID,
					AccountRef:   payload.AccountRef,
					LocationRef:  rec.Name,
					Title:        rec.Title,
					Latitude:     rec.Latitude,
					Longitude:    rec.Longitude,
					LastSyncedAt: &now,
					CreatedAt:    now,
					UpdatedAt:    now,
				})
			}
			if err := s.locations.UpsertBatch(ctx, rows); err != nil {
				return fmt.Errorf("failed to upsert locations: %w", err)
			}
			total += len(rows)
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	log.WithField("locations", total).Info("Location list synced")
	return nil
}
