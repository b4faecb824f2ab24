package sync

import (
	"context"
	"time"

	"github.com/reviewkit/sync-worker/internal/gbp"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/repository"
)

type mockJobStore struct {
	claimFunc          func(ctx context.Context, max int) ([]models.SyncJob, error)
	listClaimableFunc  func(ctx context.Context, max int) ([]models.SyncJob, error)
	runningTenantsFunc func(ctx context.Context, excludeJobIDs []string) (map[string]bool, error)
	requeueFunc        func(ctx context.Context, jobID string, runAt time.Time, lastError string) error
	markDoneFunc       func(ctx context.Context, jobID string) error
	markFailedFunc     func(ctx context.Context, jobID string, lastError string) error
}

func (m *mockJobStore) Claim(ctx context.Context, max int) ([]models.SyncJob, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, max)
	}
	return nil, nil
}

func (m *mockJobStore) ListClaimable(ctx context.Context, max int) ([]models.SyncJob, error) {
	if m.listClaimableFunc != nil {
		return m.listClaimableFunc(ctx, max)
	}
	return nil, nil
}

func (m *mockJobStore) RunningTenants(ctx context.Context, excludeJobIDs []string) (map[string]bool, error) {
	if m.runningTenantsFunc != nil {
		return m.runningTenantsFunc(ctx, excludeJobIDs)
	}
	return map[string]bool{}, nil
}

func (m *mockJobStore) Requeue(ctx context.Context, jobID string, runAt time.Time, lastError string) error {
	if m.requeueFunc != nil {
		return m.requeueFunc(ctx, jobID, runAt, lastError)
	}
	return nil
}

func (m *mockJobStore) MarkDone(ctx context.Context, jobID string) error {
	if m.markDoneFunc != nil {
		return m.markDoneFunc(ctx, jobID)
	}
	return nil
}

func (m *mockJobStore) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	if m.markFailedFunc != nil {
		return m.markFailedFunc(ctx, jobID, lastError)
	}
	return nil
}

type mockLocationStore struct {
	upsertBatchFunc func(ctx context.Context, locations []models.Location) error
	listAfterFunc   func(ctx context.Context, afterID string, limit int) ([]models.Location, error)
	getByIDsFunc    func(ctx context.Context, ids []string) ([]models.Location, error)
	touchSyncedFunc func(ctx context.Context, id string, at time.Time) error
}

func (m *mockLocationStore) UpsertBatch(ctx context.Context, locations []models.Location) error {
	if m.upsertBatchFunc != nil {
		return m.upsertBatchFunc(ctx, locations)
	}
	return nil
}

func (m *mockLocationStore) ListAfter(ctx context.Context, afterID string, limit int) ([]models.Location, error) {
	if m.listAfterFunc != nil {
		return m.listAfterFunc(ctx, afterID, limit)
	}
	return nil, nil
}

func (m *mockLocationStore) GetByIDs(ctx context.Context, ids []string) ([]models.Location, error) {
	if m.getByIDsFunc != nil {
		return m.getByIDsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *mockLocationStore) TouchSynced(ctx context.Context, id string, at time.Time) error {
	if m.touchSyncedFunc != nil {
		return m.touchSyncedFunc(ctx, id, at)
	}
	return nil
}

type mockReviewStore struct {
	getByNaturalKeyFunc     func(ctx context.Context, tenantID, locationID, providerReviewID string) (*models.Review, error)
	upsertFunc              func(ctx context.Context, review *models.Review) error
	priorityLocationIDsFunc func(ctx context.Context, since time.Time, limit int) ([]string, error)
}

func (m *mockReviewStore) GetByNaturalKey(ctx context.Context, tenantID, locationID, providerReviewID string) (*models.Review, error) {
	if m.getByNaturalKeyFunc != nil {
		return m.getByNaturalKeyFunc(ctx, tenantID, locationID, providerReviewID)
	}
	return nil, repository.ErrReviewNotFound
}

func (m *mockReviewStore) Upsert(ctx context.Context, review *models.Review) error {
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, review)
	}
	return nil
}

func (m *mockReviewStore) PriorityLocationIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if m.priorityLocationIDsFunc != nil {
		return m.priorityLocationIDsFunc(ctx, since, limit)
	}
	return nil, nil
}

type mockStatusStore struct {
	getFunc func(ctx context.Context, tenantID, locationID string, phase models.SyncPhase) (*models.SyncStatus, error)
	setFunc func(ctx context.Context, status *models.SyncStatus) error
}

func (m *mockStatusStore) Get(ctx context.Context, tenantID, locationID string, phase models.SyncPhase) (*models.SyncStatus, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, tenantID, locationID, phase)
	}
	return nil, nil
}

func (m *mockStatusStore) Set(ctx context.Context, status *models.SyncStatus) error {
	if m.setFunc != nil {
		return m.setFunc(ctx, status)
	}
	return nil
}

type mockCursorStore struct {
	loadFunc func(ctx context.Context, purpose string) (*models.SyncCursor, error)
	saveFunc func(ctx context.Context, cursor *models.SyncCursor) error
}

func (m *mockCursorStore) Load(ctx context.Context, purpose string) (*models.SyncCursor, error) {
	if m.loadFunc != nil {
		return m.loadFunc(ctx, purpose)
	}
	return &models.SyncCursor{Purpose: purpose}, nil
}

func (m *mockCursorStore) Save(ctx context.Context, cursor *models.SyncCursor) error {
	if m.saveFunc != nil {
		return m.saveFunc(ctx, cursor)
	}
	return nil
}

type mockTokenSource struct {
	getValidAccessTokenFunc func(ctx context.Context, tenantID string) (string, error)
}

func (m *mockTokenSource) GetValidAccessToken(ctx context.Context, tenantID string) (string, error) {
	if m.getValidAccessTokenFunc != nil {
		return m.getValidAccessTokenFunc(ctx, tenantID)
	}
	return "access-token", nil
}

type mockProviderClient struct {
	listLocationsFunc func(ctx context.Context, accessToken, accountRef, pageToken string) (*gbp.LocationPage, error)
	listReviewsFunc   func(ctx context.Context, accessToken, accountRef, locationRef string, pageSize int, pageToken string) (*gbp.ReviewPage, error)
}

func (m *mockProviderClient) ListLocations(ctx context.Context, accessToken, accountRef, pageToken string) (*gbp.LocationPage, error) {
	if m.listLocationsFunc != nil {
		return m.listLocationsFunc(ctx, accessToken, accountRef, pageToken)
	}
	return &gbp.LocationPage{}, nil
}

func (m *mockProviderClient) ListReviews(ctx context.Context, accessToken, accountRef, locationRef string, pageSize int, pageToken string) (*gbp.ReviewPage, error) {
	if m.listReviewsFunc != nil {
		return m.listReviewsFunc(ctx, accessToken, accountRef, locationRef, pageSize, pageToken)
	}
	return &gbp.ReviewPage{}, nil
}
