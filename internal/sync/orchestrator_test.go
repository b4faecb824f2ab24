package sync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/reviewkit/sync-worker/internal/gbp"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/token"
)

// orchEnv is a scripted world for orchestrator runs: a fixed location table,
// provider pages keyed by (location_ref, page_token), and a durable cursor
// row that survives across Run calls.
type orchEnv struct {
	locations []models.Location
	pages     map[string]*gbp.ReviewPage
	cursor    *models.SyncCursor
	reviews   *fakeReviewDB

	listReviewsCalls  map[string]int
	listReviewsTokens map[string][]string
	tokenCalls        map[string]int
	tokenErr         map[string]error
	providerErr      map[string]error
}

func newOrchEnv(locations []models.Location) *orchEnv {
	return &orchEnv{
		locations:        locations,
		pages:            make(map[string]*gbp.ReviewPage),
		cursor:           &models.SyncCursor{Purpose: models.CursorPurposeReviewSync},
		reviews:          newFakeReviewDB(),
		listReviewsCalls:  make(map[string]int),
		listReviewsTokens: make(map[string][]string),
		tokenCalls:        make(map[string]int),
		tokenErr:          make(map[string]error),
		providerErr:       make(map[string]error),
	}
}

func (e *orchEnv) addPage(locationRef, pageToken string, page gbp.ReviewPage) {
	e.pages[locationRef+"|"+pageToken] = &page
}

func (e *orchEnv) locationStore() *mockLocationStore {
	return &mockLocationStore{
		listAfterFunc: func(ctx context.Context, afterID string, limit int) ([]models.Location, error) {
			sorted := make([]models.Location, len(e.locations))
			copy(sorted, e.locations)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

			var out []models.Location
			for _, loc := range sorted {
				if loc.ID > afterID {
					out = append(out, loc)
				}
				if len(out) == limit {
					break
				}
			}
			return out, nil
		},
		getByIDsFunc: func(ctx context.Context, ids []string) ([]models.Location, error) {
			var out []models.Location
			for _, loc := range e.locations {
				for _, id := range ids {
					if loc.ID == id {
						out = append(out, loc)
					}
				}
			}
			return out, nil
		},
	}
}

func (e *orchEnv) tokenSource() *mockTokenSource {
	return &mockTokenSource{
		getValidAccessTokenFunc: func(ctx context.Context, tenantID string) (string, error) {
			e.tokenCalls[tenantID]++
			if err := e.tokenErr[tenantID]; err != nil {
				return "", err
			}
			return "access-token", nil
		},
	}
}

func (e *orchEnv) provider() *mockProviderClient {
	return &mockProviderClient{
		listReviewsFunc: func(ctx context.Context, accessToken, accountRef, locationRef string, pageSize int, pageToken string) (*gbp.ReviewPage, error) {
			e.listReviewsCalls[locationRef]++
			e.listReviewsTokens[locationRef] = append(e.listReviewsTokens[locationRef], pageToken)
			if err := e.providerErr[locationRef]; err != nil {
				return nil, err
			}
			if page, ok := e.pages[locationRef+"|"+pageToken]; ok {
				return page, nil
			}
			return &gbp.ReviewPage{}, nil
		},
	}
}

func (e *orchEnv) cursorStore() *mockCursorStore {
	return &mockCursorStore{
		loadFunc: func(ctx context.Context, purpose string) (*models.SyncCursor, error) {
			clone := *e.cursor
			return &clone, nil
		},
		saveFunc: func(ctx context.Context, cursor *models.SyncCursor) error {
			clone := *cursor
			e.cursor = &clone
			return nil
		},
	}
}

func (e *orchEnv) orchestrator(reviews *mockReviewStore, opts Options) *Orchestrator {
	store := reviews
	if store == nil {
		store = e.reviews.store()
	}
	queue := NewQueueProcessor(&mockJobStore{}, 5, time.Minute)
	upserter := NewUpserter(store, &mockStatusStore{})
	return NewOrchestrator(queue, upserter, e.tokenSource(), e.provider(), e.locationStore(), store, e.cursorStore(), opts)
}

func sweepLocations() []models.Location {
	return []models.Location{
		{ID: "loc-1", TenantID: "tenant-1", AccountRef: "accounts/1", LocationRef: "locations/11"},
		{ID: "loc-2", TenantID: "tenant-1", AccountRef: "accounts/1", LocationRef: "locations/22"},
	}
}

func TestOrchestrator_Run_FullSweepResetsCursor(t *testing.T) {
	env := newOrchEnv(sweepLocations())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.addPage("locations/11", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-1", base)}})
	env.addPage("locations/22", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-2", base)}})

	orch := env.orchestrator(nil, Options{MaxReviews: 100})

	report, err := orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Aborted {
		t.Fatal("expected run to finish within budget")
	}
	if report.Scanned != 2 || report.Upserted != 2 {
		t.Fatalf("expected 2 scanned / 2 upserted, got %d / %d", report.Scanned, report.Upserted)
	}
	if report.LocationsCompleted != 2 {
		t.Fatalf("expected both locations completed, got %d", report.LocationsCompleted)
	}
	if env.cursor.LocationCursor != nil || env.cursor.PageToken != nil {
		t.Errorf("expected cursor reset after a full sweep, got %+v", env.cursor)
	}
	if len(env.reviews.rows) != 2 {
		t.Errorf("expected 2 stored reviews, got %d", len(env.reviews.rows))
	}
}

func TestOrchestrator_Run_ItemBudgetResumesAcrossRuns(t *testing.T) {
	env := newOrchEnv(sweepLocations())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.addPage("locations/11", "", gbp.ReviewPage{
		Reviews:       []gbp.ReviewRecord{testRecord("r-1", base), testRecord("r-2", base)},
		NextPageToken: "p2",
	})
	env.addPage("locations/11", "p2", gbp.ReviewPage{
		Reviews: []gbp.ReviewRecord{testRecord("r-3", base), testRecord("r-4", base)},
	})
	env.addPage("locations/22", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-5", base)}})

	orch := env.orchestrator(nil, Options{MaxReviews: 2})

	// Run 1 ingests page one of loc-1 and stops on the item budget with the
	// in-flight page token persisted.
	report, err := orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if !report.Aborted {
		t.Fatal("run 1: expected a budget abort")
	}
	if report.Scanned != 2 {
		t.Fatalf("run 1: expected 2 scanned, got %d", report.Scanned)
	}
	if env.cursor.PageToken == nil || *env.cursor.PageToken != "p2" {
		t.Fatalf("run 1: expected page token p2 persisted, got %+v", env.cursor.PageToken)
	}
	if env.cursor.LocationCursor != nil {
		t.Fatalf("run 1: loc-1 is still in flight, cursor must not pass it")
	}

	// Run 2 resumes loc-1 at p2, finishes it and stops before loc-2.
	report, err = orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if !report.Aborted {
		t.Fatal("run 2: expected a budget abort")
	}
	if env.cursor.LocationCursor == nil || *env.cursor.LocationCursor != "loc-1" {
		t.Fatalf("run 2: expected cursor past loc-1, got %+v", env.cursor.LocationCursor)
	}
	if env.cursor.PageToken != nil {
		t.Fatalf("run 2: expected page token cleared, got %q", *env.cursor.PageToken)
	}

	// Run 3 sweeps loc-2, completing the cycle.
	report, err = orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if report.Aborted {
		t.Fatal("run 3: expected the sweep to complete")
	}
	if env.cursor.LocationCursor != nil {
		t.Errorf("run 3: expected cursor reset, got %+v", env.cursor.LocationCursor)
	}

	if len(env.reviews.rows) != 5 {
		t.Fatalf("expected all 5 reviews ingested across runs, got %d", len(env.reviews.rows))
	}
	if env.reviews.upserts != 5 {
		t.Errorf("expected 5 writes total, got %d", env.reviews.upserts)
	}
}

func TestOrchestrator_Run_StaleTokenDroppedWhenPriorityHandlesLocation(t *testing.T) {
	env := newOrchEnv(sweepLocations())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.addPage("locations/11", "", gbp.ReviewPage{
		Reviews:       []gbp.ReviewRecord{testRecord("r-1", base), testRecord("r-2", base)},
		NextPageToken: "p2",
	})
	env.addPage("locations/11", "p2", gbp.ReviewPage{
		Reviews: []gbp.ReviewRecord{testRecord("r-3", base)},
	})
	env.addPage("locations/22", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-4", base)}})

	// Run 1 stops on the item budget mid loc-1, persisting its page token.
	report, err := env.orchestrator(nil, Options{MaxReviews: 2}).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if !report.Aborted {
		t.Fatal("run 1: expected a budget abort")
	}
	if env.cursor.PageToken == nil || *env.cursor.PageToken != "p2" {
		t.Fatalf("run 1: expected page token p2 persisted, got %+v", env.cursor.PageToken)
	}

	// Run 2's priority pass completes loc-1 from scratch, so the sweep skips
	// it. The persisted token is loc-1's and must not carry over to loc-2.
	store := env.reviews.store()
	store.priorityLocationIDsFunc = func(ctx context.Context, since time.Time, limit int) ([]string, error) {
		return []string{"loc-1"}, nil
	}
	report, err = env.orchestrator(store, Options{MaxReviews: 100}).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if report.Aborted {
		t.Fatal("run 2: expected the sweep to complete")
	}
	tokens := env.listReviewsTokens["locations/22"]
	if len(tokens) != 1 || tokens[0] != "" {
		t.Fatalf("expected loc-2 fetched once from the first page, got tokens %q", tokens)
	}
	if len(env.reviews.rows) != 4 {
		t.Errorf("expected all 4 reviews ingested, got %d", len(env.reviews.rows))
	}
}

func TestOrchestrator_Run_SkipsFailedLocationAndAdvances(t *testing.T) {
	env := newOrchEnv(sweepLocations())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.providerErr["locations/11"] = errors.New("503 backend unavailable")
	env.addPage("locations/22", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-1", base)}})

	orch := env.orchestrator(nil, Options{MaxReviews: 100})

	report, err := orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("expected no run-level error, got %v", err)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "loc-1") {
		t.Fatalf("expected one error for loc-1, got %v", report.Errors)
	}
	if report.LocationsCompleted != 1 {
		t.Fatalf("expected loc-2 completed despite loc-1 failing, got %d", report.LocationsCompleted)
	}
	if len(env.reviews.rows) != 1 {
		t.Errorf("expected loc-2's review stored, got %d rows", len(env.reviews.rows))
	}
}

func TestOrchestrator_Run_ReauthTenantSkippedForRestOfRun(t *testing.T) {
	env := newOrchEnv([]models.Location{
		{ID: "loc-1", TenantID: "tenant-1", AccountRef: "accounts/1", LocationRef: "locations/11"},
		{ID: "loc-2", TenantID: "tenant-1", AccountRef: "accounts/1", LocationRef: "locations/22"},
		{ID: "loc-3", TenantID: "tenant-2", AccountRef: "accounts/2", LocationRef: "locations/33"},
	})
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.tokenErr["tenant-1"] = token.ErrReauthRequired
	env.addPage("locations/33", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-1", base)}})

	orch := env.orchestrator(nil, Options{MaxReviews: 100})

	report, err := orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("expected no run-level error, got %v", err)
	}
	if env.tokenCalls["tenant-1"] != 1 {
		t.Fatalf("expected a single token attempt for tenant-1, got %d", env.tokenCalls["tenant-1"])
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected both tenant-1 locations reported, got %v", report.Errors)
	}
	if report.LocationsCompleted != 1 {
		t.Fatalf("expected tenant-2's location completed, got %d", report.LocationsCompleted)
	}
}

func TestOrchestrator_Run_PriorityLocationSyncedOnce(t *testing.T) {
	env := newOrchEnv(sweepLocations())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.addPage("locations/11", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-1", base)}})
	env.addPage("locations/22", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-2", base)}})

	store := env.reviews.store()
	store.priorityLocationIDsFunc = func(ctx context.Context, since time.Time, limit int) ([]string, error) {
		return []string{"loc-2"}, nil
	}

	orch := env.orchestrator(store, Options{MaxReviews: 100})

	report, err := orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.PriorityLocations != 1 {
		t.Fatalf("expected one priority location, got %d", report.PriorityLocations)
	}
	// The sweep must dedupe the priority-handled location, not refetch it.
	if env.listReviewsCalls["locations/22"] != 1 {
		t.Errorf("expected loc-2 fetched once, got %d", env.listReviewsCalls["locations/22"])
	}
	if env.listReviewsCalls["locations/11"] != 1 {
		t.Errorf("expected loc-1 fetched once, got %d", env.listReviewsCalls["locations/11"])
	}
	if len(env.reviews.rows) != 2 {
		t.Errorf("expected both reviews stored, got %d", len(env.reviews.rows))
	}
}

func TestOrchestrator_Run_MinIntervalGate(t *testing.T) {
	env := newOrchEnv(nil)
	orch := env.orchestrator(nil, Options{MaxReviews: 100, MinRunInterval: time.Hour})

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }

	report, err := orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if report.Skipped {
		t.Fatal("first run must not be gated")
	}

	now = now.Add(time.Minute)
	report, err = orch.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !report.Skipped {
		t.Fatal("expected second run within the interval to be skipped")
	}

	report, err = orch.Run(context.Background(), RunOptions{Force: true})
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if report.Skipped {
		t.Fatal("expected force to bypass the schedule gate")
	}
}

func TestOrchestrator_Run_CursorOverride(t *testing.T) {
	env := newOrchEnv(sweepLocations())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.addPage("locations/22", "", gbp.ReviewPage{Reviews: []gbp.ReviewRecord{testRecord("r-1", base)}})

	orch := env.orchestrator(nil, Options{MaxReviews: 100})

	report, err := orch.Run(context.Background(), RunOptions{CursorOverride: "loc-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if env.listReviewsCalls["locations/11"] != 0 {
		t.Errorf("expected loc-1 skipped by the override, got %d calls", env.listReviewsCalls["locations/11"])
	}
	if report.LocationsCompleted != 1 {
		t.Errorf("expected only loc-2 swept, got %d", report.LocationsCompleted)
	}
}

func TestOrchestrator_DryRun_ReportsPlan(t *testing.T) {
	env := newOrchEnv(sweepLocations())

	store := env.reviews.store()
	store.priorityLocationIDsFunc = func(ctx context.Context, since time.Time, limit int) ([]string, error) {
		return []string{"loc-2"}, nil
	}

	queue := NewQueueProcessor(&mockJobStore{
		listClaimableFunc: func(ctx context.Context, max int) ([]models.SyncJob, error) {
			return []models.SyncJob{queuedJob("job-1", "tenant-1", models.JobTypeProviderSync)}, nil
		},
	}, 5, time.Minute)
	upserter := NewUpserter(store, &mockStatusStore{})
	orch := NewOrchestrator(queue, upserter, env.tokenSource(), env.provider(), env.locationStore(), store, env.cursorStore(), Options{})

	plan, err := orch.DryRun(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(plan.ClaimableJobs) != 1 || plan.ClaimableJobs[0].ID != "job-1" {
		t.Fatalf("expected job-1 in plan, got %+v", plan.ClaimableJobs)
	}
	if len(plan.PriorityLocations) != 1 || plan.PriorityLocations[0] != "loc-2" {
		t.Fatalf("expected loc-2 flagged priority, got %v", plan.PriorityLocations)
	}
	if len(plan.NextLocations) != 2 {
		t.Fatalf("expected both locations in sweep order, got %v", plan.NextLocations)
	}
	if env.listReviewsCalls["locations/11"] != 0 || env.listReviewsCalls["locations/22"] != 0 {
		t.Error("dry run must not call the provider")
	}
}
