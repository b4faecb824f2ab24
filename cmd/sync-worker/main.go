package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reviewkit/sync-worker/internal/config"
	"github.com/reviewkit/sync-worker/internal/database"
	"github.com/reviewkit/sync-worker/internal/drafts"
	"github.com/reviewkit/sync-worker/internal/gbp"
	"github.com/reviewkit/sync-worker/internal/logger"
	"github.com/reviewkit/sync-worker/internal/models"
	"github.com/reviewkit/sync-worker/internal/repository"
	"github.com/reviewkit/sync-worker/internal/server"
	syncengine "github.com/reviewkit/sync-worker/internal/sync"
	"github.com/reviewkit/sync-worker/internal/token"
	"github.com/reviewkit/sync-worker/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Init()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	logger.Log.Info("Database connected successfully")

	logger.Log.Info("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	logger.Log.Info("Migrations completed successfully")

	// Repositories
	connectionRepo := repository.NewConnectionRepository(db)
	locationRepo := repository.NewLocationRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	cursorRepo := repository.NewCursorRepository(db)
	statusRepo := repository.NewStatusRepository(db)
	jobRepo := repository.NewSyncJobRepository(db)
	draftRepo := repository.NewDraftRepository(db)

	// Provider access
	providerClient := gbp.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret)
	tokenManager := token.NewManager(connectionRepo, providerClient)

	// Sync engine
	queue := syncengine.NewQueueProcessor(jobRepo, cfg.ClaimBatchSize, cfg.TenantCooldown)
	locationSyncer := syncengine.NewLocationSyncer(tokenManager, providerClient, locationRepo)
	queue.Register(models.JobTypeProviderSync, locationSyncer.HandleProviderSync)

	upserter := syncengine.NewUpserter(reviewRepo, statusRepo)
	orchestrator := syncengine.NewOrchestrator(
		queue, upserter, tokenManager, providerClient,
		locationRepo, reviewRepo, cursorRepo,
		syncengine.Options{
			TimeBudget:       cfg.SyncTimeBudget,
			MaxReviews:       cfg.MaxReviewsPerRun,
			PriorityLookback: cfg.PriorityLookback,
			PageSize:         cfg.ReviewPageSize,
			MinRunInterval:   cfg.SyncMinInterval,
		},
	)

	// Draft pipeline
	pipeline := drafts.NewPipeline(reviewRepo, draftRepo, statusRepo, drafts.Options{
		Lookback:   time.Duration(cfg.DraftLookbackDays) * 24 * time.Hour,
		BatchLimit: cfg.DraftBatchLimit,
		Cooldown:   cfg.DraftCooldown,
	})

	// Trigger surface
	srv := server.New(orchestrator, pipeline, jobRepo, cfg.CronSecret)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	// Scheduler
	w := worker.New(cfg, orchestrator, pipeline, locationRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		logger.Log.WithField("addr", cfg.ListenAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	go func() {
		errChan <- w.Start(ctx)
	}()

	select {
	case <-sigChan:
		logger.Log.Info("Shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("HTTP server shutdown failed")
		}

		select {
		case <-shutdownCtx.Done():
			logger.Log.Warn("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("Worker error during shutdown")
			}
		}

		logger.Log.Info("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
