package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/database"
	"github.com/reelforge/reelforge/internal/genapi"
	"github.com/reelforge/reelforge/internal/notify"
	"github.com/reelforge/reelforge/internal/repository"
	"github.com/reelforge/reelforge/internal/server"
	"github.com/reelforge/reelforge/internal/service"
	"github.com/reelforge/reelforge/internal/storage"
	"github.com/reelforge/reelforge/internal/stripegw"
	"github.com/reelforge/reelforge/internal/workflow"
	"github.com/reelforge/reelforge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	profileRepo := repository.NewProfileRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	planRepo := repository.NewPlanRepository(db)
	promoRepo := repository.NewPromoRepository(db)

	planService := service.NewPlanService(planRepo)
	if err := planService.EnsureDefaultPlans(ctx); err != nil {
		log.Fatalf("ensure default plans: %v", err)
	}
	catalog, err := planService.LoadCatalog(ctx)
	if err != nil {
		log.Fatalf("load plan catalog: %v", err)
	}

	notifier, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramOpsChatID, logr)
	if err != nil {
		log.Fatalf("telegram notifier: %v", err)
	}

	gateway := stripegw.New(cfg.StripeSecretKey, logr)
	reconciler := service.NewReconciler(profileRepo, auditRepo, catalog, gateway, notifier, logr)
	promoService := service.NewPromoService(promoRepo, auditRepo, logr)

	vendor := genapi.NewClient(cfg, logr)
	dispatcher := workflow.NewDispatcher(
		profileRepo, generationRepo, auditRepo, vendor,
		workflow.NewCorrelationTable(), logr,
		cfg.DispatchDelay, cfg.DispatchStagger, cfg.PollInterval,
	)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	// Background poller drains in-flight generations; it keeps running for
	// the life of the process regardless of how many workflows are active.
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := dispatcher.PollOnce(ctx); err != nil {
					logr.Error("poll generations", "err", err)
				}
			}
		}
	}()

	srv := server.NewServer(
		cfg.ListenAddr, cfg.StripeWebhookSecret, cfg.OpsUsername, cfg.OpsPassword,
		logr, reconciler, dispatcher,
		profileRepo, auditRepo, generationRepo,
		planService, promoService, uploader,
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
