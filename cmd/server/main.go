package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/config"
	"github.com/soundspan/soundspan/internal/httpapp"
	"github.com/soundspan/soundspan/internal/logger"
	"github.com/soundspan/soundspan/internal/metrics"
	"github.com/soundspan/soundspan/internal/musicbrainz"
	"github.com/soundspan/soundspan/internal/notify"
	"github.com/soundspan/soundspan/internal/orchestrator"
	"github.com/soundspan/soundspan/internal/store"
	"github.com/soundspan/soundspan/internal/worker"
)

func main() {
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Initialize DB
	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Acquisition system client
	lidarr := acquisition.NewLidarrClient(cfg.LidarrURL, cfg.LidarrAPIKey)

	// Artist MBID resolution; disabled when no URL is configured
	var metadata orchestrator.MetadataLookup
	if cfg.MusicBrainzURL != "" {
		metadata = musicbrainz.NewClient(cfg.MusicBrainzURL)
	}

	// Notification policy and delivery
	policy := notify.NewPolicy(
		notify.WithRetryWindow(time.Duration(cfg.RetryWindowMinutes) * time.Minute),
	)
	var sender notify.Sender
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.NotifyWebhookURL)
	} else {
		sender = notify.NewLogSender(appLogger)
	}

	m := metrics.New()
	db.OnTxRetry = m.TxRetries.Inc

	orch := orchestrator.New(orchestrator.Deps{
		Store:    db,
		Acquirer: lidarr,
		Policy:   policy,
		Sender:   sender,
		Metadata: metadata,
		Metrics:  m,
		Logger:   appLogger,
	}, orchestrator.Config{
		RootFolder:         cfg.RootFolder,
		PendingTimeout:     cfg.PendingTimeout,
		NoSourceTimeout:    cfg.NoSourceTimeout,
		ImportTimeout:      cfg.ImportTimeout,
		FailureDedupWindow: cfg.FailureDedupWindow,
		QueueSyncMissLimit: cfg.QueueSyncMissLimit,
	})

	// Initialize Worker
	w := worker.NewWorker(orch, lidarr)
	w.SweepInterval = cfg.SweepInterval
	w.SyncInterval = cfg.SyncInterval
	w.Start()
	defer w.Stop()

	// Initialize Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Routes
	h := httpapp.NewHandler(orch, db, lidarr, m)
	h.RegisterRoutes(r)

	// Start Server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
