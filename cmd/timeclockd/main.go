package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"timeclock-backend/config"
	"timeclock-backend/internal/aggregate"
	"timeclock-backend/internal/api"
	"timeclock-backend/internal/db"
	"timeclock-backend/internal/geofence"
	"timeclock-backend/internal/model"
	"timeclock-backend/internal/notification"
	"timeclock-backend/internal/store"
	tsync "timeclock-backend/internal/sync"
	"timeclock-backend/internal/tracker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.String("path", configPath), zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("path", configPath))

	tz, err := cfg.Tracking.Location()
	if err != nil {
		logger.Fatal("failed to load timezone", zap.String("timezone", cfg.Tracking.Timezone), zap.Error(err))
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	logger.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	aggregator := aggregate.New(appStore, cfg.Tracking.UserID, tz)

	webpushOptions := &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
	workerPool.Start(ctx)

	trk := tracker.New(appStore, aggregator, cfg.Tracking, tz, func(loc model.Location) {
		// Auto-start is disabled: surface the candidate so the user can
		// choose to start manually.
		workerPool.Dispatch(notification.Job{
			Kind:    notification.KindReportReminder,
			UserID:  cfg.Tracking.UserID,
			Title:   "Arrived at " + loc.Name,
			Message: fmt.Sprintf("You are at %s. Start tracking?", loc.Name),
		})
	})

	debouncer := geofence.NewDebouncer(
		cfg.Tracking.EntryTimeout,
		cfg.Tracking.ExitTimeout,
		cfg.Tracking.MaxAccuracyMeters,
		func(c geofence.Confirmed) { trk.HandleConfirmed(ctx, c) },
	)
	defer debouncer.Close()

	// A background process can be killed at any time; re-read the ledger
	// before accepting new events. The event source posts a fence snapshot
	// once it is up, which triggers the full reconciliation.
	if act, err := trk.Active(ctx); err != nil {
		logger.Error("failed to read persisted session", zap.Error(err))
	} else if act != nil {
		logger.Info("persisted session found on startup",
			zap.Int64("location_id", act.LocationID),
			zap.Time("enter_at", act.EnterAt))
	}

	var reconciler *tsync.Reconciler
	if cfg.Sync.Enabled {
		client := tsync.NewClient(&cfg.Sync)
		reconciler = tsync.NewReconciler(appStore, client, cfg.Tracking.UserID,
			cfg.Sync.Interval, cfg.Sync.BackoffInitial, cfg.Sync.BackoffMax)
		go reconciler.Run(ctx)
	} else {
		logger.Info("sync is disabled")
	}

	sweeper := notification.NewSweeper(trk, workerPool, 15*time.Minute)
	go sweeper.Run(ctx)

	handler := api.NewHandler(appStore, trk, aggregator, debouncer, reconciler, webpushOptions, cfg.Tracking.UserID)
	router := api.NewRouter(handler, &cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("HTTP server shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
