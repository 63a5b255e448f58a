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

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/auth"
	"parking-occupancy-service/internal/capture"
	"parking-occupancy-service/internal/classifier"
	"parking-occupancy-service/internal/config"
	"parking-occupancy-service/internal/db"
	"parking-occupancy-service/internal/detector"
	httphandler "parking-occupancy-service/internal/http"
	"parking-occupancy-service/internal/http/middleware"
	"parking-occupancy-service/internal/lock"
	"parking-occupancy-service/internal/logger"
	"parking-occupancy-service/internal/metrics"
	"parking-occupancy-service/internal/monitor"
	"parking-occupancy-service/internal/notify"
	"parking-occupancy-service/internal/registry"
	"parking-occupancy-service/internal/repository"
	"parking-occupancy-service/internal/service"
	"parking-occupancy-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	parkingRepo := repository.NewParkingRepository(database)
	statusStore, err := repository.NewStatusStore(cfg.DB.Driver, database)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to initialize status store")
	}

	spotRegistry := registry.New(
		registry.NewStoreSource(parkingRepo),
		registry.NewFileSource(cfg.Spots.File, cfg.Spots.MappingFile),
		appLogger,
	)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if layout, err := spotRegistry.Load(ctx); err != nil {
		appLogger.Error().Err(err).Msg("no spot layout available, cycles will be rejected until reload")
	} else {
		appLogger.Info().
			Str("source", layout.Source).
			Int("spots", len(layout.Spots)).
			Int("mapped", len(layout.Mapping)).
			Msg("spot layout loaded")
	}

	syncEngine := service.NewSyncEngine(statusStore, appLogger)
	parkingService := service.NewParkingService(parkingRepo, appLogger)
	appMetrics := metrics.New(prometheus.DefaultRegisterer, cfg.Camera.ID)

	deps := monitor.Deps{
		Layouts: spotRegistry,
		Engine:  syncEngine,
		Metrics: appMetrics,
	}

	// Optional collaborators are only assigned when present so the
	// monitor's nil checks see a nil interface.
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			appLogger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable, cycles will be skipped until it is")
		}
		locker := lock.NewLocker(redisClient, cfg.Redis.LockTTL)
		defer locker.Close()
		deps.Lease = locker
	} else {
		appLogger.Warn().Msg("REDIS_ADDR not set, running without a sync lease")
	}

	if cfg.MQTT.Broker != "" {
		mqttClient, err := notify.NewClient(cfg.MQTT, appLogger)
		if err != nil {
			appLogger.Warn().Err(err).Msg("MQTT broker not reachable, transition notifications disabled")
		} else {
			defer mqttClient.Disconnect(250)
			deps.Notifier = notify.NewPublisher(mqttClient, cfg.MQTT.TopicPrefix, cfg.Camera.ID)
		}
	}

	r2Client, err := storage.NewR2Client(cfg.R2)
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		appLogger.Fatal().Err(err).Msg("failed to initialize R2 client")
	}
	if err != nil {
		appLogger.Warn().Msg("R2 storage not configured, snapshot uploads will be disabled")
	} else {
		deps.Snapshots = r2Client
	}

	classifierOpts := classifier.Options{
		AcceptedClasses:  cfg.Classifier.AcceptedClasses,
		MinConfidence:    cfg.Classifier.MinConfidence,
		OverlapThreshold: cfg.Classifier.OverlapThreshold,
	}
	if err := classifierOpts.Validate(); err != nil {
		appLogger.Fatal().Err(err).Msg("invalid classifier options")
	}

	if cfg.Monitor.Enabled {
		deps.Frames = capture.NewHTTPSnapshotSource(cfg.Camera)
		deps.Detector = detector.NewHTTPDetector(cfg.Detector)
	}

	occupancyMonitor := monitor.New(deps, monitor.Options{
		CameraID:              cfg.Camera.ID,
		FrameSkip:             cfg.Monitor.FrameSkip,
		LeaseTTL:              cfg.Redis.LockTTL,
		DetectorMinConfidence: cfg.Detector.MinConfidence,
		Classifier:            classifierOpts,
	}, appLogger)

	if cfg.Monitor.Enabled {
		go func() {
			if err := occupancyMonitor.Run(ctx); err != nil {
				appLogger.Error().Err(err).Msg("occupancy monitor stopped with error")
			}
		}()
	} else {
		appLogger.Info().Msg("camera monitor disabled, accepting pushed detections only")
	}

	if cfg.Retention.EventDays > 0 {
		go runRetention(ctx, parkingService, cfg.Retention, appLogger)
	}

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(parkingService, occupancyMonitor, spotRegistry, cfg, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting parking occupancy service")

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	appLogger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info().Msg("server exited")
}

func runRetention(ctx context.Context, parkingService *service.ParkingService, cfg config.RetentionConfig, log zerolog.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := parkingService.CleanupOldEvents(ctx, cfg.EventDays); err != nil {
			log.Warn().Err(err).Msg("event retention pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
