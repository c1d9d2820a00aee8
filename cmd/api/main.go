// Package main is the entry point for the feed API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/alphawhale/whalefeed/internal/api"
	"github.com/alphawhale/whalefeed/internal/archive"
	"github.com/alphawhale/whalefeed/internal/auth"
	"github.com/alphawhale/whalefeed/internal/config"
	"github.com/alphawhale/whalefeed/internal/db"
	"github.com/alphawhale/whalefeed/internal/feed"
	"github.com/alphawhale/whalefeed/internal/health"
	"github.com/alphawhale/whalefeed/internal/idempotency"
	"github.com/alphawhale/whalefeed/internal/jobs"
	"github.com/alphawhale/whalefeed/internal/middleware"
	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/ranking"
	"github.com/alphawhale/whalefeed/internal/telemetry"
	"github.com/alphawhale/whalefeed/internal/tracing"
	"github.com/alphawhale/whalefeed/internal/trust"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("AlphaWhale Feed API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx := context.Background()

	// Tracing (optional, enabled via OTLP endpoint)
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "whalefeed-api",
		Enabled:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Environment:  cfg.Env,
		ExporterType: os.Getenv("OTEL_EXPORTER_TYPE"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SamplingRate: tracingSamplingRate(),
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Catalog repository: Postgres when configured, in-memory otherwise.
	var (
		catalog   opportunity.Repository
		dbConn    *sql.DB
		dbChecker api.HealthChecker
	)
	trustStore := trust.NewInMemoryStore()

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		dbConn = conn
		catalog = opportunity.NewPostgresRepository(conn)
		dbChecker = health.NewDBChecker(conn)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory catalog")
		catalog = opportunity.NewInMemoryRepository()
	}

	// Redis: telemetry counters and rate limiting when configured.
	var (
		telemetryStore telemetry.Store
		rateLimitStore middleware.RateLimitStore
		redisChecker   api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		telemetryStore = telemetry.NewRedisStore(redisClient)
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
		redisChecker = health.NewRedisChecker(redisClient)
	} else {
		logger.Warn("REDIS_URL not set, using in-process telemetry and rate limiting")
		telemetryStore = telemetry.NewInMemoryStore()
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	rankMetrics := ranking.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	trustMetrics := trust.NewMetrics()
	for _, reg := range []func(prometheus.Registerer) error{
		httpMetrics.Register,
		rankMetrics.Register,
		jobMetrics.Register,
		trustMetrics.Register,
	} {
		if err := reg(registry); err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	// Ranking calibration and snapshot store
	cal, err := ranking.LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		// LoadCalibration falls back to defaults; log and continue.
		logger.Warn("calibration load degraded to defaults", "error", err)
	}
	snapshots := ranking.NewStore(cfg.SnapshotRetain)

	// Live update broadcaster and optional snapshot archive.
	broadcaster := feed.NewBroadcaster(logger)
	publishHook := func(snap *ranking.Snapshot) { broadcaster.NotifyPublished(snap) }
	if cfg.ArchiveEnabled() {
		archiver, err := archive.NewArchiver(archive.Config{
			BucketName:      cfg.ArchiveBucketName,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
			Logger:          logger,
			JobMetrics:      jobMetrics,
		})
		if err != nil {
			logger.Error("failed to initialize snapshot archive", "error", err)
			os.Exit(1)
		}
		publishHook = func(snap *ranking.Snapshot) {
			broadcaster.NotifyPublished(snap)
			archiver.NotifyPublished(snap)
		}
		logger.Info("snapshot archive enabled", "bucket", cfg.ArchiveBucketName)
	}

	// Guardian rating sync when the ratings table is reachable.
	if dbConn != nil {
		trustSync := trust.NewSyncJob(trust.SyncJobConfig{
			Logger:     logger,
			Metrics:    trustMetrics,
			JobMetrics: jobMetrics,
		}, trust.NewPostgresFetcher(dbConn), trustStore)
		if err := trustSync.SyncNow(ctx); err != nil {
			logger.Warn("initial guardian rating sync failed", "error", err)
		}
		if err := trustSync.Start(ctx); err != nil {
			logger.Error("failed to start trust sync job", "error", err)
			os.Exit(1)
		}
		defer trustSync.Stop()
	}

	// Rank recompute job
	recomputeJob := ranking.NewRecomputeJob(ranking.RecomputeJobConfig{
		Interval:    cfg.RankRefreshInterval,
		Timeout:     cfg.RankRefreshTimeout,
		Logger:      logger,
		Metrics:     rankMetrics,
		JobMetrics:  jobMetrics,
		PublishHook: publishHook,
	}, ranking.Sources{
		Catalog:   catalog,
		Trust:     trustStore,
		Telemetry: telemetryStore,
	}, cal, snapshots)

	// Publish the first snapshot before accepting traffic; readiness
	// reports pending until this succeeds.
	if err := recomputeJob.RecomputeNow(ctx); err != nil {
		logger.Error("initial rank recompute failed, serving will wait for the next cycle",
			"error", err)
	}
	if err := recomputeJob.Start(ctx); err != nil {
		logger.Error("failed to start rank recompute job", "error", err)
		os.Exit(1)
	}
	defer recomputeJob.Stop()

	// Idempotency for telemetry batch retries
	idempotencyRepo := idempotency.NewInMemoryRepository()
	cleanupStop := make(chan struct{})
	go idempotency.RunPeriodicCleanup(idempotencyRepo, time.Hour, idempotency.DefaultExpiry, cleanupStop)
	defer close(cleanupStop)

	jwtService := newJWTService(cfg)
	feedService := feed.NewService(snapshots, feed.SponsoredLimit{
		Window: cfg.SponsoredWindow,
		Max:    cfg.SponsoredMax,
	}, logger)

	feedHandlers := api.NewFeedHandlers(feedService)
	opportunityHandlers := api.NewOpportunityHandlers(catalog, trustStore, snapshots)
	telemetryHandlers := api.NewTelemetryHandlers(telemetryStore)
	adminHandlers := api.NewAdminHandlers(jwtService, recomputeJob, snapshots)
	updatesHandlers := api.NewUpdatesWebSocketHandlers(broadcaster)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      dbChecker,
		RedisChecker:   redisChecker,
		Snapshots:      snapshots,
		MetricsEnabled: true,
	})

	feedLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultFeedLimit(), middleware.ActorKeyFunc())
	telemetryLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultTelemetryLimit(), middleware.ActorKeyFunc())

	mux := http.NewServeMux()
	mux.Handle("/feed", feedLimiter(http.HandlerFunc(feedHandlers.GetFeed)))
	mux.HandleFunc("/feed/updates", updatesHandlers.SubscribeToUpdates)
	mux.HandleFunc("/opportunities", opportunityHandlers.ListOpportunities)
	mux.HandleFunc("/opportunities/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/trust") {
			opportunityHandlers.GetOpportunityTrust(w, r)
			return
		}
		opportunityHandlers.GetOpportunity(w, r)
	})
	mux.Handle("/telemetry/events", telemetryLimiter(http.HandlerFunc(telemetryHandlers.PostEvents)))
	mux.HandleFunc("/internal/rank/refresh", adminHandlers.RefreshRank)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"whalefeed-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Idempotency applies only to the telemetry ingest route.
	idempotentRoutes := map[string]bool{"/telemetry/events": true}

	handler := http.Handler(mux)
	handler = middleware.IdempotencyMiddleware(idempotencyRepo, idempotentRoutes)(handler)
	handler = middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.ActorKeyFunc())(handler)
	if origins := allowedOrigins(); len(origins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
			MaxAge:         300,
		})(handler)
	}
	if name := os.Getenv("EXPERIMENT_NAME"); name != "" {
		experiment := middleware.NewExperimentRouter(middleware.ExperimentConfig{
			Enabled:          true,
			Name:             name,
			TrafficPercent:   experimentTrafficPercent(),
			ErrorThreshold:   5.0,
			LatencyThreshold: 1.0,
			AutoDisable:      true,
		}, logger)
		handler = experiment.Middleware(handler)
	}
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing("whalefeed-api")(handler)
	handler = middleware.RequestID(handler)
	if os.Getenv("PPROF_ENABLED") == "true" {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(handler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}

// newJWTService builds the service token verifier, with dual-key rotation
// when a previous secret is still in its grace window.
func newJWTService(cfg *config.Config) *auth.JWTService {
	previous := os.Getenv("INTERNAL_JWT_SECRET_PREVIOUS")
	if previous != "" {
		return auth.NewJWTServiceWithRotation(cfg.InternalJWTSecret, previous)
	}
	return auth.NewJWTService(cfg.InternalJWTSecret)
}

// allowedOrigins reads the comma-separated CORS origin allowlist. An
// empty list disables CORS handling entirely.
func allowedOrigins() []string {
	raw := os.Getenv("ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// experimentTrafficPercent reads EXPERIMENT_TRAFFIC_PERCENT, defaulting
// to a 10% cohort when unset or unparseable.
func experimentTrafficPercent() float64 {
	if raw := os.Getenv("EXPERIMENT_TRAFFIC_PERCENT"); raw != "" {
		if pct, err := strconv.ParseFloat(raw, 64); err == nil && pct >= 0 && pct <= 100 {
			return pct
		}
	}
	return 10
}

// tracingSamplingRate reads OTEL_TRACES_SAMPLER_ARG, defaulting to full
// sampling in development and 10% elsewhere when unset.
func tracingSamplingRate() float64 {
	if raw := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); raw != "" {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil {
			return rate
		}
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return 0
	}
	return 0.1
}
