// Command sensorvault runs the sensor-data upload service: the HTTP API,
// the upload orchestrator, and the stale-upload reaper.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rgeorgiev/sensorvault/internal/config"
	"github.com/rgeorgiev/sensorvault/internal/handlers"
	"github.com/rgeorgiev/sensorvault/internal/middleware"
	"github.com/rgeorgiev/sensorvault/internal/repository"
	"github.com/rgeorgiev/sensorvault/internal/repository/postgres"
	"github.com/rgeorgiev/sensorvault/internal/repository/sqlite"
	"github.com/rgeorgiev/sensorvault/internal/service"
	"github.com/rgeorgiev/sensorvault/internal/storage/s3"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var repos *repository.Repositories
	var cleanup func()
	switch cfg.DatabaseBackend {
	case config.BackendPostgres:
		repos, cleanup, err = postgres.NewRepositories(ctx, cfg.DatabaseURL, int32(cfg.MaxConnections))
	case config.BackendSQLite:
		repos, cleanup, err = sqlite.NewRepositories(ctx, cfg.SQLitePath)
	default:
		return fmt.Errorf("unknown database backend %q", cfg.DatabaseBackend)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}
	defer cleanup()
	slog.Info("database initialized", "backend", cfg.DatabaseBackend)

	store, err := s3.NewS3Store(ctx, s3.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PathStyle:       cfg.S3PathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	orch := service.NewUploadOrchestrator(repos.Uploads, store, cfg.OperationTimeout)
	limiter := service.NewRateLimiter(repos.RateLimits)
	reaper := service.NewStaleUploadReaper(repos.Uploads, repos.RateLimits, store, cfg.StaleThreshold)

	startQuota := service.Quota{Count: cfg.StartQuota.Count, Window: cfg.StartQuota.Window}
	chunkQuota := service.Quota{Count: cfg.ChunkQuota.Count, Window: cfg.ChunkQuota.Window}

	mux := http.NewServeMux()
	mux.Handle("GET /api/uploads", middleware.Auth(handlers.ListUploadsHandler(orch)))
	mux.Handle("POST /api/uploads", middleware.Auth(
		middleware.RateLimit(limiter, "upload_start", startQuota, handlers.StartUploadHandler(orch))))
	mux.Handle("PUT /api/uploads/{id}", middleware.Auth(
		middleware.RateLimit(limiter, "upload_chunk", chunkQuota, handlers.UploadPartHandler(orch, cfg.MaxChunkSize))))
	mux.Handle("PATCH /api/uploads/{id}", middleware.Auth(handlers.CompleteUploadHandler(orch)))
	mux.Handle("DELETE /api/uploads/{id}", middleware.Auth(handlers.AbortUploadHandler(orch)))
	mux.HandleFunc("GET /health", handlers.HealthHandler(map[string]handlers.HealthChecker{
		"s3": store,
	}))
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Recovery(middleware.Logging(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		reaper.Run(gctx, cfg.ReaperInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
