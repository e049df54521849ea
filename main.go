package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/analytics"
	"github.com/habitaq/lead-analytics/internal/config"
	"github.com/habitaq/lead-analytics/internal/database"
	"github.com/habitaq/lead-analytics/internal/httpserver"
	"github.com/habitaq/lead-analytics/internal/metrics"
	"github.com/habitaq/lead-analytics/internal/middleware"
	"github.com/habitaq/lead-analytics/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting lead-analytics service",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Missing infrastructure degrades to in-memory stores instead of
	// refusing to start. Useful locally; loud in the logs everywhere else.
	var db *database.PostgresDB
	if db, err = database.NewPostgresDB(ctx, cfg.Database, logger); err != nil {
		logger.Warn("database unavailable, continuing with in-memory storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		if err := storage.NewPostgresRollupRepo(db.Pool).EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to initialize rollup schema", zap.Error(err))
		}
		if err := storage.NewPostgresLeadRepo(db.Pool).EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to initialize lead schema", zap.Error(err))
		}
	}

	var rdb *database.RedisDB
	if rdb, err = database.NewRedisDB(ctx, cfg.Redis, logger); err != nil {
		logger.Warn("redis unavailable, continuing with in-memory counters", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	var archive storage.EventArchive
	if cfg.Archive.Enabled {
		ch, err := storage.NewClickHouseArchive(cfg.Archive, logger)
		if err != nil {
			logger.Warn("event archive unavailable, events will not be archived", zap.Error(err))
		} else {
			defer ch.Close()
			if err := ch.InitSchema(ctx); err != nil {
				logger.Fatal("failed to initialize archive schema", zap.Error(err))
			}
			archive = ch
		}
	}

	m := metrics.NewMetrics("leads")

	server := httpserver.NewServer(httpserver.Dependencies{
		DB:      db,
		Redis:   rdb,
		Archive: archive,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})

	recovery := middleware.NewRecoveryMiddleware(logger)
	logging := middleware.NewLoggingMiddleware(logger)
	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	auth := middleware.NewAuthMiddleware(cfg.Auth, logger)

	handler := recovery.Handler(logging.Handler(rateLimit.Handler(auth.Handler(server.Handler()))))

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.Rollup.Interval > 0 {
		go runRollupScheduler(rootCtx, server.RollupJob(), cfg.Rollup.Interval, logger)
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("stopped")
}

// runRollupScheduler periodically rolls up the current UTC day. Each tick
// re-reads and upserts current totals, so overlapping a later manual run
// is harmless.
func runRollupScheduler(ctx context.Context, job *analytics.RollupJob, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			_, err := job.Run(runCtx, analytics.RollupRequest{Date: time.Now().UTC()})
			cancel()
			if err != nil {
				logger.Error("scheduled rollup failed", zap.Error(err))
			}
		}
	}
}
