package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/orderflow/cmd/orderflow/cli"
	"github.com/odyssey-erp/orderflow/internal/app"
	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/platform/cache"
	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		os.Exit(cli.Run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr))
	}

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
				logger.Error("migrate", slog.Any("error", err))
				os.Exit(1)
			}
		}
		pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	redisClient, err = cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running without query cache and distributed locks", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services := app.BuildServices(cfg, app.Infrastructure{Pool: pool, Redis: redisClient}, metrics, logger)

	if !cfg.UsesPostgres() {
		go sweepInProcess(ctx, services, logger)
	}

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Services:   services,
		JobHandler: jobHandler,
		Metrics:    metrics,
		Pool:       pool,
		Redis:      redisClient,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// sweepInProcess expires overdue RFQs when the memory backend keeps every
// document inside this process and no worker can reach them.
func sweepInProcess(ctx context.Context, services *app.Services, logger *slog.Logger) {
	job := jobs.NewRFQExpireJob(services.Flows, logger, nil)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := jobs.NewRFQExpireTask(nil)
			if err != nil {
				logger.Error("build rfq sweep task", slog.Any("error", err))
				continue
			}
			_ = job.Handle(ctx, task)
		}
	}
}
