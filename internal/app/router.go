package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/manufacturing"
	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/orchestrator"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/query"
	"github.com/odyssey-erp/orderflow/internal/workflow"
	"github.com/odyssey-erp/orderflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Services   *Services
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
	Pool       *pgxpool.Pool
	Redis      *redis.Client
}

// NewRouter constructs the chi.Router with orderflow defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported on "+r.URL.Path)
	})

	r.Get("/healthz", healthHandler(params, logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	svc := params.Services
	if svc == nil {
		return r
	}
	workflowHandler := workflow.NewHandler(logger, svc.Engine)
	queryHandler := query.NewHandler(logger, svc.Query)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Idempotency(svc.Idempotency, logger))
		r.Route("/documents/{kind}", func(r chi.Router) {
			workflowHandler.MountRoutes(r)
			queryHandler.MountRoutes(r)
		})
		queryHandler.MountDashboard(r)
		r.Route("/inventory", inventory.NewHandler(logger, svc.Ledger).MountRoutes)
		r.Route("/catalog", manufacturing.NewHandler(logger, svc.Catalog).MountRoutes)
		r.Route("/flows", orchestrator.NewHandler(logger, svc.Flows).MountRoutes)
	})
	return r
}

type healthStatus struct {
	Status  string            `json:"status"`
	Backend string            `json:"backend"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func healthHandler(params RouterParams, logger *slog.Logger) http.HandlerFunc {
	backend := BackendMemory
	if params.Config != nil {
		backend = params.Config.StoreBackend
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := healthStatus{Status: "ok", Backend: backend, Checks: map[string]string{}}
		code := http.StatusOK
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				logger.Warn("health postgres", slog.Any("error", err))
				status.Checks["postgres"] = "down"
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			} else {
				status.Checks["postgres"] = "up"
			}
		}
		if params.Redis != nil {
			// Redis only backs caches and locks; losing it degrades but does not fail.
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				logger.Warn("health redis", slog.Any("error", err))
				status.Checks["redis"] = "down"
				status.Status = "degraded"
			} else {
				status.Checks["redis"] = "up"
			}
		}
		httpx.JSON(w, code, status)
	}
}
