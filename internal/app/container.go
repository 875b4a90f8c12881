package app

import (
	"context"
	"log/slog"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/manufacturing"
	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/orchestrator"
	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/internal/query"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

// Infrastructure carries the external clients. A nil Pool selects the memory
// stores; a nil Redis disables the query cache and cross-instance flow locks.
type Infrastructure struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Services is the wired domain layer shared by the API server and the worker.
type Services struct {
	Store       document.Store
	Ledger      *inventory.Service
	Catalog     manufacturing.Catalog
	Engine      *workflow.Engine
	Flows       *orchestrator.Orchestrator
	Query       *query.Service
	Idempotency IdempotencyStore
	Keys        *shared.IdempotencyStore
	Metrics     *observability.Metrics
}

// BuildServices wires the stores, the ledger, the engine and its observers,
// the orchestrator and the query facade.
func BuildServices(cfg *Config, infra Infrastructure, metrics *observability.Metrics, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{StoreBackend: BackendMemory}
	}
	s := &Services{Metrics: metrics}

	var (
		ledgerRepo inventory.RepositoryPort
		tx         workflow.Transactor
	)
	if infra.Pool != nil {
		s.Store = document.NewRepository(infra.Pool)
		ledgerRepo = inventory.NewRepository(infra.Pool)
		s.Catalog = manufacturing.NewRepository(infra.Pool)
		tx = db.NewTransactor(infra.Pool)
		s.Keys = shared.NewIdempotencyStore(infra.Pool)
		s.Idempotency = s.Keys
	} else {
		s.Store = document.NewMemoryStore()
		ledgerRepo = inventory.NewMemoryRepository()
		s.Catalog = manufacturing.NewMemoryCatalog()
	}

	var cache *query.Cache
	if infra.Redis != nil {
		cache = query.NewCache(infra.Redis, cfg.QueryCacheTTL)
	}

	ledgerCfg := inventory.ServiceConfig{
		OnChange: func(ctx context.Context, movements []inventory.Movement) {
			s.Query.OnInventoryChange(ctx, movements)
		},
	}
	if metrics != nil {
		ledgerCfg.Metrics = metrics
	}
	s.Ledger = inventory.NewService(ledgerRepo, logger.With(slog.String("component", "inventory")), ledgerCfg)

	s.Query = query.NewService(query.Config{
		Store:             s.Store,
		Inventory:         s.Ledger,
		Cache:             cache,
		Logger:            logger.With(slog.String("component", "query")),
		LowStockThreshold: cfg.LowStockThreshold,
	})

	s.Engine = workflow.NewEngine(workflow.Config{
		Store:   s.Store,
		Ledger:  s.Ledger,
		Catalog: s.Catalog,
		Tx:      tx,
		Logger:  logger.With(slog.String("component", "workflow")),
	})
	s.Engine.AddObserver(workflow.NewAuditObserver(shared.NewAuditLogger(infra.Pool, logger), logger))
	s.Engine.AddObserver(s.Query)
	if metrics != nil {
		s.Engine.AddObserver(metrics)
	}

	flowCfg := orchestrator.Config{
		Engine: s.Engine,
		Stock:  s.Ledger,
		Logger: logger.With(slog.String("component", "orchestrator")),
	}
	if metrics != nil {
		flowCfg.Metrics = metrics
	}
	if infra.Redis != nil {
		flowCfg.Locker = shared.NewRedisLocker(redislock.New(infra.Redis), cfg.FlowLockTTL)
	}
	s.Flows = orchestrator.New(flowCfg)
	return s
}
