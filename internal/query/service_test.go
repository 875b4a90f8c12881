package query

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/manufacturing"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

const (
	buyer    int64 = 10
	supplier int64 = 20
	whA      int64 = 1
	widget   int64 = 100
	bolt     int64 = 200
)

var caller = shared.Caller{CompanyID: buyer, EmployeeID: 3}

type fixture struct {
	engine  *workflow.Engine
	store   *document.MemoryStore
	ledger  *inventory.Service
	service *Service
}

func newFixture(t *testing.T, cache *Cache) *fixture {
	t.Helper()
	f := &fixture{
		store:  document.NewMemoryStore(),
		ledger: inventory.NewService(inventory.NewMemoryRepository(), nil, inventory.ServiceConfig{}),
	}
	f.engine = workflow.NewEngine(workflow.Config{Store: f.store, Ledger: f.ledger, Catalog: manufacturing.NewMemoryCatalog()})
	f.service = NewService(Config{
		Store:             f.store,
		Inventory:         f.ledger,
		Cache:             cache,
		LowStockThreshold: decimal.NewFromInt(5),
	})
	return f
}

func newRedisCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func (f *fixture) purchaseOrder(t *testing.T, amount, price string) document.Document {
	t.Helper()
	po, err := f.engine.Create(context.Background(), document.KindPurchaseOrder, document.Document{
		CompanyID:             buyer,
		CounterpartyCompanyID: supplier,
		Lines: []document.LineItem{{
			ItemID:    widget,
			Quantity:  decimal.RequireFromString(amount),
			UnitPrice: decimal.RequireFromString(price),
		}},
	}, caller)
	require.NoError(t, err)
	return po
}

func (f *fixture) stock(t *testing.T, itemID int64, amount string) {
	t.Helper()
	_, err := f.ledger.Adjust(context.Background(), whA, itemID, decimal.RequireFromString(amount), inventory.Ref{Reason: "seed"})
	require.NoError(t, err)
}

func summaryOf(t *testing.T, d Dashboard, kind document.Kind) KindSummary {
	t.Helper()
	for _, s := range d.Kinds {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("no summary for %s", kind)
	return KindSummary{}
}

func TestGetDocumentListsAvailableActions(t *testing.T) {
	f := newFixture(t, nil)
	po := f.purchaseOrder(t, "2", "5")

	view, err := f.service.GetDocument(context.Background(), document.KindPurchaseOrder, po.ID)
	require.NoError(t, err)
	require.Equal(t, po.Code, view.Code)
	require.Contains(t, view.Actions, workflow.ActionConfirm)
	require.Contains(t, view.Actions, workflow.ActionCancel)

	_, err = f.service.GetDocument(context.Background(), document.KindPurchaseOrder, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListDocumentsPaginatesAndFilters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, widget, "10")
	first := f.purchaseOrder(t, "1", "1")
	f.purchaseOrder(t, "1", "1")
	f.purchaseOrder(t, "1", "1")

	_, err := f.engine.Apply(ctx, document.KindPurchaseOrder, first.ID, workflow.ActionConfirm, workflow.Input{Caller: caller, WarehouseID: whA})
	require.NoError(t, err)

	list, err := f.service.ListDocuments(ctx, document.KindPurchaseOrder, ListFilter{PerPage: 2})
	require.NoError(t, err)
	require.Len(t, list.Documents, 2)
	require.Equal(t, 3, list.Pagination.Total)
	require.Equal(t, 2, list.Pagination.TotalPages)

	list, err = f.service.ListDocuments(ctx, document.KindPurchaseOrder, ListFilter{Statuses: []document.Status{document.StatusConfirmed}})
	require.NoError(t, err)
	require.Len(t, list.Documents, 1)
	require.Equal(t, first.ID, list.Documents[0].ID)

	list, err = f.service.ListDocuments(ctx, document.KindPurchaseOrder, ListFilter{CompanyID: supplier})
	require.NoError(t, err)
	require.Empty(t, list.Documents)

	list, err = f.service.ListDocuments(ctx, document.KindPurchaseOrder, ListFilter{CounterpartyID: supplier})
	require.NoError(t, err)
	require.Len(t, list.Documents, 3)

	list, err = f.service.ListDocuments(ctx, document.KindPurchaseOrder, ListFilter{CounterpartyID: buyer})
	require.NoError(t, err)
	require.Empty(t, list.Documents)
}

func TestKanbanColumnsFollowLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, widget, "10")
	po := f.purchaseOrder(t, "2", "5")
	f.purchaseOrder(t, "1", "5")
	_, err := f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, workflow.ActionConfirm, workflow.Input{Caller: caller, WarehouseID: whA})
	require.NoError(t, err)

	board, err := f.service.Kanban(ctx, document.KindPurchaseOrder, buyer)
	require.NoError(t, err)
	require.Len(t, board.Columns, len(workflow.Statuses(document.KindPurchaseOrder)))
	require.Equal(t, "Pending Confirm", board.Columns[0].Title)
	require.Len(t, board.Columns[0].Cards, 1)
	require.Equal(t, document.StatusConfirmed, board.Columns[1].Status)
	require.Len(t, board.Columns[1].Cards, 1)
	require.Equal(t, po.Code, board.Columns[1].Cards[0].Code)
	require.NotNil(t, board.Columns[len(board.Columns)-1].Cards)
}

func TestStatusTitle(t *testing.T) {
	require.Equal(t, "Overdue Quote", StatusTitle(document.StatusOverdueQuote))
	require.Equal(t, "Completed", StatusTitle(document.StatusCompleted))
}

func TestDashboardWithoutRedisBuildsEveryTime(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stock(t, widget, "3")
	f.stock(t, bolt, "50")
	f.purchaseOrder(t, "2", "5")

	d, err := f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, d.Kinds, len(document.Kinds()))
	po := summaryOf(t, d, document.KindPurchaseOrder)
	require.Equal(t, 1, po.Counts[document.StatusPendingConfirm])
	require.Equal(t, 1, po.Open)
	require.True(t, decimal.NewFromInt(10).Equal(po.OpenValue))
	require.Len(t, d.LowStock, 1)
	require.Equal(t, widget, d.LowStock[0].ItemID)

	f.purchaseOrder(t, "1", "5")
	d, err = f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, 2, summaryOf(t, d, document.KindPurchaseOrder).Open)
}

func TestDashboardCachedUntilInvalidated(t *testing.T) {
	f := newFixture(t, newRedisCache(t))
	ctx := context.Background()
	f.purchaseOrder(t, "2", "5")

	d, err := f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, 1, summaryOf(t, d, document.KindPurchaseOrder).Open)

	f.purchaseOrder(t, "1", "5")
	d, err = f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, 1, summaryOf(t, d, document.KindPurchaseOrder).Open, "served from cache")

	f.service.Invalidate(ctx)
	d, err = f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	require.Equal(t, 2, summaryOf(t, d, document.KindPurchaseOrder).Open)

	f.engine.AddObserver(f.service)
	f.purchaseOrder(t, "4", "5")
	d, err = f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	po := summaryOf(t, d, document.KindPurchaseOrder)
	require.Equal(t, 3, po.Open)
	require.True(t, decimal.NewFromInt(35).Equal(po.OpenValue))
}

func TestInventoryChangeInvalidatesDashboard(t *testing.T) {
	cache := newRedisCache(t)
	f := newFixture(t, cache)
	ctx := context.Background()
	f.ledger = inventory.NewService(inventory.NewMemoryRepository(), nil, inventory.ServiceConfig{OnChange: f.service.OnInventoryChange})
	f.service.inventory = f.ledger

	d, err := f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	require.Empty(t, d.LowStock)

	before, err := cache.Version(ctx)
	require.NoError(t, err)
	f.stock(t, widget, "2")
	after, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Greater(t, after, before)

	d, err = f.service.Dashboard(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, d.LowStock, 1)
}

func TestDashboardHonoursCancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.Dashboard(ctx, buyer)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCacheFetchJSONUsesStoredValue(t *testing.T) {
	cache := newRedisCache(t)
	ctx := context.Background()
	key, err := cache.BuildKey(ctx, "orderflow", "sample")
	require.NoError(t, err)
	require.Equal(t, "orderflow:sample:v1", key)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"n": calls}, nil
	}
	var out map[string]int
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, out["n"])

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, "orderflow", "sample")
	require.NoError(t, err)
	require.Equal(t, "orderflow:sample:v2", key)
}
