package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

func qty(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewService(repo, nil, ServiceConfig{}), repo
}

func seed(t *testing.T, svc *Service, warehouseID, itemID int64, amount string) {
	t.Helper()
	_, err := svc.Adjust(context.Background(), warehouseID, itemID, qty(amount), Ref{Reason: "seed"})
	require.NoError(t, err)
}

func record(t *testing.T, svc *Service, warehouseID, itemID int64) Record {
	t.Helper()
	recs, err := svc.GetInventory(context.Background(), RecordFilter{WarehouseID: warehouseID, ItemID: itemID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func TestCheckAvailable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	status, _, err := svc.CheckAvailable(ctx, 1, 100, qty("1"))
	require.NoError(t, err)
	require.Equal(t, NoRecord, status)

	seed(t, svc, 1, 100, "10")
	require.NoError(t, svc.Reserve(ctx, 1, 100, qty("4"), Ref{}))

	status, rec, err := svc.CheckAvailable(ctx, 1, 100, qty("6"))
	require.NoError(t, err)
	require.Equal(t, Sufficient, status)
	require.True(t, qty("6").Equal(rec.Available()))

	status, _, err = svc.CheckAvailable(ctx, 1, 100, qty("6.5"))
	require.NoError(t, err)
	require.Equal(t, Insufficient, status)

	results, err := svc.Check(ctx, []Line{
		{WarehouseID: 1, ItemID: 100, Quantity: qty("3")},
		{WarehouseID: 1, ItemID: 100, Quantity: qty("4")},
		{WarehouseID: 1, ItemID: 200, Quantity: qty("1")},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, Insufficient, results[0].Status)
	require.True(t, qty("7").Equal(results[0].Requested))
	require.Equal(t, NoRecord, results[1].Status)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 1, 100, "10")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Reserve(ctx, 1, 100, qty("6"), Ref{Kind: "purchase_order"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var short *shared.InsufficientStockError
		require.True(t, errors.As(err, &short))
		require.True(t, qty("4").Equal(short.Items[0].Available))
	}
	require.Equal(t, 1, succeeded)
	rec := record(t, svc, 1, 100)
	require.True(t, qty("6").Equal(rec.OnDemandQuantity))
	require.True(t, qty("4").Equal(rec.Available()))
}

func TestReserveAllIsAllOrNothing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 1, 100, "10")
	seed(t, svc, 1, 101, "2")

	err := svc.ReserveAll(ctx, []Line{
		{WarehouseID: 1, ItemID: 100, Quantity: qty("5")},
		{WarehouseID: 1, ItemID: 101, Quantity: qty("3")},
	}, Ref{Kind: "purchase_order", Code: "PO-000001"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var short *shared.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Len(t, short.Items, 1)
	require.Equal(t, int64(101), short.Items[0].ItemID)

	require.True(t, record(t, svc, 1, 100).OnDemandQuantity.IsZero())
	movements, err := repo.ListMovements(ctx, MovementFilter{RefCode: "PO-000001"})
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 1, 100, "10")
	require.NoError(t, svc.Reserve(ctx, 1, 100, qty("3"), Ref{}))

	require.NoError(t, svc.Release(ctx, 1, 100, qty("5"), Ref{}))
	require.True(t, record(t, svc, 1, 100).OnDemandQuantity.IsZero())

	require.NoError(t, svc.Release(ctx, 9, 9, qty("1"), Ref{}))
}

func TestConsumeRequiresReservation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 1, 100, "10")
	require.NoError(t, svc.Reserve(ctx, 1, 100, qty("4"), Ref{}))

	err := svc.Consume(ctx, 1, 100, qty("5"), Ref{})
	require.ErrorIs(t, err, shared.ErrInvariantViolation)

	require.NoError(t, svc.Consume(ctx, 1, 100, qty("4"), Ref{}))
	rec := record(t, svc, 1, 100)
	require.True(t, qty("6").Equal(rec.Quantity))
	require.True(t, rec.OnDemandQuantity.IsZero())
}

func TestAdjustNeverGoesNegative(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, 1, 100, qty("-1"), Ref{})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	seed(t, svc, 1, 100, "5")
	require.NoError(t, svc.Reserve(ctx, 1, 100, qty("5"), Ref{}))
	rec, err := svc.Adjust(ctx, 1, 100, qty("-2"), Ref{Reason: "damaged"})
	require.NoError(t, err)
	require.True(t, qty("3").Equal(rec.Quantity))
	require.True(t, rec.Available().IsZero())

	_, err = svc.Adjust(ctx, 1, 100, decimal.Zero, Ref{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransfer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, 1, 100, "20")
	require.NoError(t, svc.Reserve(ctx, 1, 100, qty("12"), Ref{}))

	err := svc.Transfer(ctx, 1, 2, []Line{{ItemID: 100, Quantity: qty("9")}}, Ref{})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	require.NoError(t, svc.Transfer(ctx, 1, 2, []Line{{ItemID: 100, Quantity: qty("8")}}, Ref{Kind: "transfer_ticket"}))
	require.True(t, qty("12").Equal(record(t, svc, 1, 100).Quantity))
	require.True(t, qty("8").Equal(record(t, svc, 2, 100).Quantity))

	err = svc.Transfer(ctx, 2, 2, []Line{{ItemID: 100, Quantity: qty("1")}}, Ref{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMovementsAndChangeHook(t *testing.T) {
	repo := NewMemoryRepository()
	var seen []Movement
	svc := NewService(repo, nil, ServiceConfig{OnChange: func(_ context.Context, m []Movement) { seen = append(seen, m...) }})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, 1, 100, qty("10"), Ref{Kind: "receive_ticket", Code: "RCV-000001", ActorID: 7})
	require.NoError(t, err)
	require.NoError(t, svc.Reserve(ctx, 1, 100, qty("2"), Ref{Kind: "purchase_order", Code: "PO-000002"}))
	require.Error(t, svc.Reserve(ctx, 1, 100, qty("20"), Ref{}))

	require.Len(t, seen, 2)
	movements, err := svc.ListMovements(ctx, MovementFilter{WarehouseID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, MovementReserve, movements[0].Kind)
	require.True(t, qty("2").Equal(movements[0].OnDemandAfter))
	require.Equal(t, int64(7), movements[1].ActorID)
}
