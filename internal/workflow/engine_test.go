package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/manufacturing"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

const (
	buyer    int64 = 10
	supplier int64 = 20
	whA      int64 = 1
	whB      int64 = 2
	widget   int64 = 100
	bolt     int64 = 200
	gadget   int64 = 300
)

var caller = shared.Caller{CompanyID: supplier, EmployeeID: 7}

func qty(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

type fixture struct {
	engine  *Engine
	store   *document.MemoryStore
	ledger  *inventory.Service
	catalog *manufacturing.MemoryCatalog
	events  []Event
	mu      sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   document.NewMemoryStore(),
		ledger:  inventory.NewService(inventory.NewMemoryRepository(), nil, inventory.ServiceConfig{}),
		catalog: manufacturing.NewMemoryCatalog(),
	}
	f.engine = NewEngine(Config{Store: f.store, Ledger: f.ledger, Catalog: f.catalog})
	f.engine.AddObserver(ObserverFunc(func(_ context.Context, ev Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	}))
	return f
}

func (f *fixture) stock(t *testing.T, warehouseID, itemID int64, amount string) {
	t.Helper()
	_, err := f.ledger.Adjust(context.Background(), warehouseID, itemID, qty(amount), inventory.Ref{Reason: "seed"})
	require.NoError(t, err)
}

func (f *fixture) available(t *testing.T, warehouseID, itemID int64) decimal.Decimal {
	t.Helper()
	recs, err := f.ledger.GetInventory(context.Background(), inventory.RecordFilter{WarehouseID: warehouseID, ItemID: itemID})
	require.NoError(t, err)
	if len(recs) == 0 {
		return decimal.Zero
	}
	return recs[0].Available()
}

func (f *fixture) purchaseOrder(t *testing.T, lines ...document.LineItem) document.Document {
	t.Helper()
	po, err := f.engine.Create(context.Background(), document.KindPurchaseOrder, document.Document{
		CompanyID:             buyer,
		CounterpartyCompanyID: supplier,
		Lines:                 lines,
	}, caller)
	require.NoError(t, err)
	return po
}

func line(itemID int64, amount, price string) document.LineItem {
	return document.LineItem{ItemID: itemID, Quantity: qty(amount), UnitPrice: qty(price)}
}

func TestCreateStartsInInitialStatus(t *testing.T) {
	f := newFixture(t)
	po := f.purchaseOrder(t, line(widget, "2", "5"), line(bolt, "10", "0.5"))

	require.Equal(t, document.StatusPendingConfirm, po.Status)
	require.Equal(t, int64(1), po.Version)
	require.Equal(t, caller.EmployeeID, po.CreatedBy)
	require.True(t, qty("15").Equal(po.TotalAmount))
	require.Len(t, f.events, 1)
	require.Equal(t, ActionCreate, f.events[0].Action)
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(context.Background(), document.KindPurchaseOrder, document.Document{
		CompanyID:             supplier,
		CounterpartyCompanyID: buyer,
	}, caller)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIllegalTransitionLeavesDocumentUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.purchaseOrder(t, line(widget, "1", "1"))

	_, err := f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, ActionShip, Input{Caller: caller})
	var illegal *shared.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	require.Equal(t, string(document.StatusPendingConfirm), illegal.Status)
	require.Equal(t, string(ActionShip), illegal.Action)

	stored, err := f.engine.Get(ctx, document.KindPurchaseOrder, po.ID)
	require.NoError(t, err)
	require.Equal(t, po.Version, stored.Version)
	require.Equal(t, document.StatusPendingConfirm, stored.Status)
	require.Error(t, f.events[len(f.events)-1].Err)
}

func TestVersionCountsAppliedTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, whA, widget, "5")
	po := f.purchaseOrder(t, line(widget, "1", "1"))

	steps := []struct {
		action Action
		in     Input
		want   document.Status
	}{
		{ActionConfirm, Input{WarehouseID: whA}, document.StatusConfirmed},
		{ActionShip, Input{}, document.StatusShipping},
		{ActionArriveWarehouse, Input{}, document.StatusPendingReceive},
		{ActionReceiveConfirmed, Input{}, document.StatusCompleted},
	}
	var err error
	for _, step := range steps {
		step.in.Caller = caller
		po, err = f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, step.action, step.in)
		require.NoError(t, err)
		require.Equal(t, step.want, po.Status)
	}
	require.Equal(t, int64(len(steps)+1), po.Version)
	require.True(t, po.Status.Terminal())
	require.Empty(t, AvailableActions(document.KindPurchaseOrder, po.Status))
}

func TestConcurrentConfirmOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, whA, widget, "10")
	po := f.purchaseOrder(t, line(widget, "4", "1"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, ActionConfirm, Input{Caller: caller, ExpectedVersion: po.Version, WarehouseID: whA})
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, shared.ErrConcurrentModification):
			conflicts++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, conflicts)
	require.True(t, qty("6").Equal(f.available(t, whA, widget)))
}

func TestConfirmReservesAtWarehouse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, whA, widget, "10")
	po := f.purchaseOrder(t, line(widget, "4", "1"))

	confirmed, err := f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, ActionConfirm, Input{Caller: caller, WarehouseID: whA})
	require.NoError(t, err)
	require.Equal(t, whA, confirmed.WarehouseID)
	require.Len(t, confirmed.Reservations, 1)
	require.True(t, qty("6").Equal(f.available(t, whA, widget)))

	other := f.purchaseOrder(t, line(widget, "7", "1"))
	_, err = f.engine.Apply(ctx, document.KindPurchaseOrder, other.ID, ActionConfirm, Input{Caller: caller, WarehouseID: whA})
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, widget, short.Items[0].ItemID)

	stale, err := f.engine.Get(ctx, document.KindPurchaseOrder, other.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusPendingConfirm, stale.Status)

	// a PendingConfirm PO holds nothing, so cancel is a no-op on the ledger
	_, err = f.engine.Apply(ctx, document.KindPurchaseOrder, other.ID, ActionCancel, Input{Caller: caller})
	require.NoError(t, err)
	require.True(t, qty("6").Equal(f.available(t, whA, widget)))
}

func TestConfirmRequiresWarehouse(t *testing.T) {
	f := newFixture(t)
	po := f.purchaseOrder(t, line(widget, "1", "1"))
	_, err := f.engine.Apply(context.Background(), document.KindPurchaseOrder, po.ID, ActionConfirm, Input{Caller: caller})
	require.ErrorIs(t, err, shared.ErrValidation)
}

type failingStore struct {
	*document.MemoryStore
	failKind document.Kind
}

func (s *failingStore) Update(ctx context.Context, kind document.Kind, id, expected int64, mutate document.Mutator) (document.Document, error) {
	if kind == s.failKind {
		return document.Document{}, errors.New("disk full")
	}
	return s.MemoryStore.Update(ctx, kind, id, expected, mutate)
}

func TestFailedWriteUndoesSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, whA, widget, "10")
	po := f.purchaseOrder(t, line(widget, "4", "1"))

	broken := NewEngine(Config{
		Store:  &failingStore{MemoryStore: f.store, failKind: document.KindPurchaseOrder},
		Ledger: f.ledger,
	})
	_, err := broken.Apply(ctx, document.KindPurchaseOrder, po.ID, ActionConfirm, Input{Caller: caller, WarehouseID: whA})
	require.EqualError(t, err, "disk full")
	require.True(t, qty("10").Equal(f.available(t, whA, widget)))

	movements, err := f.ledger.ListMovements(ctx, inventory.MovementFilter{RefCode: po.Code})
	require.NoError(t, err)
	require.Len(t, movements, 2)
}

func TestEditRecomputesTotalOnlyInInitialStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, whA, widget, "10")
	po := f.purchaseOrder(t, line(widget, "1", "1"))

	note := "rush"
	edited, err := f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, ActionEdit, Input{
		Caller: caller,
		Patch:  &Patch{Lines: []document.LineItem{line(widget, "3", "2")}, Note: &note},
	})
	require.NoError(t, err)
	require.True(t, qty("6").Equal(edited.TotalAmount))
	require.Equal(t, "rush", edited.Note)

	_, err = f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, ActionConfirm, Input{Caller: caller, WarehouseID: whA})
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, document.KindPurchaseOrder, po.ID, ActionEdit, Input{Caller: caller, Patch: &Patch{Note: &note}})
	require.ErrorIs(t, err, shared.ErrIllegalTransition)
}

func TestQuoteCreatesQuotationAndSupersedesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rfq, err := f.engine.Create(ctx, document.KindRFQ, document.Document{
		CompanyID:             buyer,
		CounterpartyCompanyID: supplier,
		Lines:                 []document.LineItem{line(widget, "5", "0")},
	}, shared.Caller{CompanyID: buyer, EmployeeID: 1})
	require.NoError(t, err)
	require.Equal(t, document.StatusNotQuoted, rfq.Status)

	rfq, err = f.engine.Apply(ctx, document.KindRFQ, rfq.ID, ActionQuote, Input{Caller: caller, Lines: []document.LineItem{line(widget, "5", "3")}})
	require.NoError(t, err)
	require.Equal(t, document.StatusQuoted, rfq.Status)

	quotes, err := f.store.FindBySource(ctx, document.KindQuotation, document.KindRFQ, rfq.Code)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.Equal(t, supplier, quotes[0].CompanyID)
	require.Equal(t, buyer, quotes[0].CounterpartyCompanyID)
	require.True(t, qty("15").Equal(quotes[0].TotalAmount))

	_, err = f.engine.Apply(ctx, document.KindRFQ, rfq.ID, ActionExpireDeadline, Input{Caller: caller})
	require.ErrorIs(t, err, shared.ErrIllegalTransition)

	past := time.Now().Add(-time.Hour)
	stored, err := f.store.Update(ctx, document.KindRFQ, rfq.ID, rfq.Version, func(cur document.Document) (document.Document, error) {
		cur.NeedByDate = &past
		return cur, nil
	})
	require.NoError(t, err)
	overdue, err := f.engine.Apply(ctx, document.KindRFQ, stored.ID, ActionExpireDeadline, Input{Caller: caller})
	require.NoError(t, err)
	require.Equal(t, document.StatusOverdueQuote, overdue.Status)
	require.NotNil(t, overdue.ExpiredAt)

	_, err = f.engine.Apply(ctx, document.KindRFQ, rfq.ID, ActionQuote, Input{Caller: caller})
	require.NoError(t, err)
	quotes, err = f.store.FindBySource(ctx, document.KindQuotation, document.KindRFQ, rfq.Code)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	statuses := map[document.Status]int{}
	for _, q := range quotes {
		statuses[q.Status]++
	}
	require.Equal(t, 1, statuses[document.StatusPending])
	require.Equal(t, 1, statuses[document.StatusCancelled])
}

func seedCatalog(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.catalog.PutBOM(ctx, manufacturing.BOM{ItemID: gadget, Components: []document.BOMComponent{
		{ItemID: widget, QuantityPer: qty("2")},
		{ItemID: bolt, QuantityPer: qty("4")},
	}})
	require.NoError(t, err)
	_, err = f.catalog.PutRouting(ctx, manufacturing.Routing{LineID: 5, Stages: []manufacturing.Stage{
		{StageID: 1, Name: "cut"},
		{StageID: 2, Name: "weld"},
		{StageID: 3, Name: "paint"},
	}})
	require.NoError(t, err)
}

func TestManufacturingOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedCatalog(t, f)
	f.stock(t, whA, widget, "10")
	f.stock(t, whA, bolt, "12")

	mo, err := f.engine.Create(ctx, document.KindManufacturingOrder, document.Document{
		CompanyID:     supplier,
		WarehouseID:   whA,
		Manufacturing: &document.Manufacturing{LineID: 5, ItemID: gadget, PlannedQuantity: qty("3")},
	}, caller)
	require.NoError(t, err)
	require.Len(t, mo.Manufacturing.Processes, 3)

	apply := func(action Action, in Input) (document.Document, error) {
		in.Caller = caller
		return f.engine.Apply(ctx, document.KindManufacturingOrder, mo.ID, action, in)
	}

	mo, err = apply(ActionConfirmAfterInventoryCheck, Input{})
	require.NoError(t, err)
	require.Len(t, mo.Manufacturing.BOMSnapshot, 2)
	require.True(t, qty("4").Equal(f.available(t, whA, widget)))
	require.True(t, qty("0").Equal(f.available(t, whA, bolt)))

	mo, err = apply(ActionStartFirstProcess, Input{})
	require.NoError(t, err)
	require.Equal(t, document.StatusInProduction, mo.Status)
	require.Empty(t, mo.Reservations)

	_, err = apply(ActionStartProcess, Input{ProcessOrder: 2})
	require.ErrorIs(t, err, shared.ErrIllegalTransition)

	for order := 1; order <= 3; order++ {
		if order > 1 {
			_, err = apply(ActionStartProcess, Input{ProcessOrder: order})
			require.NoError(t, err)
		}
		if order < 3 {
			_, err = apply(ActionAllProcessesDone, Input{})
			require.ErrorIs(t, err, shared.ErrIllegalTransition)
		}
		mo, err = apply(ActionCompleteProcess, Input{ProcessOrder: order})
		require.NoError(t, err)
	}

	mo, err = apply(ActionAllProcessesDone, Input{})
	require.NoError(t, err)
	require.Equal(t, document.StatusPendingReceive, mo.Status)

	tickets, err := f.store.FindBySource(ctx, document.KindReceiveTicket, document.KindManufacturingOrder, mo.Code)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, gadget, tickets[0].Lines[0].ItemID)

	_, err = apply(ActionReceiveConfirmed, Input{Quantity: ptr(qty("4"))})
	require.ErrorIs(t, err, shared.ErrValidation)
	mo, err = apply(ActionReceiveConfirmed, Input{Quantity: ptr(qty("2"))})
	require.NoError(t, err)
	require.True(t, qty("2").Equal(mo.Manufacturing.CompletedQuantity))
}

func TestCancelManufacturingOrderReleasesMaterials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedCatalog(t, f)
	f.stock(t, whA, widget, "10")
	f.stock(t, whA, bolt, "20")

	mo, err := f.engine.Create(ctx, document.KindManufacturingOrder, document.Document{
		CompanyID:     supplier,
		WarehouseID:   whA,
		Manufacturing: &document.Manufacturing{LineID: 5, ItemID: gadget, PlannedQuantity: qty("2")},
	}, caller)
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, document.KindManufacturingOrder, mo.ID, ActionConfirmAfterInventoryCheck, Input{Caller: caller})
	require.NoError(t, err)
	require.True(t, qty("6").Equal(f.available(t, whA, widget)))

	_, err = f.engine.Apply(ctx, document.KindManufacturingOrder, mo.ID, ActionCancel, Input{Caller: caller})
	require.NoError(t, err)
	require.True(t, qty("10").Equal(f.available(t, whA, widget)))
	require.True(t, qty("20").Equal(f.available(t, whA, bolt)))
}

func TestReceiveTicketRejectsOverReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rt, err := f.engine.Create(ctx, document.KindReceiveTicket, document.Document{
		CompanyID:   buyer,
		WarehouseID: whB,
		Lines:       []document.LineItem{line(widget, "5", "0")},
	}, caller)
	require.NoError(t, err)

	_, err = f.engine.Apply(ctx, document.KindReceiveTicket, rt.ID, ActionConfirm, Input{Caller: caller, Lines: []document.LineItem{line(widget, "6", "0")}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.engine.Apply(ctx, document.KindReceiveTicket, rt.ID, ActionConfirm, Input{Caller: caller, Lines: []document.LineItem{line(widget, "4", "0")}})
	require.NoError(t, err)
	require.True(t, qty("4").Equal(f.available(t, whB, widget)))
}

func TestTransferAndIssueTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, whA, widget, "10")

	tt, err := f.engine.Create(ctx, document.KindTransferTicket, document.Document{
		CompanyID:       supplier,
		WarehouseID:     whA,
		DestWarehouseID: whB,
		Lines:           []document.LineItem{line(widget, "4", "0")},
	}, caller)
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, document.KindTransferTicket, tt.ID, ActionConfirm, Input{Caller: caller})
	require.NoError(t, err)
	require.True(t, qty("6").Equal(f.available(t, whA, widget)))
	require.True(t, qty("4").Equal(f.available(t, whB, widget)))

	require.NoError(t, f.ledger.ReserveAll(ctx, []inventory.Line{{WarehouseID: whA, ItemID: widget, Quantity: qty("2")}}, inventory.Ref{}))
	it, err := f.engine.Create(ctx, document.KindIssueTicket, document.Document{
		CompanyID:    supplier,
		WarehouseID:  whA,
		Lines:        []document.LineItem{line(widget, "3", "0")},
		Reservations: []document.Reservation{{WarehouseID: whA, ItemID: widget, Quantity: qty("2")}},
	}, caller)
	require.NoError(t, err)
	issued, err := f.engine.Apply(ctx, document.KindIssueTicket, it.ID, ActionConfirm, Input{Caller: caller})
	require.NoError(t, err)
	require.Empty(t, issued.Reservations)

	recs, err := f.ledger.GetInventory(ctx, inventory.RecordFilter{WarehouseID: whA, ItemID: widget})
	require.NoError(t, err)
	require.True(t, qty("3").Equal(recs[0].Quantity))
	require.True(t, recs[0].OnDemandQuantity.IsZero())
}

func TestDeliveryCompleteCreatesReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	do, err := f.engine.Create(ctx, document.KindDeliveryOrder, document.Document{
		CompanyID:             supplier,
		CounterpartyCompanyID: buyer,
		DestWarehouseID:       whB,
		SourceKind:            document.KindSalesOrder,
		SourceCode:            "SO-000001",
		Lines:                 []document.LineItem{line(widget, "2", "1")},
	}, caller)
	require.NoError(t, err)

	apply := func(action Action, location string) (document.Document, error) {
		return f.engine.Apply(ctx, document.KindDeliveryOrder, do.ID, action, Input{Caller: caller, Location: location})
	}
	_, err = apply(ActionConfirm, "")
	require.NoError(t, err)
	_, err = apply(ActionPickup, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = apply(ActionPickup, "Dock 4")
	require.NoError(t, err)
	done, err := apply(ActionComplete, "Buyer yard")
	require.NoError(t, err)
	require.Len(t, done.Delivery.Stops, 2)
	require.Equal(t, document.StopFrom, done.Delivery.Stops[0].Note)
	require.Equal(t, document.StopTo, done.Delivery.Stops[1].Note)

	tickets, err := f.store.FindBySource(ctx, document.KindReceiveTicket, document.KindDeliveryOrder, do.Code)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, buyer, tickets[0].CompanyID)
	require.Equal(t, whB, tickets[0].WarehouseID)
}

func TestParseActionIgnoresCaseAndSeparators(t *testing.T) {
	action, ok := ParseAction(document.KindManufacturingOrder, "confirm-after-inventory-check")
	require.True(t, ok)
	require.Equal(t, ActionConfirmAfterInventoryCheck, action)

	_, ok = ParseAction(document.KindTransferTicket, "ship")
	require.False(t, ok)

	require.Equal(t, []document.Status{document.StatusPendingDelivery, document.StatusShipping, document.StatusCompleted, document.StatusCancelled},
		Statuses(document.KindSalesOrder))
}

func TestApplyNotifiesObserversOfCreatedChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rfq, err := f.engine.Create(ctx, document.KindRFQ, document.Document{
		CompanyID:             buyer,
		CounterpartyCompanyID: supplier,
		Lines:                 []document.LineItem{line(widget, "2", "0")},
	}, shared.Caller{CompanyID: buyer, EmployeeID: 1})
	require.NoError(t, err)

	_, err = f.engine.Apply(ctx, document.KindRFQ, rfq.ID, ActionQuote, Input{Caller: caller, Lines: []document.LineItem{line(widget, "2", "4")}})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	var created []Event
	for _, ev := range f.events {
		if ev.Action == ActionCreate && ev.Document.Kind == document.KindQuotation {
			created = append(created, ev)
		}
	}
	require.Len(t, created, 1)
	require.Equal(t, rfq.Code, created[0].Document.SourceCode)
	require.NoError(t, created[0].Err)
}

func TestCompetingConfirmsReportShortage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock(t, whA, widget, "10")
	poA := f.purchaseOrder(t, line(widget, "6", "1"))
	poB := f.purchaseOrder(t, line(widget, "6", "1"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{poA.ID, poB.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.Apply(ctx, document.KindPurchaseOrder, id, ActionConfirm, Input{Caller: caller, WarehouseID: whA})
		}()
	}
	wg.Wait()

	var short *shared.InsufficientStockError
	failed := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed++
		require.ErrorAs(t, err, &short)
		require.NotErrorIs(t, err, shared.ErrConcurrentModification)
	}
	require.Equal(t, 1, failed)
	require.Len(t, short.Items, 1)
	require.True(t, qty("4").Equal(short.Items[0].Available))
	require.True(t, qty("6").Equal(short.Items[0].Requested))
	require.True(t, f.available(t, whA, widget).Equal(qty("4")))
}
