package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/manufacturing"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

func deadlinePassed(tc *transitionContext) error {
	if tc.doc.NeedByDate == nil || !tc.doc.NeedByDate.Before(tc.now) {
		return &shared.IllegalTransitionError{Kind: string(tc.doc.Kind), Status: string(tc.doc.Status), Action: string(ActionExpireDeadline), Reason: "deadline has not passed"}
	}
	return nil
}

func stampExpired(tc *transitionContext) (Undo, error) {
	at := tc.now
	tc.doc.ExpiredAt = &at
	return nil, nil
}

func allProcessesDone(tc *transitionContext) error {
	if !manufacturing.AllDone(tc.doc.Manufacturing) {
		return &shared.IllegalTransitionError{Kind: string(tc.doc.Kind), Status: string(tc.doc.Status), Action: string(ActionAllProcessesDone), Reason: "not every process is done"}
	}
	return nil
}

func completedWithinPlan(tc *transitionContext) error {
	m := tc.doc.Manufacturing
	if m == nil {
		return shared.Invariant("manufacturing order %s has no manufacturing payload", tc.doc.Code)
	}
	if tc.input.Quantity == nil {
		return nil
	}
	qty := *tc.input.Quantity
	if qty.IsNegative() || qty.GreaterThan(m.PlannedQuantity) {
		return shared.Invalid("quantity", "completed quantity %s must be between 0 and planned %s", qty, m.PlannedQuantity)
	}
	return nil
}

func recordCompletedQuantity(tc *transitionContext) (Undo, error) {
	qty := tc.doc.Manufacturing.PlannedQuantity
	if tc.input.Quantity != nil {
		qty = *tc.input.Quantity
	}
	tc.doc.Manufacturing.CompletedQuantity = qty
	return nil, nil
}

// createQuotation issues the supplier quotation of an RFQ. Pending quotations
// of an earlier round are superseded.
func createQuotation(tc *transitionContext) (Undo, error) {
	rfq := tc.doc
	lines := tc.input.Lines
	if len(lines) == 0 {
		lines = rfq.Lines
	}
	previous, err := tc.engine.store.FindBySource(tc.ctx, document.KindQuotation, document.KindRFQ, rfq.Code)
	if err != nil {
		return nil, err
	}
	var undos []Undo
	for _, q := range previous {
		if q.Status != document.StatusPending {
			continue
		}
		undo, err := tc.supersede(q)
		if err != nil {
			return nil, err
		}
		undos = append(undos, undo)
	}
	draft := document.Document{
		CompanyID:             rfq.CounterpartyCompanyID,
		CounterpartyCompanyID: rfq.CompanyID,
		SourceKind:            document.KindRFQ,
		SourceCode:            rfq.Code,
		NeedByDate:            rfq.NeedByDate,
		Note:                  tc.input.Note,
		Lines:                 lines,
	}
	undo, err := tc.createChild(document.KindQuotation, draft)
	if err != nil {
		return nil, err
	}
	return chain(append(undos, undo)...), nil
}

// createPurchaseOrder turns an accepted quotation into the buyer's PO.
func createPurchaseOrder(tc *transitionContext) (Undo, error) {
	q := tc.doc
	dest := tc.input.DestWarehouseID
	if dest == 0 {
		dest = q.DestWarehouseID
	}
	draft := document.Document{
		CompanyID:             q.CounterpartyCompanyID,
		CounterpartyCompanyID: q.CompanyID,
		DestWarehouseID:       dest,
		SourceKind:            document.KindQuotation,
		SourceCode:            q.Code,
		NeedByDate:            q.NeedByDate,
		Lines:                 q.Lines,
	}
	return tc.createChild(document.KindPurchaseOrder, draft)
}

// reserveLines reserves every PO line at the supplier warehouse.
func reserveLines(tc *transitionContext) (Undo, error) {
	warehouseID := tc.input.WarehouseID
	if warehouseID == 0 {
		warehouseID = tc.doc.WarehouseID
	}
	if warehouseID <= 0 {
		return nil, shared.Invalid("warehouse_id", "a warehouse is required to confirm")
	}
	lines := make([]inventory.Line, len(tc.doc.Lines))
	for i, l := range tc.doc.Lines {
		lines[i] = inventory.Line{WarehouseID: warehouseID, ItemID: l.ItemID, Quantity: l.Quantity}
	}
	return tc.reserve(warehouseID, lines, "purchase order confirmed")
}

// reserveMaterials reserves the BOM materials of an MO times its planned quantity.
func reserveMaterials(tc *transitionContext) (Undo, error) {
	m := tc.doc.Manufacturing
	reqs := manufacturing.Requirements(m.BOMSnapshot, m.PlannedQuantity)
	if len(reqs) == 0 {
		return nil, nil
	}
	lines := make([]inventory.Line, len(reqs))
	for i, r := range reqs {
		lines[i] = inventory.Line{WarehouseID: tc.doc.WarehouseID, ItemID: r.ItemID, Quantity: r.Quantity}
	}
	return tc.reserve(tc.doc.WarehouseID, lines, "manufacturing materials")
}

func (tc *transitionContext) reserve(warehouseID int64, lines []inventory.Line, reason string) (Undo, error) {
	ref := tc.ref(reason)
	if err := tc.engine.ledger.ReserveAll(tc.ctx, lines, ref); err != nil {
		return nil, err
	}
	tc.doc.WarehouseID = warehouseID
	tc.doc.Reservations = toReservations(lines)
	return func(ctx context.Context) error {
		return tc.engine.ledger.ReleaseAll(ctx, lines, ref)
	}, nil
}

// releaseReservations gives back whatever the document still holds.
func releaseReservations(tc *transitionContext) (Undo, error) {
	if len(tc.doc.Reservations) == 0 {
		return nil, nil
	}
	lines := toLines(tc.doc.Reservations)
	ref := tc.ref("cancelled")
	if err := tc.engine.ledger.ReleaseAll(tc.ctx, lines, ref); err != nil {
		return nil, err
	}
	tc.doc.Reservations = nil
	return func(ctx context.Context) error {
		return tc.engine.ledger.ReserveAll(ctx, lines, ref)
	}, nil
}

// consumeReservations turns held stock into consumed stock.
func consumeReservations(tc *transitionContext) (Undo, error) {
	if len(tc.doc.Reservations) == 0 {
		return nil, nil
	}
	lines := toLines(tc.doc.Reservations)
	ref := tc.ref("consumed")
	if err := tc.engine.ledger.ConsumeAll(tc.ctx, lines, ref); err != nil {
		return nil, err
	}
	tc.doc.Reservations = nil
	return func(ctx context.Context) error {
		if _, err := tc.engine.ledger.AdjustAll(ctx, lines, ref); err != nil {
			return err
		}
		return tc.engine.ledger.ReserveAll(ctx, lines, ref)
	}, nil
}

func snapshotBOM(tc *transitionContext) (Undo, error) {
	m := tc.doc.Manufacturing
	if tc.engine.catalog == nil {
		return nil, shared.Invariant("no manufacturing catalog configured")
	}
	bom, err := tc.engine.catalog.GetBOM(tc.ctx, m.ItemID)
	if err != nil {
		return nil, err
	}
	m.BOMSnapshot = bom.Components
	return nil, nil
}

func startFirstProcess(tc *transitionContext) (Undo, error) {
	return nil, manufacturing.StartProcess(tc.doc.Manufacturing, 1, tc.now)
}

func startProcess(tc *transitionContext) (Undo, error) {
	return nil, manufacturing.StartProcess(tc.doc.Manufacturing, tc.input.ProcessOrder, tc.now)
}

func completeProcess(tc *transitionContext) (Undo, error) {
	return nil, manufacturing.CompleteProcess(tc.doc.Manufacturing, tc.input.ProcessOrder, tc.now)
}

func createFinishedGoodsReceipt(tc *transitionContext) (Undo, error) {
	m := tc.doc.Manufacturing
	draft := document.Document{
		CompanyID:   tc.doc.CompanyID,
		WarehouseID: tc.doc.WarehouseID,
		SourceKind:  document.KindManufacturingOrder,
		SourceCode:  tc.doc.Code,
		Lines:       []document.LineItem{{ItemID: m.ItemID, Quantity: m.PlannedQuantity}},
	}
	return tc.createChild(document.KindReceiveTicket, draft)
}

func appendStop(note string) effectFunc {
	return func(tc *transitionContext) (Undo, error) {
		if tc.input.Location == "" {
			return nil, shared.Invalid("location", "location is required")
		}
		if tc.doc.Delivery == nil {
			tc.doc.Delivery = &document.Delivery{}
		}
		tc.doc.Delivery.Stops = append(tc.doc.Delivery.Stops, document.Stop{Location: tc.input.Location, Note: note, At: tc.now})
		return nil, nil
	}
}

// createDeliveryReceipt opens the receive ticket at the buyer warehouse.
func createDeliveryReceipt(tc *transitionContext) (Undo, error) {
	warehouseID := tc.doc.DestWarehouseID
	if warehouseID == 0 {
		warehouseID = tc.input.DestWarehouseID
	}
	if warehouseID <= 0 {
		return nil, shared.Invalid("dest_warehouse_id", "delivery has no receiving warehouse")
	}
	draft := document.Document{
		CompanyID:             tc.doc.CounterpartyCompanyID,
		CounterpartyCompanyID: tc.doc.CompanyID,
		WarehouseID:           warehouseID,
		SourceKind:            document.KindDeliveryOrder,
		SourceCode:            tc.doc.Code,
		Lines:                 tc.doc.Lines,
	}
	if draft.CompanyID == 0 {
		draft.CompanyID = tc.doc.CompanyID
		draft.CounterpartyCompanyID = 0
	}
	return tc.createChild(document.KindReceiveTicket, draft)
}

// receiveStock adds the received quantities. Overrides may only lower a line.
func receiveStock(tc *transitionContext) (Undo, error) {
	received, err := receivedLines(tc.doc.Lines, tc.input.Lines)
	if err != nil {
		return nil, err
	}
	if len(received) == 0 {
		return nil, nil
	}
	lines := make([]inventory.Line, len(received))
	for i, l := range received {
		lines[i] = inventory.Line{WarehouseID: tc.doc.WarehouseID, ItemID: l.ItemID, Quantity: l.Quantity}
	}
	ref := tc.ref("received")
	if _, err := tc.engine.ledger.AdjustAll(tc.ctx, lines, ref); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		_, err := tc.engine.ledger.AdjustAll(ctx, negate(lines), ref)
		return err
	}, nil
}

func receivedLines(ticket, overrides []document.LineItem) ([]document.LineItem, error) {
	if len(overrides) == 0 {
		return ticket, nil
	}
	ordered := make(map[int64]decimal.Decimal, len(ticket))
	for _, l := range ticket {
		ordered[l.ItemID] = ordered[l.ItemID].Add(l.Quantity)
	}
	got := make(map[int64]decimal.Decimal, len(overrides))
	var out []document.LineItem
	for _, l := range overrides {
		limit, ok := ordered[l.ItemID]
		if !ok {
			return nil, shared.Invalid("lines", "item %d is not on the ticket", l.ItemID)
		}
		if l.Quantity.IsNegative() {
			return nil, shared.Invalid("lines", "item %d: received quantity must not be negative", l.ItemID)
		}
		got[l.ItemID] = got[l.ItemID].Add(l.Quantity)
		if got[l.ItemID].GreaterThan(limit) {
			return nil, shared.Invalid("lines", "item %d: received %s exceeds ticket quantity %s", l.ItemID, got[l.ItemID], limit)
		}
		if l.Quantity.IsPositive() {
			out = append(out, document.LineItem{ItemID: l.ItemID, Quantity: l.Quantity})
		}
	}
	return out, nil
}

// issueStock consumes the reserved part of each line and adjusts the rest.
func issueStock(tc *transitionContext) (Undo, error) {
	reserved := make(map[int64]decimal.Decimal)
	for _, r := range tc.doc.Reservations {
		if r.WarehouseID == tc.doc.WarehouseID {
			reserved[r.ItemID] = reserved[r.ItemID].Add(r.Quantity)
		}
	}
	var consume, adjust []inventory.Line
	for _, l := range tc.doc.Lines {
		fromReservation := decimal.Min(reserved[l.ItemID], l.Quantity)
		if fromReservation.IsPositive() {
			consume = append(consume, inventory.Line{WarehouseID: tc.doc.WarehouseID, ItemID: l.ItemID, Quantity: fromReservation})
			reserved[l.ItemID] = reserved[l.ItemID].Sub(fromReservation)
		}
		if rest := l.Quantity.Sub(fromReservation); rest.IsPositive() {
			adjust = append(adjust, inventory.Line{WarehouseID: tc.doc.WarehouseID, ItemID: l.ItemID, Quantity: rest.Neg()})
		}
	}
	ref := tc.ref("issued")
	var undos []Undo
	if len(consume) > 0 {
		if err := tc.engine.ledger.ConsumeAll(tc.ctx, consume, ref); err != nil {
			return nil, err
		}
		undos = append(undos, func(ctx context.Context) error {
			if _, err := tc.engine.ledger.AdjustAll(ctx, consume, ref); err != nil {
				return err
			}
			return tc.engine.ledger.ReserveAll(ctx, consume, ref)
		})
	}
	if len(adjust) > 0 {
		if _, err := tc.engine.ledger.AdjustAll(tc.ctx, adjust, ref); err != nil {
			tc.engine.rollback(tc.ctx, tc.doc, undos)
			return nil, err
		}
		undos = append(undos, func(ctx context.Context) error {
			_, err := tc.engine.ledger.AdjustAll(ctx, negate(adjust), ref)
			return err
		})
	}
	tc.doc.Reservations = nil
	return chain(undos...), nil
}

func transferStock(tc *transitionContext) (Undo, error) {
	lines := make([]inventory.Line, len(tc.doc.Lines))
	for i, l := range tc.doc.Lines {
		lines[i] = inventory.Line{ItemID: l.ItemID, Quantity: l.Quantity}
	}
	ref := tc.ref("transfer")
	if err := tc.engine.ledger.Transfer(tc.ctx, tc.doc.WarehouseID, tc.doc.DestWarehouseID, lines, ref); err != nil {
		return nil, err
	}
	from, to := tc.doc.WarehouseID, tc.doc.DestWarehouseID
	return func(ctx context.Context) error {
		return tc.engine.ledger.Transfer(ctx, to, from, lines, ref)
	}, nil
}

// editDocument applies a patch while the document is still in its initial status.
func editDocument(tc *transitionContext) (Undo, error) {
	p := tc.input.Patch
	if p == nil {
		return nil, shared.Invalid("patch", "nothing to edit")
	}
	if p.Lines != nil {
		if err := document.ValidateLines(p.Lines); err != nil {
			return nil, err
		}
		tc.doc.Lines = append([]document.LineItem(nil), p.Lines...)
		tc.doc.TotalAmount = document.ComputeTotal(tc.doc.Lines)
	}
	if p.Note != nil {
		tc.doc.Note = *p.Note
	}
	if p.NeedByDate != nil {
		at := *p.NeedByDate
		tc.doc.NeedByDate = &at
	}
	return nil, nil
}

func editManufacturingOrder(tc *transitionContext) (Undo, error) {
	p := tc.input.Patch
	if p == nil {
		return nil, shared.Invalid("patch", "nothing to edit")
	}
	m := tc.doc.Manufacturing
	if p.PlannedQuantity != nil {
		if !p.PlannedQuantity.IsPositive() {
			return nil, shared.Invalid("planned_quantity", "planned quantity must be greater than zero")
		}
		m.PlannedQuantity = *p.PlannedQuantity
		tc.doc.Lines = []document.LineItem{{ItemID: m.ItemID, Quantity: m.PlannedQuantity}}
	}
	if p.StartDate != nil {
		at := *p.StartDate
		m.StartDate = &at
	}
	if p.DueDate != nil {
		at := *p.DueDate
		m.DueDate = &at
	}
	if p.LineID != nil && *p.LineID != m.LineID {
		if tc.engine.catalog == nil {
			return nil, shared.Invariant("no manufacturing catalog configured")
		}
		routing, err := tc.engine.catalog.GetRouting(tc.ctx, *p.LineID)
		if err != nil {
			return nil, err
		}
		m.LineID = *p.LineID
		m.Processes = routing.Processes()
	}
	if p.Note != nil {
		tc.doc.Note = *p.Note
	}
	if err := tc.doc.Validate(); err != nil {
		return nil, err
	}
	tc.doc.TotalAmount = document.ComputeTotal(tc.doc.Lines)
	return nil, nil
}

// createChild stores a document created by a side effect.
func (tc *transitionContext) createChild(kind document.Kind, draft document.Document) (Undo, error) {
	child, err := tc.engine.create(tc.ctx, kind, draft, tc.input.Caller)
	if err != nil {
		return nil, err
	}
	tc.children = append(tc.children, child)
	return func(ctx context.Context) error {
		_, err := tc.engine.store.Update(ctx, child.Kind, child.ID, child.Version, func(cur document.Document) (document.Document, error) {
			cur.Status = document.StatusCancelled
			cur.Note = fmt.Sprintf("voided: %s %s was not applied", tc.doc.Kind, tc.doc.Code)
			return cur, nil
		})
		return err
	}, nil
}

func (tc *transitionContext) supersede(q document.Document) (Undo, error) {
	prev := q.Status
	updated, err := tc.engine.store.Update(tc.ctx, q.Kind, q.ID, q.Version, func(cur document.Document) (document.Document, error) {
		cur.Status = document.StatusCancelled
		cur.Note = "superseded by a new quotation"
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		_, err := tc.engine.store.Update(ctx, updated.Kind, updated.ID, updated.Version, func(cur document.Document) (document.Document, error) {
			cur.Status = prev
			cur.Note = q.Note
			return cur, nil
		})
		return err
	}, nil
}

func chain(undos ...Undo) Undo {
	var list []Undo
	for _, u := range undos {
		if u != nil {
			list = append(list, u)
		}
	}
	if len(list) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		var firstErr error
		for i := len(list) - 1; i >= 0; i-- {
			if err := list[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

func toReservations(lines []inventory.Line) []document.Reservation {
	out := make([]document.Reservation, len(lines))
	for i, l := range lines {
		out[i] = document.Reservation{WarehouseID: l.WarehouseID, ItemID: l.ItemID, Quantity: l.Quantity}
	}
	return out
}

func toLines(reservations []document.Reservation) []inventory.Line {
	out := make([]inventory.Line, len(reservations))
	for i, r := range reservations {
		out[i] = inventory.Line{WarehouseID: r.WarehouseID, ItemID: r.ItemID, Quantity: r.Quantity}
	}
	return out
}

func negate(lines []inventory.Line) []inventory.Line {
	out := make([]inventory.Line, len(lines))
	for i, l := range lines {
		out[i] = inventory.Line{WarehouseID: l.WarehouseID, ItemID: l.ItemID, Quantity: l.Quantity.Neg()}
	}
	return out
}
