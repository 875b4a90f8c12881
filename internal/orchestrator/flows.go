package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/manufacturing"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

// ConfirmPurchaseOrder checks stock at the supplier warehouse, confirms the PO
// (which reserves its lines) and opens the issue ticket that will ship them.
func (o *Orchestrator) ConfirmPurchaseOrder(ctx context.Context, caller shared.Caller, poID, warehouseID int64) (FlowResult, error) {
	return o.run(ctx, FlowConfirmPurchaseOrder, document.KindPurchaseOrder, poID, func(r *flowRun) error {
		if err := r.step("check_inventory", func(ctx context.Context) (Outcome, string, error) {
			po, err := o.store.Get(ctx, document.KindPurchaseOrder, poID)
			if err != nil {
				return "", "", err
			}
			if po.Status != document.StatusPendingConfirm {
				return OutcomeSkipped, po.Code, nil
			}
			if warehouseID == 0 {
				warehouseID = po.WarehouseID
			}
			if warehouseID <= 0 {
				return "", "", shared.Invalid("warehouse_id", "a warehouse is required to confirm")
			}
			return OutcomeDone, po.Code, o.checkStock(ctx, warehouseID, po.Lines)
		}); err != nil {
			return err
		}

		if err := r.step("confirm", func(ctx context.Context) (Outcome, string, error) {
			po, err := o.store.Get(ctx, document.KindPurchaseOrder, poID)
			if err != nil {
				return "", "", err
			}
			switch {
			case po.Status == document.StatusPendingConfirm:
				po, err = o.apply(ctx, po, workflow.ActionConfirm, workflow.Input{Caller: caller, WarehouseID: warehouseID})
				return OutcomeDone, po.Code, err
			case oneOf(po.Status, document.StatusConfirmed, document.StatusShipping, document.StatusPendingReceive, document.StatusCompleted):
				return OutcomeSkipped, po.Code, nil
			default:
				return "", "", stale(po, document.StatusPendingConfirm)
			}
		}); err != nil {
			return err
		}

		return r.step("issue_ticket", func(ctx context.Context) (Outcome, string, error) {
			po, err := o.store.Get(ctx, document.KindPurchaseOrder, poID)
			if err != nil {
				return "", "", err
			}
			if existing, ok, err := o.child(ctx, document.KindIssueTicket, po); err != nil || ok {
				return OutcomeSkipped, existing.Code, err
			}
			ticket, err := o.engine.Create(ctx, document.KindIssueTicket, document.Document{
				CompanyID:             po.CounterpartyCompanyID,
				CounterpartyCompanyID: po.CompanyID,
				WarehouseID:           po.WarehouseID,
				SourceKind:            document.KindPurchaseOrder,
				SourceCode:            po.Code,
				Lines:                 po.Lines,
				Reservations:          po.Reservations,
			}, caller)
			return OutcomeDone, ticket.Code, err
		})
	})
}

func (o *Orchestrator) checkStock(ctx context.Context, warehouseID int64, lines []document.LineItem) error {
	if o.stock == nil {
		return nil
	}
	req := make([]inventory.Line, len(lines))
	for i, l := range lines {
		req[i] = inventory.Line{WarehouseID: warehouseID, ItemID: l.ItemID, Quantity: l.Quantity}
	}
	results, err := o.stock.Check(ctx, req)
	if err != nil {
		return err
	}
	var short []shared.ShortItem
	for _, res := range results {
		if !res.Sufficient {
			short = append(short, shared.ShortItem{WarehouseID: res.WarehouseID, ItemID: res.ItemID, Available: res.Available, Requested: res.Requested})
		}
	}
	if len(short) > 0 {
		return &shared.InsufficientStockError{Items: short}
	}
	return nil
}

// CreateSalesOrder creates the supplier side SO of a confirmed PO. An existing
// SO is returned as is.
func (o *Orchestrator) CreateSalesOrder(ctx context.Context, caller shared.Caller, poID int64) (FlowResult, error) {
	return o.run(ctx, FlowCreateSalesOrder, document.KindPurchaseOrder, poID, func(r *flowRun) error {
		return r.step("create_sales_order", func(ctx context.Context) (Outcome, string, error) {
			po, err := o.store.Get(ctx, document.KindPurchaseOrder, poID)
			if err != nil {
				return "", "", err
			}
			if existing, ok, err := o.child(ctx, document.KindSalesOrder, po); err != nil || ok {
				return OutcomeSkipped, existing.Code, err
			}
			if po.Status != document.StatusConfirmed {
				return "", "", stale(po, document.StatusConfirmed)
			}
			so, err := o.engine.Create(ctx, document.KindSalesOrder, document.Document{
				CompanyID:             po.CounterpartyCompanyID,
				CounterpartyCompanyID: po.CompanyID,
				WarehouseID:           po.WarehouseID,
				DestWarehouseID:       po.DestWarehouseID,
				SourceKind:            document.KindPurchaseOrder,
				SourceCode:            po.Code,
				Lines:                 po.Lines,
			}, caller)
			return OutcomeDone, so.Code, err
		})
	})
}

// AcceptQuotation accepts a supplier quotation, which creates the PO, and
// then accepts the RFQ it answered.
func (o *Orchestrator) AcceptQuotation(ctx context.Context, caller shared.Caller, quotationID, destWarehouseID int64) (FlowResult, error) {
	return o.run(ctx, FlowAcceptQuotation, document.KindQuotation, quotationID, func(r *flowRun) error {
		if err := r.step("accept_quotation", func(ctx context.Context) (Outcome, string, error) {
			q, err := o.store.Get(ctx, document.KindQuotation, quotationID)
			if err != nil {
				return "", "", err
			}
			if q.Status == document.StatusAccepted {
				po, _, err := o.child(ctx, document.KindPurchaseOrder, q)
				return OutcomeSkipped, po.Code, err
			}
			if q.Status != document.StatusPending {
				return "", "", stale(q, document.StatusPending)
			}
			rfq, ok, err := o.source(ctx, q, document.KindRFQ)
			if err != nil {
				return "", "", err
			}
			if ok && !oneOf(rfq.Status, document.StatusQuoted, document.StatusAccepted) {
				return "", "", stale(rfq, document.StatusQuoted)
			}
			q, err = o.apply(ctx, q, workflow.ActionAccept, workflow.Input{Caller: caller, DestWarehouseID: destWarehouseID})
			if err != nil {
				return "", "", err
			}
			po, _, err := o.child(ctx, document.KindPurchaseOrder, q)
			return OutcomeDone, po.Code, err
		}); err != nil {
			return err
		}

		return r.step("accept_rfq", func(ctx context.Context) (Outcome, string, error) {
			q, err := o.store.Get(ctx, document.KindQuotation, quotationID)
			if err != nil {
				return "", "", err
			}
			rfq, ok, err := o.source(ctx, q, document.KindRFQ)
			if err != nil || !ok {
				return OutcomeSkipped, "", err
			}
			switch rfq.Status {
			case document.StatusQuoted:
				rfq, err = o.apply(ctx, rfq, workflow.ActionAccept, workflow.Input{Caller: caller})
				return OutcomeDone, rfq.Code, err
			case document.StatusAccepted:
				return OutcomeSkipped, rfq.Code, nil
			default:
				return "", "", stale(rfq, document.StatusQuoted)
			}
		})
	})
}

// CreateDeliveryOrder opens the delivery of a sales order.
func (o *Orchestrator) CreateDeliveryOrder(ctx context.Context, caller shared.Caller, soID int64) (FlowResult, error) {
	return o.run(ctx, FlowCreateDeliveryOrder, document.KindSalesOrder, soID, func(r *flowRun) error {
		return r.step("create_delivery", func(ctx context.Context) (Outcome, string, error) {
			so, err := o.store.Get(ctx, document.KindSalesOrder, soID)
			if err != nil {
				return "", "", err
			}
			if existing, ok, err := o.child(ctx, document.KindDeliveryOrder, so); err != nil || ok {
				return OutcomeSkipped, existing.Code, err
			}
			if so.Status != document.StatusPendingDelivery {
				return "", "", stale(so, document.StatusPendingDelivery)
			}
			do, err := o.engine.Create(ctx, document.KindDeliveryOrder, document.Document{
				CompanyID:             so.CompanyID,
				CounterpartyCompanyID: so.CounterpartyCompanyID,
				WarehouseID:           so.WarehouseID,
				DestWarehouseID:       so.DestWarehouseID,
				SourceKind:            document.KindSalesOrder,
				SourceCode:            so.Code,
				Lines:                 so.Lines,
			}, caller)
			return OutcomeDone, do.Code, err
		})
	})
}

// PickupDelivery records the pickup and moves the SO and the PO to Shipping.
func (o *Orchestrator) PickupDelivery(ctx context.Context, caller shared.Caller, doID int64, location string) (FlowResult, error) {
	return o.run(ctx, FlowPickupDelivery, document.KindDeliveryOrder, doID, func(r *flowRun) error {
		if err := r.step("pickup", func(ctx context.Context) (Outcome, string, error) {
			do, err := o.store.Get(ctx, document.KindDeliveryOrder, doID)
			if err != nil {
				return "", "", err
			}
			switch do.Status {
			case document.StatusInTransit, document.StatusCompleted:
				return OutcomeSkipped, do.Code, nil
			case document.StatusPendingConfirm:
				if do, err = o.apply(ctx, do, workflow.ActionConfirm, workflow.Input{Caller: caller}); err != nil {
					return "", "", err
				}
			case document.StatusPendingPickup:
			default:
				return "", "", stale(do, document.StatusPendingPickup)
			}
			do, err = o.apply(ctx, do, workflow.ActionPickup, workflow.Input{Caller: caller, Location: location})
			return OutcomeDone, do.Code, err
		}); err != nil {
			return err
		}

		if err := r.step("ship_sales_order", func(ctx context.Context) (Outcome, string, error) {
			so, err := o.salesOrderOf(ctx, doID)
			if err != nil {
				return "", "", err
			}
			switch so.Status {
			case document.StatusPendingDelivery:
				so, err = o.apply(ctx, so, workflow.ActionShip, workflow.Input{Caller: caller})
				return OutcomeDone, so.Code, err
			case document.StatusShipping, document.StatusCompleted:
				return OutcomeSkipped, so.Code, nil
			default:
				return "", "", stale(so, document.StatusPendingDelivery)
			}
		}); err != nil {
			return err
		}

		return r.step("ship_purchase_order", func(ctx context.Context) (Outcome, string, error) {
			po, ok, err := o.purchaseOrderOf(ctx, doID)
			if err != nil || !ok {
				return OutcomeSkipped, "", err
			}
			switch po.Status {
			case document.StatusConfirmed:
				po, err = o.apply(ctx, po, workflow.ActionShip, workflow.Input{Caller: caller})
				return OutcomeDone, po.Code, err
			case document.StatusShipping, document.StatusPendingReceive, document.StatusCompleted:
				return OutcomeSkipped, po.Code, nil
			default:
				return "", "", stale(po, document.StatusConfirmed)
			}
		})
	})
}

// CompleteDelivery records the arrival, completes the SO and moves the PO to
// PendingReceive. The DO completion opens the buyer's receive ticket.
func (o *Orchestrator) CompleteDelivery(ctx context.Context, caller shared.Caller, doID int64, location string) (FlowResult, error) {
	return o.run(ctx, FlowCompleteDelivery, document.KindDeliveryOrder, doID, func(r *flowRun) error {
		if err := r.step("complete_delivery", func(ctx context.Context) (Outcome, string, error) {
			do, err := o.store.Get(ctx, document.KindDeliveryOrder, doID)
			if err != nil {
				return "", "", err
			}
			outcome := OutcomeSkipped
			switch do.Status {
			case document.StatusInTransit:
				do, err = o.apply(ctx, do, workflow.ActionComplete, workflow.Input{Caller: caller, Location: location})
				if err != nil {
					return "", "", err
				}
				outcome = OutcomeDone
			case document.StatusCompleted:
			default:
				return "", "", stale(do, document.StatusInTransit)
			}
			rt, _, err := o.child(ctx, document.KindReceiveTicket, do)
			return outcome, rt.Code, err
		}); err != nil {
			return err
		}

		if err := r.step("complete_sales_order", func(ctx context.Context) (Outcome, string, error) {
			so, err := o.salesOrderOf(ctx, doID)
			if err != nil {
				return "", "", err
			}
			switch so.Status {
			case document.StatusShipping:
				so, err = o.apply(ctx, so, workflow.ActionComplete, workflow.Input{Caller: caller})
				return OutcomeDone, so.Code, err
			case document.StatusCompleted:
				return OutcomeSkipped, so.Code, nil
			default:
				return "", "", stale(so, document.StatusShipping)
			}
		}); err != nil {
			return err
		}

		return r.step("arrive_purchase_order", func(ctx context.Context) (Outcome, string, error) {
			po, ok, err := o.purchaseOrderOf(ctx, doID)
			if err != nil || !ok {
				return OutcomeSkipped, "", err
			}
			switch po.Status {
			case document.StatusShipping:
				po, err = o.apply(ctx, po, workflow.ActionArriveWarehouse, workflow.Input{Caller: caller})
				return OutcomeDone, po.Code, err
			case document.StatusPendingReceive, document.StatusCompleted:
				return OutcomeSkipped, po.Code, nil
			default:
				return "", "", stale(po, document.StatusShipping)
			}
		})
	})
}

func (o *Orchestrator) salesOrderOf(ctx context.Context, doID int64) (document.Document, error) {
	do, err := o.store.Get(ctx, document.KindDeliveryOrder, doID)
	if err != nil {
		return document.Document{}, err
	}
	so, ok, err := o.source(ctx, do, document.KindSalesOrder)
	if err != nil {
		return document.Document{}, err
	}
	if !ok {
		return document.Document{}, shared.Invariant("delivery %s has no sales order", do.Code)
	}
	return so, nil
}

func (o *Orchestrator) purchaseOrderOf(ctx context.Context, doID int64) (document.Document, bool, error) {
	so, err := o.salesOrderOf(ctx, doID)
	if err != nil {
		return document.Document{}, false, err
	}
	return o.source(ctx, so, document.KindPurchaseOrder)
}

// ConfirmReceipt books a receive ticket into stock and completes whatever it
// was received for: the PO behind a delivery, or a manufacturing order.
func (o *Orchestrator) ConfirmReceipt(ctx context.Context, caller shared.Caller, ticketID int64, lines []document.LineItem) (FlowResult, error) {
	return o.run(ctx, FlowConfirmReceipt, document.KindReceiveTicket, ticketID, func(r *flowRun) error {
		var received []document.LineItem
		if err := r.step("confirm_receipt", func(ctx context.Context) (Outcome, string, error) {
			rt, err := o.store.Get(ctx, document.KindReceiveTicket, ticketID)
			if err != nil {
				return "", "", err
			}
			received = rt.Lines
			if len(lines) > 0 {
				received = lines
			}
			switch rt.Status {
			case document.StatusPendingConfirm:
				rt, err = o.apply(ctx, rt, workflow.ActionConfirm, workflow.Input{Caller: caller, Lines: lines})
				return OutcomeDone, rt.Code, err
			case document.StatusCompleted:
				return OutcomeSkipped, rt.Code, nil
			default:
				return "", "", stale(rt, document.StatusPendingConfirm)
			}
		}); err != nil {
			return err
		}

		return r.step("receive_source", func(ctx context.Context) (Outcome, string, error) {
			rt, err := o.store.Get(ctx, document.KindReceiveTicket, ticketID)
			if err != nil {
				return "", "", err
			}
			switch rt.SourceKind {
			case document.KindDeliveryOrder:
				do, err := o.store.GetByCode(ctx, document.KindDeliveryOrder, rt.SourceCode)
				if err != nil {
					return "", "", err
				}
				po, ok, err := o.purchaseOrderOf(ctx, do.ID)
				if err != nil || !ok {
					return OutcomeSkipped, "", err
				}
				return o.finish(ctx, po, workflow.Input{Caller: caller})
			case document.KindManufacturingOrder:
				mo, err := o.store.GetByCode(ctx, document.KindManufacturingOrder, rt.SourceCode)
				if err != nil {
					return "", "", err
				}
				qty := decimal.Zero
				for _, l := range received {
					if l.ItemID == mo.Manufacturing.ItemID {
						qty = qty.Add(l.Quantity)
					}
				}
				return o.finish(ctx, mo, workflow.Input{Caller: caller, Quantity: &qty})
			default:
				return OutcomeSkipped, "", nil
			}
		})
	})
}

// finish moves a PendingReceive document to Completed.
func (o *Orchestrator) finish(ctx context.Context, doc document.Document, in workflow.Input) (Outcome, string, error) {
	switch doc.Status {
	case document.StatusPendingReceive:
		doc, err := o.apply(ctx, doc, workflow.ActionReceiveConfirmed, in)
		return OutcomeDone, doc.Code, err
	case document.StatusCompleted:
		return OutcomeSkipped, doc.Code, nil
	default:
		return "", "", stale(doc, document.StatusPendingReceive)
	}
}

// StartProcess starts stage process order. Starting process 1 of a
// PendingProduction MO starts production, which consumes its materials.
func (o *Orchestrator) StartProcess(ctx context.Context, caller shared.Caller, moID int64, order int) (FlowResult, error) {
	return o.run(ctx, FlowStartProcess, document.KindManufacturingOrder, moID, func(r *flowRun) error {
		if err := r.step("start_production", o.startProduction(caller, moID, order)); err != nil {
			return err
		}
		return r.step("start_process", func(ctx context.Context) (Outcome, string, error) {
			mo, err := o.store.Get(ctx, document.KindManufacturingOrder, moID)
			if err != nil {
				return "", "", err
			}
			status, err := manufacturing.ProcessStatus(mo.Manufacturing, order)
			if err != nil {
				return "", "", err
			}
			if status != document.ProcessNotStarted {
				return OutcomeSkipped, mo.Code, nil
			}
			mo, err = o.apply(ctx, mo, workflow.ActionStartProcess, workflow.Input{Caller: caller, ProcessOrder: order})
			return OutcomeDone, mo.Code, err
		})
	})
}

// CompleteProcess finishes stage process order, starting it first if needed.
// Completing the last process moves the MO to PendingReceive and opens the
// finished goods receive ticket.
func (o *Orchestrator) CompleteProcess(ctx context.Context, caller shared.Caller, moID int64, order int) (FlowResult, error) {
	return o.run(ctx, FlowCompleteProcess, document.KindManufacturingOrder, moID, func(r *flowRun) error {
		if err := r.step("start_production", o.startProduction(caller, moID, order)); err != nil {
			return err
		}
		if err := r.step("complete_process", func(ctx context.Context) (Outcome, string, error) {
			mo, err := o.store.Get(ctx, document.KindManufacturingOrder, moID)
			if err != nil {
				return "", "", err
			}
			status, err := manufacturing.ProcessStatus(mo.Manufacturing, order)
			if err != nil {
				return "", "", err
			}
			switch status {
			case document.ProcessDone:
				return OutcomeSkipped, mo.Code, nil
			case document.ProcessNotStarted:
				if mo, err = o.apply(ctx, mo, workflow.ActionStartProcess, workflow.Input{Caller: caller, ProcessOrder: order}); err != nil {
					return "", "", err
				}
			}
			mo, err = o.apply(ctx, mo, workflow.ActionCompleteProcess, workflow.Input{Caller: caller, ProcessOrder: order})
			return OutcomeDone, mo.Code, err
		}); err != nil {
			return err
		}

		return r.step("finish_production", func(ctx context.Context) (Outcome, string, error) {
			mo, err := o.store.Get(ctx, document.KindManufacturingOrder, moID)
			if err != nil {
				return "", "", err
			}
			if mo.Status != document.StatusInProduction || !manufacturing.AllDone(mo.Manufacturing) {
				rt, _, err := o.child(ctx, document.KindReceiveTicket, mo)
				return OutcomeSkipped, rt.Code, err
			}
			if mo, err = o.apply(ctx, mo, workflow.ActionAllProcessesDone, workflow.Input{Caller: caller}); err != nil {
				return "", "", err
			}
			rt, _, err := o.child(ctx, document.KindReceiveTicket, mo)
			return OutcomeDone, rt.Code, err
		})
	})
}

func (o *Orchestrator) startProduction(caller shared.Caller, moID int64, order int) stepFunc {
	return func(ctx context.Context) (Outcome, string, error) {
		mo, err := o.store.Get(ctx, document.KindManufacturingOrder, moID)
		if err != nil {
			return "", "", err
		}
		switch mo.Status {
		case document.StatusInProduction, document.StatusPendingReceive, document.StatusCompleted:
			// Production already ran past this point; every process is Done
			// once the MO leaves InProduction.
			return OutcomeSkipped, mo.Code, nil
		case document.StatusPendingProduction:
			if order != 1 {
				return "", "", stale(mo, document.StatusInProduction)
			}
			mo, err = o.apply(ctx, mo, workflow.ActionStartFirstProcess, workflow.Input{Caller: caller})
			return OutcomeDone, mo.Code, err
		default:
			return "", "", stale(mo, document.StatusPendingProduction, document.StatusInProduction)
		}
	}
}

// CompleteManufacturingOrder receives completedQuantity of the produced item
// and completes the MO. A nil quantity means the planned quantity; zero is a
// run whose whole output was scrapped.
func (o *Orchestrator) CompleteManufacturingOrder(ctx context.Context, caller shared.Caller, moID int64, completedQuantity *decimal.Decimal) (FlowResult, error) {
	return o.run(ctx, FlowCompleteManufacturingOrder, document.KindManufacturingOrder, moID, func(r *flowRun) error {
		var completed decimal.Decimal
		if completedQuantity != nil {
			completed = *completedQuantity
		}
		if completed.IsNegative() {
			return r.step("confirm_receipt", func(context.Context) (Outcome, string, error) {
				return "", "", shared.Invalid("completed_quantity", "must not be negative")
			})
		}
		if err := r.step("confirm_receipt", func(ctx context.Context) (Outcome, string, error) {
			mo, err := o.store.Get(ctx, document.KindManufacturingOrder, moID)
			if err != nil {
				return "", "", err
			}
			if completedQuantity == nil {
				completed = mo.Manufacturing.PlannedQuantity
			}
			rt, ok, err := o.child(ctx, document.KindReceiveTicket, mo)
			if err != nil {
				return "", "", err
			}
			if !ok {
				return "", "", stale(mo, document.StatusPendingReceive)
			}
			switch rt.Status {
			case document.StatusPendingConfirm:
				rt, err = o.apply(ctx, rt, workflow.ActionConfirm, workflow.Input{
					Caller: caller,
					Lines:  []document.LineItem{{ItemID: mo.Manufacturing.ItemID, Quantity: completed}},
				})
				return OutcomeDone, rt.Code, err
			case document.StatusCompleted:
				return OutcomeSkipped, rt.Code, nil
			default:
				return "", "", stale(rt, document.StatusPendingConfirm)
			}
		}); err != nil {
			return err
		}

		return r.step("complete_mo", func(ctx context.Context) (Outcome, string, error) {
			mo, err := o.store.Get(ctx, document.KindManufacturingOrder, moID)
			if err != nil {
				return "", "", err
			}
			return o.finish(ctx, mo, workflow.Input{Caller: caller, Quantity: &completed})
		})
	})
}
