package workflow

import (
	"github.com/odyssey-erp/orderflow/internal/document"
)

// Action names a requested transition.
type Action string

const (
	ActionCreate                     Action = "Create"
	ActionQuote                      Action = "Quote"
	ActionAccept                     Action = "Accept"
	ActionReject                     Action = "Reject"
	ActionExpireDeadline             Action = "ExpireDeadline"
	ActionCancel                     Action = "Cancel"
	ActionEdit                       Action = "Edit"
	ActionConfirm                    Action = "Confirm"
	ActionShip                       Action = "Ship"
	ActionArriveWarehouse            Action = "ArriveWarehouse"
	ActionReceiveConfirmed           Action = "ReceiveConfirmed"
	ActionComplete                   Action = "Complete"
	ActionPickup                     Action = "Pickup"
	ActionConfirmAfterInventoryCheck Action = "ConfirmAfterInventoryCheck"
	ActionStartFirstProcess          Action = "StartFirstProcess"
	ActionStartProcess               Action = "StartProcess"
	ActionCompleteProcess            Action = "CompleteProcess"
	ActionAllProcessesDone           Action = "AllProcessesDone"
)

type guardFunc func(tc *transitionContext) error

type effectFunc func(tc *transitionContext) (Undo, error)

type transition struct {
	from    []document.Status
	action  Action
	to      document.Status
	guard   guardFunc
	effects []effectFunc
}

type table struct {
	// statuses lists every status in lifecycle order, initial first.
	statuses    []document.Status
	transitions []transition
}

func from(statuses ...document.Status) []document.Status { return statuses }

// tables is filled in init because the effects reach back into the tables
// through Engine.Create.
var tables map[document.Kind]table

func init() {
	tables = map[document.Kind]table{
		document.KindRFQ: {
			statuses: []document.Status{document.StatusNotQuoted, document.StatusQuoted, document.StatusOverdueQuote,
				document.StatusAccepted, document.StatusRejected, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusNotQuoted, document.StatusOverdueQuote), action: ActionQuote, to: document.StatusQuoted, effects: []effectFunc{createQuotation}},
				{from: from(document.StatusQuoted), action: ActionAccept, to: document.StatusAccepted},
				{from: from(document.StatusQuoted), action: ActionReject, to: document.StatusRejected},
				{from: from(document.StatusNotQuoted, document.StatusQuoted), action: ActionExpireDeadline, to: document.StatusOverdueQuote, guard: deadlinePassed, effects: []effectFunc{stampExpired}},
				{from: from(document.StatusNotQuoted, document.StatusQuoted, document.StatusOverdueQuote, document.StatusAccepted), action: ActionCancel, to: document.StatusCancelled},
				{from: from(document.StatusNotQuoted), action: ActionEdit, to: document.StatusNotQuoted, effects: []effectFunc{editDocument}},
			},
		},
		document.KindQuotation: {
			statuses: []document.Status{document.StatusPending, document.StatusAccepted, document.StatusRejected, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPending), action: ActionAccept, to: document.StatusAccepted, effects: []effectFunc{createPurchaseOrder}},
				{from: from(document.StatusPending), action: ActionReject, to: document.StatusRejected},
				{from: from(document.StatusPending), action: ActionCancel, to: document.StatusCancelled},
			},
		},
		document.KindPurchaseOrder: {
			statuses: []document.Status{document.StatusPendingConfirm, document.StatusConfirmed, document.StatusShipping,
				document.StatusPendingReceive, document.StatusCompleted, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPendingConfirm), action: ActionConfirm, to: document.StatusConfirmed, effects: []effectFunc{reserveLines}},
				{from: from(document.StatusConfirmed), action: ActionShip, to: document.StatusShipping},
				{from: from(document.StatusShipping), action: ActionArriveWarehouse, to: document.StatusPendingReceive},
				{from: from(document.StatusPendingReceive), action: ActionReceiveConfirmed, to: document.StatusCompleted},
				{from: from(document.StatusPendingConfirm), action: ActionCancel, to: document.StatusCancelled, effects: []effectFunc{releaseReservations}},
				{from: from(document.StatusPendingConfirm), action: ActionEdit, to: document.StatusPendingConfirm, effects: []effectFunc{editDocument}},
			},
		},
		document.KindSalesOrder: {
			statuses: []document.Status{document.StatusPendingDelivery, document.StatusShipping, document.StatusCompleted, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPendingDelivery), action: ActionShip, to: document.StatusShipping},
				{from: from(document.StatusShipping), action: ActionComplete, to: document.StatusCompleted},
				{from: from(document.StatusPendingDelivery), action: ActionCancel, to: document.StatusCancelled},
			},
		},
		document.KindManufacturingOrder: {
			statuses: []document.Status{document.StatusPendingConfirm, document.StatusPendingProduction, document.StatusInProduction,
				document.StatusPendingReceive, document.StatusCompleted, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPendingConfirm), action: ActionConfirmAfterInventoryCheck, to: document.StatusPendingProduction, effects: []effectFunc{snapshotBOM, reserveMaterials}},
				{from: from(document.StatusPendingProduction), action: ActionStartFirstProcess, to: document.StatusInProduction, effects: []effectFunc{startFirstProcess, consumeReservations}},
				{from: from(document.StatusInProduction), action: ActionStartProcess, to: document.StatusInProduction, effects: []effectFunc{startProcess}},
				{from: from(document.StatusInProduction), action: ActionCompleteProcess, to: document.StatusInProduction, effects: []effectFunc{completeProcess}},
				{from: from(document.StatusInProduction), action: ActionAllProcessesDone, to: document.StatusPendingReceive, guard: allProcessesDone, effects: []effectFunc{createFinishedGoodsReceipt}},
				{from: from(document.StatusPendingReceive), action: ActionReceiveConfirmed, to: document.StatusCompleted, guard: completedWithinPlan, effects: []effectFunc{recordCompletedQuantity}},
				{from: from(document.StatusPendingConfirm, document.StatusPendingProduction), action: ActionCancel, to: document.StatusCancelled, effects: []effectFunc{releaseReservations}},
				{from: from(document.StatusPendingConfirm), action: ActionEdit, to: document.StatusPendingConfirm, effects: []effectFunc{editManufacturingOrder}},
			},
		},
		document.KindDeliveryOrder: {
			statuses: []document.Status{document.StatusPendingConfirm, document.StatusPendingPickup, document.StatusInTransit,
				document.StatusCompleted, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPendingConfirm), action: ActionConfirm, to: document.StatusPendingPickup},
				{from: from(document.StatusPendingPickup), action: ActionPickup, to: document.StatusInTransit, effects: []effectFunc{appendStop(document.StopFrom)}},
				{from: from(document.StatusInTransit), action: ActionComplete, to: document.StatusCompleted, effects: []effectFunc{appendStop(document.StopTo), createDeliveryReceipt}},
				{from: from(document.StatusPendingConfirm, document.StatusPendingPickup), action: ActionCancel, to: document.StatusCancelled},
			},
		},
		document.KindReceiveTicket: {
			statuses: []document.Status{document.StatusPendingConfirm, document.StatusCompleted, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPendingConfirm), action: ActionConfirm, to: document.StatusCompleted, effects: []effectFunc{receiveStock}},
				{from: from(document.StatusPendingConfirm), action: ActionCancel, to: document.StatusCancelled},
			},
		},
		document.KindIssueTicket: {
			statuses: []document.Status{document.StatusPendingConfirm, document.StatusCompleted, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPendingConfirm), action: ActionConfirm, to: document.StatusCompleted, effects: []effectFunc{issueStock}},
				{from: from(document.StatusPendingConfirm), action: ActionCancel, to: document.StatusCancelled, effects: []effectFunc{releaseReservations}},
			},
		},
		document.KindTransferTicket: {
			statuses: []document.Status{document.StatusPendingConfirm, document.StatusCompleted, document.StatusCancelled},
			transitions: []transition{
				{from: from(document.StatusPendingConfirm), action: ActionConfirm, to: document.StatusCompleted, effects: []effectFunc{transferStock}},
				{from: from(document.StatusPendingConfirm), action: ActionCancel, to: document.StatusCancelled},
			},
		},
	}
}

func lookup(kind document.Kind, status document.Status, action Action) (transition, bool) {
	for _, t := range tables[kind].transitions {
		if t.action != action {
			continue
		}
		for _, s := range t.from {
			if s == status {
				return t, true
			}
		}
	}
	return transition{}, false
}

// InitialStatus returns the status a new document of kind starts in.
func InitialStatus(kind document.Kind) document.Status {
	t, ok := tables[kind]
	if !ok || len(t.statuses) == 0 {
		return ""
	}
	return t.statuses[0]
}

// Statuses lists the statuses of kind in lifecycle order.
func Statuses(kind document.Kind) []document.Status {
	return append([]document.Status(nil), tables[kind].statuses...)
}

// AvailableActions lists the actions allowed from status.
func AvailableActions(kind document.Kind, status document.Status) []Action {
	var out []Action
	for _, t := range tables[kind].transitions {
		for _, s := range t.from {
			if s == status {
				out = append(out, t.action)
				break
			}
		}
	}
	return out
}

// ParseAction matches raw against the actions known for kind, ignoring case
// and separators so URLs may use kebab case.
func ParseAction(kind document.Kind, raw string) (Action, bool) {
	norm := normalizeAction(raw)
	for _, t := range tables[kind].transitions {
		if normalizeAction(string(t.action)) == norm {
			return t.action, true
		}
	}
	return "", false
}

func normalizeAction(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '-' || c == '_' || c == ' ':
			continue
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
