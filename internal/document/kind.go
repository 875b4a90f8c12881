package document

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Kind selects the transition table and line shape of a document.
type Kind string

const (
	KindRFQ                Kind = "rfq"
	KindQuotation          Kind = "quotation"
	KindPurchaseOrder      Kind = "purchase_order"
	KindSalesOrder         Kind = "sales_order"
	KindManufacturingOrder Kind = "manufacturing_order"
	KindDeliveryOrder      Kind = "delivery_order"
	KindReceiveTicket      Kind = "receive_ticket"
	KindIssueTicket        Kind = "issue_ticket"
	KindTransferTicket     Kind = "transfer_ticket"
)

var kindPrefixes = map[Kind]string{
	KindRFQ:                "RFQ",
	KindQuotation:          "QUO",
	KindPurchaseOrder:      "PO",
	KindSalesOrder:         "SO",
	KindManufacturingOrder: "MO",
	KindDeliveryOrder:      "DO",
	KindReceiveTicket:      "RCV",
	KindIssueTicket:        "ISS",
	KindTransferTicket:     "TRF",
}

// Kinds lists every document kind in lifecycle order.
func Kinds() []Kind {
	return []Kind{
		KindRFQ, KindQuotation, KindPurchaseOrder, KindSalesOrder, KindManufacturingOrder,
		KindDeliveryOrder, KindReceiveTicket, KindIssueTicket, KindTransferTicket,
	}
}

// ParseKind validates a kind from user input. Hyphens and plural collection
// names such as purchase-orders are accepted for URLs.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if _, ok := kindPrefixes[k]; ok {
		return k, nil
	}
	if singular := Kind(strings.TrimSuffix(string(k), "s")); singular != k {
		if _, ok := kindPrefixes[singular]; ok {
			return singular, nil
		}
	}
	return "", shared.Invalid("kind", "unknown document kind %q", raw)
}

// Prefix returns the code prefix of the kind.
func (k Kind) Prefix() string {
	return kindPrefixes[k]
}

// FormatCode renders the human-readable code for id.
func (k Kind) FormatCode(id int64) string {
	return fmt.Sprintf("%s-%06d", k.Prefix(), id)
}

// Status is the lifecycle state of a document.
type Status string

const (
	StatusNotQuoted         Status = "NOT_QUOTED"
	StatusQuoted            Status = "QUOTED"
	StatusOverdueQuote      Status = "OVERDUE_QUOTE"
	StatusPending           Status = "PENDING"
	StatusAccepted          Status = "ACCEPTED"
	StatusRejected          Status = "REJECTED"
	StatusPendingConfirm    Status = "PENDING_CONFIRM"
	StatusConfirmed         Status = "CONFIRMED"
	StatusShipping          Status = "SHIPPING"
	StatusPendingReceive    Status = "PENDING_RECEIVE"
	StatusPendingDelivery   Status = "PENDING_DELIVERY"
	StatusPendingProduction Status = "PENDING_PRODUCTION"
	StatusInProduction      Status = "IN_PRODUCTION"
	StatusPendingPickup     Status = "PENDING_PICKUP"
	StatusInTransit         Status = "IN_TRANSIT"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal reports whether no further lifecycle work follows the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// ProcessStatus is the state of one stage process of a manufacturing order.
type ProcessStatus string

const (
	ProcessNotStarted ProcessStatus = "NOT_STARTED"
	ProcessInProgress ProcessStatus = "IN_PROGRESS"
	ProcessDone       ProcessStatus = "DONE"
)
