package document

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Document is the common record behind every order, ticket and request.
type Document struct {
	ID                    int64           `json:"id"`
	Kind                  Kind            `json:"kind"`
	Code                  string          `json:"code"`
	CompanyID             int64           `json:"company_id"`
	CounterpartyCompanyID int64           `json:"counterparty_company_id,omitempty"`
	Status                Status          `json:"status"`
	Version               int64           `json:"version"`
	CreatedBy             int64           `json:"created_by"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	WarehouseID           int64           `json:"warehouse_id,omitempty"`
	DestWarehouseID       int64           `json:"dest_warehouse_id,omitempty"`
	SourceKind            Kind            `json:"source_kind,omitempty"`
	SourceCode            string          `json:"source_code,omitempty"`
	NeedByDate            *time.Time      `json:"need_by_date,omitempty"`
	ExpiredAt             *time.Time      `json:"expired_at,omitempty"`
	Note                  string          `json:"note,omitempty"`
	Lines                 []LineItem      `json:"lines"`
	Reservations          []Reservation   `json:"reservations,omitempty"`
	Manufacturing         *Manufacturing  `json:"manufacturing,omitempty"`
	Delivery              *Delivery       `json:"delivery,omitempty"`
}

// LineItem is one requested item of a document.
type LineItem struct {
	ItemID    int64           `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Note      string          `json:"note,omitempty"`
}

// Total returns quantity*unitPrice - discount.
func (l LineItem) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Sub(l.Discount)
}

// Reservation is stock a document currently holds in the ledger.
type Reservation struct {
	WarehouseID int64           `json:"warehouse_id"`
	ItemID      int64           `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Manufacturing holds the manufacturing-order specific payload.
type Manufacturing struct {
	LineID            int64           `json:"line_id"`
	ItemID            int64           `json:"item_id"`
	PlannedQuantity   decimal.Decimal `json:"planned_quantity"`
	CompletedQuantity decimal.Decimal `json:"completed_quantity"`
	StartDate         *time.Time      `json:"start_date,omitempty"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	BOMSnapshot       []BOMComponent  `json:"bom_snapshot,omitempty"`
	Processes         []StageProcess  `json:"processes"`
}

// BOMComponent is one material of a bill of materials, per produced unit.
type BOMComponent struct {
	ItemID      int64           `json:"item_id"`
	QuantityPer decimal.Decimal `json:"quantity_per"`
}

// StageProcess is the execution state of one routing stage.
type StageProcess struct {
	Order      int           `json:"order"`
	StageID    int64         `json:"stage_id"`
	Name       string        `json:"name"`
	Status     ProcessStatus `json:"status"`
	StartedOn  *time.Time    `json:"started_on,omitempty"`
	FinishedOn *time.Time    `json:"finished_on,omitempty"`
}

// Delivery holds the delivery-order specific payload.
type Delivery struct {
	Stops []Stop `json:"stops"`
}

// Stop is one recorded location of a shipment.
type Stop struct {
	Location string    `json:"location"`
	Note     string    `json:"note"`
	At       time.Time `json:"at"`
}

// Stop notes appended by the delivery transitions.
const (
	StopFrom = "from"
	StopTo   = "to"
)

// Ref renders kind and code for logs and errors.
func (d Document) Ref() string {
	return string(d.Kind) + ":" + d.Code
}

// Clone returns a deep copy so snapshots handed to mutators stay immutable.
func (d Document) Clone() Document {
	out := d
	out.Lines = append([]LineItem(nil), d.Lines...)
	out.Reservations = append([]Reservation(nil), d.Reservations...)
	out.NeedByDate = cloneTime(d.NeedByDate)
	out.ExpiredAt = cloneTime(d.ExpiredAt)
	if d.Manufacturing != nil {
		m := *d.Manufacturing
		m.StartDate = cloneTime(m.StartDate)
		m.DueDate = cloneTime(m.DueDate)
		m.BOMSnapshot = append([]BOMComponent(nil), m.BOMSnapshot...)
		m.Processes = make([]StageProcess, len(d.Manufacturing.Processes))
		for i, p := range d.Manufacturing.Processes {
			p.StartedOn = cloneTime(p.StartedOn)
			p.FinishedOn = cloneTime(p.FinishedOn)
			m.Processes[i] = p
		}
		out.Manufacturing = &m
	}
	if d.Delivery != nil {
		dl := Delivery{Stops: append([]Stop(nil), d.Delivery.Stops...)}
		out.Delivery = &dl
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ComputeTotal sums the line totals.
func ComputeTotal(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// ValidateLines enforces the line item invariants.
func ValidateLines(lines []LineItem) error {
	if len(lines) == 0 {
		return shared.Invalid("lines", "at least one line item is required")
	}
	for i, l := range lines {
		if l.ItemID <= 0 {
			return shared.Invalid("lines", "line %d: item is required", i+1)
		}
		if !l.Quantity.IsPositive() {
			return shared.Invalid("lines", "line %d: quantity must be greater than zero", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return shared.Invalid("lines", "line %d: unit price must not be negative", i+1)
		}
		if l.Discount.IsNegative() {
			return shared.Invalid("lines", "line %d: discount must not be negative", i+1)
		}
		if l.Discount.GreaterThan(l.Quantity.Mul(l.UnitPrice)) {
			return shared.Invalid("lines", "line %d: discount exceeds quantity*unit price", i+1)
		}
	}
	return nil
}

// Validate checks the fields a new document of its kind requires.
func (d Document) Validate() error {
	if _, ok := kindPrefixes[d.Kind]; !ok {
		return shared.Invalid("kind", "unknown document kind %q", d.Kind)
	}
	if d.CompanyID <= 0 {
		return shared.Invalid("company_id", "owner company is required")
	}
	if d.CounterpartyCompanyID < 0 {
		return shared.Invalid("counterparty_company_id", "must not be negative")
	}
	if err := ValidateLines(d.Lines); err != nil {
		return err
	}
	switch d.Kind {
	case KindRFQ, KindQuotation, KindPurchaseOrder, KindSalesOrder:
		if d.CounterpartyCompanyID == 0 {
			return shared.Invalid("counterparty_company_id", "counterparty company is required")
		}
		if d.CounterpartyCompanyID == d.CompanyID {
			return shared.Invalid("counterparty_company_id", "counterparty must differ from owner")
		}
	case KindManufacturingOrder:
		return d.validateManufacturing()
	case KindDeliveryOrder:
		if d.SourceKind != KindSalesOrder || d.SourceCode == "" {
			return shared.Invalid("source_code", "delivery order requires a source sales order")
		}
	case KindReceiveTicket, KindIssueTicket:
		if d.WarehouseID <= 0 {
			return shared.Invalid("warehouse_id", "warehouse is required")
		}
	case KindTransferTicket:
		if d.WarehouseID <= 0 || d.DestWarehouseID <= 0 {
			return shared.Invalid("warehouse_id", "source and destination warehouses are required")
		}
		if d.WarehouseID == d.DestWarehouseID {
			return shared.Invalid("dest_warehouse_id", "source and destination warehouse must differ")
		}
	}
	return nil
}

func (d Document) validateManufacturing() error {
	m := d.Manufacturing
	if m == nil {
		return shared.Invalid("manufacturing", "manufacturing details are required")
	}
	if m.ItemID <= 0 {
		return shared.Invalid("manufacturing.item_id", "produced item is required")
	}
	if !m.PlannedQuantity.IsPositive() {
		return shared.Invalid("manufacturing.planned_quantity", "planned quantity must be greater than zero")
	}
	if d.WarehouseID <= 0 {
		return shared.Invalid("warehouse_id", "warehouse is required")
	}
	if m.StartDate != nil && m.DueDate != nil && m.DueDate.Before(*m.StartDate) {
		return shared.Invalid("manufacturing.due_date", "due date precedes start date")
	}
	if len(m.Processes) == 0 {
		return shared.Invalid("manufacturing.processes", "at least one stage process is required")
	}
	for i, p := range m.Processes {
		if p.Order != i+1 {
			return shared.Invalid("manufacturing.processes", "process orders must run 1..%d", len(m.Processes))
		}
	}
	return nil
}
