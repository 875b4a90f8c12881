package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies one inventory record.
type Key struct {
	WarehouseID int64
	ItemID      int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.WarehouseID, k.ItemID)
}

// Less orders keys by warehouse then item. Locks are always taken in this order.
func (k Key) Less(o Key) bool {
	if k.WarehouseID != o.WarehouseID {
		return k.WarehouseID < o.WarehouseID
	}
	return k.ItemID < o.ItemID
}

// Record summarises stock of one item in one warehouse.
type Record struct {
	WarehouseID      int64           `json:"warehouse_id"`
	ItemID           int64           `json:"item_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	OnDemandQuantity decimal.Decimal `json:"on_demand_quantity"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Key returns the record key.
func (r Record) Key() Key {
	return Key{WarehouseID: r.WarehouseID, ItemID: r.ItemID}
}

// Available returns max(0, quantity - onDemandQuantity).
func (r Record) Available() decimal.Decimal {
	avail := r.Quantity.Sub(r.OnDemandQuantity)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Availability is the outcome of CheckAvailable.
type Availability string

const (
	Sufficient   Availability = "SUFFICIENT"
	Insufficient Availability = "INSUFFICIENT"
	NoRecord     Availability = "NO_RECORD"
)

// MovementKind enumerates ledger mutations.
type MovementKind string

const (
	MovementReserve     MovementKind = "RESERVE"
	MovementRelease     MovementKind = "RELEASE"
	MovementAdjust      MovementKind = "ADJUST"
	MovementConsume     MovementKind = "CONSUME"
	MovementTransferOut MovementKind = "TRANSFER_OUT"
	MovementTransferIn  MovementKind = "TRANSFER_IN"
)

// Movement is one auditable change of a record.
type Movement struct {
	ID            int64           `json:"id"`
	WarehouseID   int64           `json:"warehouse_id"`
	ItemID        int64           `json:"item_id"`
	Kind          MovementKind    `json:"kind"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	OnDemandDelta decimal.Decimal `json:"on_demand_delta"`
	QuantityAfter decimal.Decimal `json:"quantity_after"`
	OnDemandAfter decimal.Decimal `json:"on_demand_after"`
	ReasonCode    string          `json:"reason_code,omitempty"`
	RefKind       string          `json:"ref_kind,omitempty"`
	RefCode       string          `json:"ref_code,omitempty"`
	ActorID       int64           `json:"actor_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Line is a quantity of one item at one warehouse. Adjust lines may be negative.
type Line struct {
	WarehouseID int64           `json:"warehouse_id"`
	ItemID      int64           `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Key returns the record key of the line.
func (l Line) Key() Key {
	return Key{WarehouseID: l.WarehouseID, ItemID: l.ItemID}
}

// Ref describes why the ledger moved. It is copied onto every movement.
type Ref struct {
	Kind    string
	Code    string
	Reason  string
	ActorID int64
}

// CheckResult is the availability of one requested item.
type CheckResult struct {
	WarehouseID int64           `json:"warehouse_id"`
	ItemID      int64           `json:"item_id"`
	Requested   decimal.Decimal `json:"requested"`
	Available   decimal.Decimal `json:"available"`
	Status      Availability    `json:"status"`
	Sufficient  bool            `json:"sufficient"`
}

// RecordFilter narrows GetInventory. Zero values are ignored.
type RecordFilter struct {
	WarehouseID int64
	ItemID      int64
	// LowStockAt, when positive, keeps records whose available stock is at or below it.
	LowStockAt decimal.Decimal
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	WarehouseID int64
	ItemID      int64
	RefKind     string
	RefCode     string
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrRecordNotFound indicates missing record row.
var ErrRecordNotFound = errors.New("inventory record not found")
