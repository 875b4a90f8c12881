// Package manufacturing holds the bill of materials and routing catalog plus
// the stage process rules of manufacturing orders.
package manufacturing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// BOM is the recipe of a produced item.
type BOM struct {
	ItemID     int64                   `json:"item_id"`
	Components []document.BOMComponent `json:"components"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// Stage is one step of a production routing.
type Stage struct {
	StageID int64  `json:"stage_id"`
	Name    string `json:"name"`
}

// Routing is the ordered stage list of a production line.
type Routing struct {
	LineID    int64     `json:"line_id"`
	Stages    []Stage   `json:"stages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog stores BOMs and routings. Orders snapshot what they need at
// confirmation, so later edits never reach running orders.
type Catalog interface {
	GetBOM(ctx context.Context, itemID int64) (BOM, error)
	PutBOM(ctx context.Context, bom BOM) (BOM, error)
	GetRouting(ctx context.Context, lineID int64) (Routing, error)
	PutRouting(ctx context.Context, routing Routing) (Routing, error)
}

// Validate checks a BOM before it is stored.
func (b BOM) Validate() error {
	if b.ItemID <= 0 {
		return shared.Invalid("item_id", "produced item is required")
	}
	if len(b.Components) == 0 {
		return shared.Invalid("components", "at least one component is required")
	}
	seen := make(map[int64]struct{}, len(b.Components))
	for i, c := range b.Components {
		if c.ItemID <= 0 {
			return shared.Invalid("components", "component %d: item is required", i+1)
		}
		if c.ItemID == b.ItemID {
			return shared.Invalid("components", "component %d: item cannot consume itself", i+1)
		}
		if !c.QuantityPer.IsPositive() {
			return shared.Invalid("components", "component %d: quantity per unit must be greater than zero", i+1)
		}
		if _, dup := seen[c.ItemID]; dup {
			return shared.Invalid("components", "component %d: item %d listed twice", i+1, c.ItemID)
		}
		seen[c.ItemID] = struct{}{}
	}
	return nil
}

// Validate checks a routing before it is stored.
func (r Routing) Validate() error {
	if r.LineID <= 0 {
		return shared.Invalid("line_id", "production line is required")
	}
	if len(r.Stages) == 0 {
		return shared.Invalid("stages", "at least one stage is required")
	}
	for i, s := range r.Stages {
		if s.Name == "" {
			return shared.Invalid("stages", "stage %d: name is required", i+1)
		}
	}
	return nil
}

// Processes expands the routing into NotStarted processes numbered 1..n.
func (r Routing) Processes() []document.StageProcess {
	out := make([]document.StageProcess, len(r.Stages))
	for i, s := range r.Stages {
		out[i] = document.StageProcess{Order: i + 1, StageID: s.StageID, Name: s.Name, Status: document.ProcessNotStarted}
	}
	return out
}

// Requirement is the quantity of one material an order needs.
type Requirement struct {
	ItemID   int64
	Quantity decimal.Decimal
}

// Requirements multiplies every component by the planned quantity.
func Requirements(components []document.BOMComponent, planned decimal.Decimal) []Requirement {
	out := make([]Requirement, 0, len(components))
	for _, c := range components {
		out = append(out, Requirement{ItemID: c.ItemID, Quantity: c.QuantityPer.Mul(planned)})
	}
	return out
}
