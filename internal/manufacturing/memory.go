package manufacturing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// MemoryCatalog keeps BOMs and routings in process memory.
type MemoryCatalog struct {
	mu       sync.RWMutex
	boms     map[int64]BOM
	routings map[int64]Routing
}

var _ Catalog = (*MemoryCatalog)(nil)

// NewMemoryCatalog constructs an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{boms: make(map[int64]BOM), routings: make(map[int64]Routing)}
}

func (c *MemoryCatalog) GetBOM(_ context.Context, itemID int64) (BOM, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bom, ok := c.boms[itemID]
	if !ok {
		return BOM{}, fmt.Errorf("manufacturing: bom for item %d: %w", itemID, shared.ErrNotFound)
	}
	bom.Components = append([]document.BOMComponent(nil), bom.Components...)
	return bom, nil
}

func (c *MemoryCatalog) PutBOM(_ context.Context, bom BOM) (BOM, error) {
	if err := bom.Validate(); err != nil {
		return BOM{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	bom.Components = append([]document.BOMComponent(nil), bom.Components...)
	bom.UpdatedAt = time.Now().UTC()
	c.boms[bom.ItemID] = bom
	return bom, nil
}

func (c *MemoryCatalog) GetRouting(_ context.Context, lineID int64) (Routing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	routing, ok := c.routings[lineID]
	if !ok {
		return Routing{}, fmt.Errorf("manufacturing: routing for line %d: %w", lineID, shared.ErrNotFound)
	}
	routing.Stages = append([]Stage(nil), routing.Stages...)
	return routing, nil
}

func (c *MemoryCatalog) PutRouting(_ context.Context, routing Routing) (Routing, error) {
	if err := routing.Validate(); err != nil {
		return Routing{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	routing.Stages = append([]Stage(nil), routing.Stages...)
	routing.UpdatedAt = time.Now().UTC()
	c.routings[routing.LineID] = routing
	return routing, nil
}
