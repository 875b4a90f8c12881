package manufacturing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Repository persists the catalog in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Catalog = (*Repository)(nil)

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetBOM(ctx context.Context, itemID int64) (BOM, error) {
	var raw []byte
	bom := BOM{ItemID: itemID}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT components, updated_at FROM boms WHERE item_id=$1`, itemID).Scan(&raw, &bom.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BOM{}, fmt.Errorf("manufacturing: bom for item %d: %w", itemID, shared.ErrNotFound)
	}
	if err != nil {
		return BOM{}, err
	}
	if err := json.Unmarshal(raw, &bom.Components); err != nil {
		return BOM{}, fmt.Errorf("manufacturing: decode bom: %w", err)
	}
	return bom, nil
}

func (r *Repository) PutBOM(ctx context.Context, bom BOM) (BOM, error) {
	if err := bom.Validate(); err != nil {
		return BOM{}, err
	}
	raw, err := json.Marshal(bom.Components)
	if err != nil {
		return BOM{}, err
	}
	bom.UpdatedAt = time.Now().UTC()
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO boms (item_id, components, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO UPDATE SET components = EXCLUDED.components, updated_at = EXCLUDED.updated_at`,
		bom.ItemID, raw, bom.UpdatedAt)
	if err != nil {
		return BOM{}, fmt.Errorf("manufacturing: upsert bom: %w", err)
	}
	return bom, nil
}

func (r *Repository) GetRouting(ctx context.Context, lineID int64) (Routing, error) {
	var raw []byte
	routing := Routing{LineID: lineID}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT stages, updated_at FROM routings WHERE line_id=$1`, lineID).Scan(&raw, &routing.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Routing{}, fmt.Errorf("manufacturing: routing for line %d: %w", lineID, shared.ErrNotFound)
	}
	if err != nil {
		return Routing{}, err
	}
	if err := json.Unmarshal(raw, &routing.Stages); err != nil {
		return Routing{}, fmt.Errorf("manufacturing: decode routing: %w", err)
	}
	return routing, nil
}

func (r *Repository) PutRouting(ctx context.Context, routing Routing) (Routing, error) {
	if err := routing.Validate(); err != nil {
		return Routing{}, err
	}
	raw, err := json.Marshal(routing.Stages)
	if err != nil {
		return Routing{}, err
	}
	routing.UpdatedAt = time.Now().UTC()
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO routings (line_id, stages, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (line_id) DO UPDATE SET stages = EXCLUDED.stages, updated_at = EXCLUDED.updated_at`,
		routing.LineID, raw, routing.UpdatedAt)
	if err != nil {
		return Routing{}, fmt.Errorf("manufacturing: upsert routing: %w", err)
	}
	return routing, nil
}
