package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

var _ RepositoryPort = (*Repository)(nil)

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.Querier
}

// WithTx executes the callback with the keys locked. It joins the transaction
// carried by ctx, otherwise it opens a read-committed one. Keys are locked in
// sorted order with transaction-scoped advisory locks, so rows that do not
// exist yet are serialized too.
func (r *Repository) WithTx(ctx context.Context, keys []Key, fn func(context.Context, TxRepository) error) error {
	run := func(ctx context.Context, q db.Querier) error {
		for _, k := range keys {
			if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "inventory:"+k.String()); err != nil {
				return fmt.Errorf("inventory: lock %s: %w", k, db.MapError(err))
			}
		}
		return fn(ctx, &txRepo{q: q})
	}
	if tx, ok := db.TxFromContext(ctx); ok {
		return run(ctx, tx)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := run(ctx, tx); err != nil {
		return db.MapError(err)
	}
	return db.MapError(tx.Commit(ctx))
}

func (r *txRepo) GetRecordsForUpdate(ctx context.Context, keys []Key) (map[Key]Record, error) {
	out := make(map[Key]Record, len(keys))
	for _, k := range keys {
		row := r.q.QueryRow(ctx, `SELECT warehouse_id, item_id, quantity::text, on_demand_quantity::text, updated_at
			FROM inventory_records WHERE warehouse_id=$1 AND item_id=$2 FOR UPDATE`, k.WarehouseID, k.ItemID)
		rec, err := scanRecord(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = rec
	}
	return out, nil
}

func (r *txRepo) UpsertRecord(ctx context.Context, record Record) error {
	_, err := r.q.Exec(ctx, `INSERT INTO inventory_records (warehouse_id, item_id, quantity, on_demand_quantity, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5)
		ON CONFLICT (warehouse_id, item_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, on_demand_quantity = EXCLUDED.on_demand_quantity, updated_at = EXCLUDED.updated_at`,
		record.WarehouseID, record.ItemID, record.Quantity.String(), record.OnDemandQuantity.String(), record.UpdatedAt)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.q.Exec(ctx, `INSERT INTO inventory_movements (warehouse_id, item_id, kind, quantity_delta, on_demand_delta,
		quantity_after, on_demand_after, reason_code, ref_kind, ref_code, actor_id, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)`,
		m.WarehouseID, m.ItemID, string(m.Kind), m.QuantityDelta.String(), m.OnDemandDelta.String(),
		m.QuantityAfter.String(), m.OnDemandAfter.String(), m.ReasonCode, m.RefKind, m.RefCode, m.ActorID, m.CreatedAt)
	return err
}

// ListRecords returns records sorted by warehouse then item.
func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		conds = append(conds, fmt.Sprintf("warehouse_id = $%d", len(args)))
	}
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		conds = append(conds, fmt.Sprintf("item_id = $%d", len(args)))
	}
	if filter.LowStockAt.IsPositive() {
		args = append(args, filter.LowStockAt.String())
		conds = append(conds, fmt.Sprintf("GREATEST(quantity - on_demand_quantity, 0) <= $%d::numeric", len(args)))
	}
	query := `SELECT warehouse_id, item_id, quantity::text, on_demand_quantity::text, updated_at FROM inventory_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY warehouse_id, item_id"

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListMovements returns movements newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.WarehouseID > 0 {
		add("warehouse_id = $%d", filter.WarehouseID)
	}
	if filter.ItemID > 0 {
		add("item_id = $%d", filter.ItemID)
	}
	if filter.RefKind != "" {
		add("ref_kind = $%d", filter.RefKind)
	}
	if filter.RefCode != "" {
		add("ref_code = $%d", filter.RefCode)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	query := `SELECT id, warehouse_id, item_id, kind, quantity_delta::text, on_demand_delta::text, quantity_after::text,
		on_demand_after::text, reason_code, ref_kind, ref_code, actor_id, created_at FROM inventory_movements`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := make([]Movement, 0)
	for rows.Next() {
		var m Movement
		var kind, qtyDelta, odDelta, qtyAfter, odAfter string
		if err := rows.Scan(&m.ID, &m.WarehouseID, &m.ItemID, &kind, &qtyDelta, &odDelta, &qtyAfter, &odAfter,
			&m.ReasonCode, &m.RefKind, &m.RefCode, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = MovementKind(kind)
		if m.QuantityDelta, err = decimal.NewFromString(qtyDelta); err != nil {
			return nil, err
		}
		if m.OnDemandDelta, err = decimal.NewFromString(odDelta); err != nil {
			return nil, err
		}
		if m.QuantityAfter, err = decimal.NewFromString(qtyAfter); err != nil {
			return nil, err
		}
		if m.OnDemandAfter, err = decimal.NewFromString(odAfter); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec           Record
		qty, onDemand string
	)
	if err := row.Scan(&rec.WarehouseID, &rec.ItemID, &qty, &onDemand, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	var err error
	if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
		return Record{}, fmt.Errorf("inventory: parse quantity: %w", err)
	}
	if rec.OnDemandQuantity, err = decimal.NewFromString(onDemand); err != nil {
		return Record{}, fmt.Errorf("inventory: parse on-demand quantity: %w", err)
	}
	return rec, nil
}
