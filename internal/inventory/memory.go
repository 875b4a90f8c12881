package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// MemoryRepository keeps the ledger in process memory. Keys touched by one
// WithTx call are locked in sorted order and changes are staged until fn
// returns without error.
type MemoryRepository struct {
	keys      shared.KeyedMutex
	mu        sync.RWMutex
	records   map[Key]Record
	movements []Movement
	nextID    int64
}

var _ RepositoryPort = (*MemoryRepository)(nil)

// NewMemoryRepository constructs an empty ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[Key]Record)}
}

type memoryTx struct {
	repo      *MemoryRepository
	locked    map[Key]struct{}
	staged    map[Key]Record
	movements []Movement
}

// WithTx locks keys, runs fn and commits the staged writes atomically.
func (r *MemoryRepository) WithTx(ctx context.Context, keys []Key, fn func(context.Context, TxRepository) error) error {
	names := make([]string, len(keys))
	locked := make(map[Key]struct{}, len(keys))
	for i, k := range keys {
		names[i] = k.String()
		locked[k] = struct{}{}
	}
	unlock := r.keys.LockAll(names)
	defer unlock()

	tx := &memoryTx{repo: r, locked: locked, staged: make(map[Key]Record)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, rec := range tx.staged {
		r.records[k] = rec
	}
	for _, m := range tx.movements {
		r.nextID++
		m.ID = r.nextID
		r.movements = append(r.movements, m)
	}
	return nil
}

func (tx *memoryTx) GetRecordsForUpdate(_ context.Context, keys []Key) (map[Key]Record, error) {
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	out := make(map[Key]Record, len(keys))
	for _, k := range keys {
		if _, ok := tx.locked[k]; !ok {
			return nil, shared.Invariant("key %s read without lock", k)
		}
		if rec, ok := tx.staged[k]; ok {
			out[k] = rec
			continue
		}
		if rec, ok := tx.repo.records[k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func (tx *memoryTx) UpsertRecord(_ context.Context, record Record) error {
	if _, ok := tx.locked[record.Key()]; !ok {
		return shared.Invariant("key %s written without lock", record.Key())
	}
	tx.staged[record.Key()] = record
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, movement Movement) error {
	tx.movements = append(tx.movements, movement)
	return nil
}

// ListRecords returns records sorted by warehouse then item.
func (r *MemoryRepository) ListRecords(_ context.Context, filter RecordFilter) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if filter.WarehouseID > 0 && rec.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.ItemID > 0 && rec.ItemID != filter.ItemID {
			continue
		}
		if filter.LowStockAt.IsPositive() && rec.Available().GreaterThan(filter.LowStockAt) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

// ListMovements returns movements newest first.
func (r *MemoryRepository) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Movement, 0)
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if filter.WarehouseID > 0 && m.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.ItemID > 0 && m.ItemID != filter.ItemID {
			continue
		}
		if filter.RefKind != "" && m.RefKind != filter.RefKind {
			continue
		}
		if filter.RefCode != "" && m.RefCode != filter.RefCode {
			continue
		}
		if !filter.From.IsZero() && m.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
