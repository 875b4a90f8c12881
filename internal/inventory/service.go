package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	// WithTx runs fn with every key in keys locked against concurrent ledger
	// mutation until fn returns.
	WithTx(ctx context.Context, keys []Key, fn func(context.Context, TxRepository) error) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// GetRecordsForUpdate returns the locked records. Missing keys are absent from the map.
	GetRecordsForUpdate(ctx context.Context, keys []Key) (map[Key]Record, error)
	UpsertRecord(ctx context.Context, record Record) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// ReservationMetrics receives reservation outcomes.
type ReservationMetrics interface {
	ObserveReservation(result string, lines int)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Metrics ReservationMetrics
	// OnChange runs after every committed mutation, e.g. to invalidate read caches.
	OnChange func(ctx context.Context, movements []Movement)
}

// Service is the inventory ledger. Every mutation is atomic across the keys it
// touches and leaves an auditable movement per key.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	metrics  ReservationMetrics
	onChange func(ctx context.Context, movements []Movement)
	clock    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		logger:   logger,
		metrics:  cfg.Metrics,
		onChange: cfg.OnChange,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckAvailable reports whether neededQty can be reserved. It does not mutate.
func (s *Service) CheckAvailable(ctx context.Context, warehouseID, itemID int64, neededQty decimal.Decimal) (Availability, Record, error) {
	if err := validateKey(warehouseID, itemID); err != nil {
		return "", Record{}, err
	}
	records, err := s.repo.ListRecords(ctx, RecordFilter{WarehouseID: warehouseID, ItemID: itemID})
	if err != nil {
		return "", Record{}, fmt.Errorf("inventory: check: %w", err)
	}
	if len(records) == 0 {
		return NoRecord, Record{WarehouseID: warehouseID, ItemID: itemID}, nil
	}
	rec := records[0]
	if rec.Available().LessThan(neededQty) {
		return Insufficient, rec, nil
	}
	return Sufficient, rec, nil
}

// Check evaluates every line. Duplicate items are summed before comparing.
func (s *Service) Check(ctx context.Context, lines []Line) ([]CheckResult, error) {
	merged, err := mergeLines(lines, false)
	if err != nil {
		return nil, err
	}
	results := make([]CheckResult, 0, len(merged))
	for _, l := range merged {
		status, rec, err := s.CheckAvailable(ctx, l.WarehouseID, l.ItemID, l.Quantity)
		if err != nil {
			return nil, err
		}
		results = append(results, CheckResult{
			WarehouseID: l.WarehouseID,
			ItemID:      l.ItemID,
			Requested:   l.Quantity,
			Available:   rec.Available(),
			Status:      status,
			Sufficient:  status == Sufficient,
		})
	}
	return results, nil
}

// Reserve increments onDemandQuantity after re-validating availability under lock.
func (s *Service) Reserve(ctx context.Context, warehouseID, itemID int64, qty decimal.Decimal, ref Ref) error {
	return s.ReserveAll(ctx, []Line{{WarehouseID: warehouseID, ItemID: itemID, Quantity: qty}}, ref)
}

// ReserveAll reserves every line or none of them.
func (s *Service) ReserveAll(ctx context.Context, lines []Line, ref Ref) error {
	merged, err := mergeLines(lines, false)
	if err != nil {
		return err
	}
	err = s.mutate(ctx, merged, ref, func(recs map[Key]*Record) ([]Movement, error) {
		var short []shared.ShortItem
		for _, l := range merged {
			rec := recs[l.Key()]
			if rec == nil || rec.Available().LessThan(l.Quantity) {
				available := decimal.Zero
				if rec != nil {
					available = rec.Available()
				}
				short = append(short, shared.ShortItem{WarehouseID: l.WarehouseID, ItemID: l.ItemID, Available: available, Requested: l.Quantity})
			}
		}
		if len(short) > 0 {
			return nil, &shared.InsufficientStockError{Items: short}
		}
		movements := make([]Movement, 0, len(merged))
		for _, l := range merged {
			rec := recs[l.Key()]
			rec.OnDemandQuantity = rec.OnDemandQuantity.Add(l.Quantity)
			movements = append(movements, movementFor(*rec, MovementReserve, decimal.Zero, l.Quantity))
		}
		return movements, nil
	})
	s.observeReservation(err, len(merged))
	if err != nil {
		return fmt.Errorf("inventory: reserve: %w", err)
	}
	return nil
}

// Release decrements onDemandQuantity floored at zero. Missing records are a no-op.
func (s *Service) Release(ctx context.Context, warehouseID, itemID int64, qty decimal.Decimal, ref Ref) error {
	return s.ReleaseAll(ctx, []Line{{WarehouseID: warehouseID, ItemID: itemID, Quantity: qty}}, ref)
}

// ReleaseAll releases every line atomically.
func (s *Service) ReleaseAll(ctx context.Context, lines []Line, ref Ref) error {
	merged, err := mergeLines(lines, false)
	if err != nil {
		return err
	}
	err = s.mutate(ctx, merged, ref, func(recs map[Key]*Record) ([]Movement, error) {
		var movements []Movement
		for _, l := range merged {
			rec := recs[l.Key()]
			if rec == nil {
				continue
			}
			released := decimal.Min(rec.OnDemandQuantity, l.Quantity)
			if released.IsZero() {
				continue
			}
			rec.OnDemandQuantity = rec.OnDemandQuantity.Sub(released)
			movements = append(movements, movementFor(*rec, MovementRelease, decimal.Zero, released.Neg()))
		}
		return movements, nil
	})
	if err != nil {
		return fmt.Errorf("inventory: release: %w", err)
	}
	return nil
}

// Adjust changes quantity by delta and never touches onDemandQuantity.
func (s *Service) Adjust(ctx context.Context, warehouseID, itemID int64, delta decimal.Decimal, ref Ref) (Record, error) {
	recs, err := s.AdjustAll(ctx, []Line{{WarehouseID: warehouseID, ItemID: itemID, Quantity: delta}}, ref)
	if err != nil {
		return Record{}, err
	}
	return recs[0], nil
}

// AdjustAll applies signed deltas atomically. Records are created on first
// receipt. Results follow the order of the merged keys.
func (s *Service) AdjustAll(ctx context.Context, lines []Line, ref Ref) ([]Record, error) {
	merged, err := mergeLines(lines, true)
	if err != nil {
		return nil, err
	}
	var out []Record
	err = s.mutate(ctx, merged, ref, func(recs map[Key]*Record) ([]Movement, error) {
		var short []shared.ShortItem
		for _, l := range merged {
			rec := recs[l.Key()]
			current := decimal.Zero
			if rec != nil {
				current = rec.Quantity
			}
			if current.Add(l.Quantity).IsNegative() {
				short = append(short, shared.ShortItem{WarehouseID: l.WarehouseID, ItemID: l.ItemID, Available: current, Requested: l.Quantity.Neg()})
			}
		}
		if len(short) > 0 {
			return nil, &shared.InsufficientStockError{Items: short}
		}
		movements := make([]Movement, 0, len(merged))
		out = make([]Record, 0, len(merged))
		for _, l := range merged {
			key := l.Key()
			rec := recs[key]
			if rec == nil {
				rec = &Record{WarehouseID: key.WarehouseID, ItemID: key.ItemID}
				recs[key] = rec
			}
			rec.Quantity = rec.Quantity.Add(l.Quantity)
			movements = append(movements, movementFor(*rec, MovementAdjust, l.Quantity, decimal.Zero))
			out = append(out, *rec)
		}
		return movements, nil
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: adjust: %w", err)
	}
	return out, nil
}

// Consume fulfils a reservation by decrementing both counters.
func (s *Service) Consume(ctx context.Context, warehouseID, itemID int64, qty decimal.Decimal, ref Ref) error {
	return s.ConsumeAll(ctx, []Line{{WarehouseID: warehouseID, ItemID: itemID, Quantity: qty}}, ref)
}

// ConsumeAll consumes every line or none of them.
func (s *Service) ConsumeAll(ctx context.Context, lines []Line, ref Ref) error {
	merged, err := mergeLines(lines, false)
	if err != nil {
		return err
	}
	err = s.mutate(ctx, merged, ref, func(recs map[Key]*Record) ([]Movement, error) {
		for _, l := range merged {
			rec := recs[l.Key()]
			if rec == nil {
				return nil, shared.Invariant("consume %s: no inventory record", l.Key())
			}
			if rec.Quantity.LessThan(l.Quantity) || rec.OnDemandQuantity.LessThan(l.Quantity) {
				return nil, shared.Invariant("consume %s: qty %s exceeds quantity %s or on-demand %s", l.Key(), l.Quantity, rec.Quantity, rec.OnDemandQuantity)
			}
		}
		movements := make([]Movement, 0, len(merged))
		for _, l := range merged {
			rec := recs[l.Key()]
			rec.Quantity = rec.Quantity.Sub(l.Quantity)
			rec.OnDemandQuantity = rec.OnDemandQuantity.Sub(l.Quantity)
			movements = append(movements, movementFor(*rec, MovementConsume, l.Quantity.Neg(), l.Quantity.Neg()))
		}
		return movements, nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInvariantViolation) {
			s.logger.Error("inventory invariant violated", slog.String("ref", ref.Kind+":"+ref.Code), slog.Any("error", err))
		}
		return fmt.Errorf("inventory: consume: %w", err)
	}
	return nil
}

// Transfer moves available stock of each line from one warehouse to another.
func (s *Service) Transfer(ctx context.Context, fromWarehouseID, toWarehouseID int64, lines []Line, ref Ref) error {
	if fromWarehouseID <= 0 || toWarehouseID <= 0 || fromWarehouseID == toWarehouseID {
		return shared.Invalid("warehouse_id", "transfer needs two distinct warehouses")
	}
	outbound := make([]Line, len(lines))
	for i, l := range lines {
		outbound[i] = Line{WarehouseID: fromWarehouseID, ItemID: l.ItemID, Quantity: l.Quantity}
	}
	merged, err := mergeLines(outbound, false)
	if err != nil {
		return err
	}
	keys := make([]Line, 0, len(merged)*2)
	keys = append(keys, merged...)
	for _, l := range merged {
		keys = append(keys, Line{WarehouseID: toWarehouseID, ItemID: l.ItemID, Quantity: l.Quantity})
	}
	err = s.mutate(ctx, keys, ref, func(recs map[Key]*Record) ([]Movement, error) {
		var short []shared.ShortItem
		for _, l := range merged {
			rec := recs[l.Key()]
			if rec == nil || rec.Available().LessThan(l.Quantity) {
				available := decimal.Zero
				if rec != nil {
					available = rec.Available()
				}
				short = append(short, shared.ShortItem{WarehouseID: l.WarehouseID, ItemID: l.ItemID, Available: available, Requested: l.Quantity})
			}
		}
		if len(short) > 0 {
			return nil, &shared.InsufficientStockError{Items: short}
		}
		movements := make([]Movement, 0, len(merged)*2)
		for _, l := range merged {
			src := recs[l.Key()]
			src.Quantity = src.Quantity.Sub(l.Quantity)
			movements = append(movements, movementFor(*src, MovementTransferOut, l.Quantity.Neg(), decimal.Zero))
			dstKey := Key{WarehouseID: toWarehouseID, ItemID: l.ItemID}
			dst := recs[dstKey]
			if dst == nil {
				dst = &Record{WarehouseID: toWarehouseID, ItemID: l.ItemID}
				recs[dstKey] = dst
			}
			dst.Quantity = dst.Quantity.Add(l.Quantity)
			movements = append(movements, movementFor(*dst, MovementTransferIn, l.Quantity, decimal.Zero))
		}
		return movements, nil
	})
	if err != nil {
		return fmt.Errorf("inventory: transfer: %w", err)
	}
	return nil
}

// GetInventory lists records, optionally narrowed to a warehouse and/or item.
func (s *Service) GetInventory(ctx context.Context, filter RecordFilter) ([]Record, error) {
	return s.repo.ListRecords(ctx, filter)
}

// ListMovements returns the movement history.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// mutate locks the keys of lines, hands working copies to fn and persists the
// records and movements fn produced. Nothing is written when fn fails.
func (s *Service) mutate(ctx context.Context, lines []Line, ref Ref, fn func(map[Key]*Record) ([]Movement, error)) error {
	keys := make([]Key, 0, len(lines))
	for _, l := range lines {
		keys = append(keys, l.Key())
	}
	sortKeys(keys)
	now := s.clock()
	var committed []Movement
	err := s.repo.WithTx(ctx, keys, func(ctx context.Context, tx TxRepository) error {
		stored, err := tx.GetRecordsForUpdate(ctx, keys)
		if err != nil {
			return err
		}
		working := make(map[Key]*Record, len(stored))
		for k, rec := range stored {
			rec := rec
			working[k] = &rec
		}
		movements, err := fn(working)
		if err != nil {
			return err
		}
		touched := make(map[Key]struct{}, len(movements))
		for i := range movements {
			m := &movements[i]
			m.ReasonCode = ref.Reason
			m.RefKind = ref.Kind
			m.RefCode = ref.Code
			m.ActorID = ref.ActorID
			m.CreatedAt = now
			touched[Key{WarehouseID: m.WarehouseID, ItemID: m.ItemID}] = struct{}{}
			if err := tx.InsertMovement(ctx, *m); err != nil {
				return err
			}
		}
		for _, k := range keys {
			if _, ok := touched[k]; !ok {
				continue
			}
			rec := working[k]
			if rec.Quantity.IsNegative() || rec.OnDemandQuantity.IsNegative() {
				return shared.Invariant("record %s would go negative", k)
			}
			rec.UpdatedAt = now
			if err := tx.UpsertRecord(ctx, *rec); err != nil {
				return err
			}
		}
		committed = movements
		return nil
	})
	if err != nil {
		return err
	}
	if s.onChange != nil && len(committed) > 0 {
		s.onChange(ctx, committed)
	}
	return nil
}

func (s *Service) observeReservation(err error, lines int) {
	if s.metrics == nil {
		return
	}
	result := "reserved"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrInsufficientStock):
		result = "insufficient"
	default:
		result = "error"
	}
	s.metrics.ObserveReservation(result, lines)
}

func movementFor(rec Record, kind MovementKind, qtyDelta, onDemandDelta decimal.Decimal) Movement {
	return Movement{
		WarehouseID:   rec.WarehouseID,
		ItemID:        rec.ItemID,
		Kind:          kind,
		QuantityDelta: qtyDelta,
		OnDemandDelta: onDemandDelta,
		QuantityAfter: rec.Quantity,
		OnDemandAfter: rec.OnDemandQuantity,
	}
}

// mergeLines validates lines and sums duplicates per key in key order.
func mergeLines(lines []Line, signed bool) ([]Line, error) {
	if len(lines) == 0 {
		return nil, shared.Invalid("lines", "at least one line is required")
	}
	sums := make(map[Key]decimal.Decimal, len(lines))
	for _, l := range lines {
		if err := validateKey(l.WarehouseID, l.ItemID); err != nil {
			return nil, err
		}
		if signed {
			if l.Quantity.IsZero() {
				return nil, shared.Invalid("quantity", "item %d: delta must be non zero", l.ItemID)
			}
		} else if !l.Quantity.IsPositive() {
			return nil, shared.Invalid("quantity", "item %d: quantity must be greater than zero", l.ItemID)
		}
		sums[l.Key()] = sums[l.Key()].Add(l.Quantity)
	}
	keys := make([]Key, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sortKeys(keys)
	out := make([]Line, 0, len(keys))
	for _, k := range keys {
		if signed && sums[k].IsZero() {
			continue
		}
		out = append(out, Line{WarehouseID: k.WarehouseID, ItemID: k.ItemID, Quantity: sums[k]})
	}
	if len(out) == 0 {
		return nil, shared.Invalid("lines", "deltas cancel out")
	}
	return out, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

func validateKey(warehouseID, itemID int64) error {
	if warehouseID <= 0 || itemID <= 0 {
		return shared.Invalid("warehouse_id", "warehouse and item required")
	}
	return nil
}
