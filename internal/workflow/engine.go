// Package workflow is the state machine engine that moves documents through
// their transition tables and runs the side effects of each transition.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/manufacturing"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Ledger is the part of the inventory ledger the engine drives.
type Ledger interface {
	ReserveAll(ctx context.Context, lines []inventory.Line, ref inventory.Ref) error
	ReleaseAll(ctx context.Context, lines []inventory.Line, ref inventory.Ref) error
	ConsumeAll(ctx context.Context, lines []inventory.Line, ref inventory.Ref) error
	AdjustAll(ctx context.Context, lines []inventory.Line, ref inventory.Ref) ([]inventory.Record, error)
	Transfer(ctx context.Context, fromWarehouseID, toWarehouseID int64, lines []inventory.Line, ref inventory.Ref) error
}

// Transactor runs fn as one unit of work.
type Transactor interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
}

// NopTransactor runs fn directly. With it the engine undoes already applied
// side effects itself when a later step fails.
type NopTransactor struct{}

// InTx calls fn.
func (NopTransactor) InTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

// Undo reverts one side effect.
type Undo func(ctx context.Context) error

// Event describes one attempted transition.
type Event struct {
	Document document.Document
	Action   Action
	From     document.Status
	Caller   shared.Caller
	Err      error
	Duration time.Duration
}

// Observer is notified after every Apply and Create, successful or not.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Input carries the caller supplied arguments of a transition.
type Input struct {
	Caller shared.Caller
	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion int64
	WarehouseID     int64
	DestWarehouseID int64
	Location        string
	Note            string
	// Quantity is the completed output of an MO. Nil means the planned quantity.
	Quantity     *decimal.Decimal
	Lines        []document.LineItem
	ProcessOrder int
	Patch        *Patch
	// Now overrides the engine clock, e.g. for deadline sweeps.
	Now time.Time
}

// Patch carries the fields Edit may change.
type Patch struct {
	Lines           []document.LineItem
	Note            *string
	NeedByDate      *time.Time
	PlannedQuantity *decimal.Decimal
	StartDate       *time.Time
	DueDate         *time.Time
	LineID          *int64
}

// Config groups engine dependencies.
type Config struct {
	Store     document.Store
	Ledger    Ledger
	Catalog   manufacturing.Catalog
	Tx        Transactor
	Observers []Observer
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Engine applies transitions.
type Engine struct {
	store      document.Store
	ledger     Ledger
	catalog    manufacturing.Catalog
	tx         Transactor
	compensate bool
	observers  []Observer
	logger     *slog.Logger
	clock      func() time.Time
	locks      shared.KeyedMutex
}

// NewEngine builds Engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		catalog:   cfg.Catalog,
		tx:        cfg.Tx,
		observers: cfg.Observers,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}
	if e.tx == nil {
		e.tx = NopTransactor{}
	}
	_, e.compensate = e.tx.(NopTransactor)
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// AddObserver registers o. It must be called before the engine serves requests.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Store exposes the document store the engine writes to.
func (e *Engine) Store() document.Store {
	return e.store
}

// Get loads a document.
func (e *Engine) Get(ctx context.Context, kind document.Kind, id int64) (document.Document, error) {
	return e.store.Get(ctx, kind, id)
}

// Create stores draft in the initial status of its kind.
func (e *Engine) Create(ctx context.Context, kind document.Kind, draft document.Document, caller shared.Caller) (document.Document, error) {
	start := time.Now()
	var created document.Document
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = e.create(ctx, kind, draft, caller)
		return err
	})
	ev := Event{Document: created, Action: ActionCreate, Caller: caller, Err: err, Duration: time.Since(start)}
	if err != nil {
		ev.Document = document.Document{Kind: kind}
	}
	e.notify(ctx, ev)
	return created, err
}

func (e *Engine) create(ctx context.Context, kind document.Kind, draft document.Document, caller shared.Caller) (document.Document, error) {
	initial := InitialStatus(kind)
	if initial == "" {
		return document.Document{}, shared.Invalid("kind", "unknown document kind %q", kind)
	}
	doc := draft.Clone()
	doc.ID, doc.Code, doc.Version = 0, "", 0
	doc.Kind = kind
	doc.Status = initial
	doc.ExpiredAt = nil
	if doc.CompanyID == 0 {
		doc.CompanyID = caller.CompanyID
	}
	if doc.CreatedBy == 0 {
		doc.CreatedBy = caller.EmployeeID
	}
	if kind == document.KindManufacturingOrder {
		if err := e.prepareManufacturing(ctx, &doc); err != nil {
			return document.Document{}, err
		}
	}
	doc.TotalAmount = document.ComputeTotal(doc.Lines)
	created, err := e.store.Create(ctx, doc)
	if err != nil {
		return document.Document{}, fmt.Errorf("workflow: create %s: %w", kind, err)
	}
	e.logger.Info("document created",
		slog.String("kind", string(kind)),
		slog.String("code", created.Code),
		slog.Int64("document_id", created.ID))
	return created, nil
}

// prepareManufacturing derives the line and the stage processes of a new MO.
func (e *Engine) prepareManufacturing(ctx context.Context, doc *document.Document) error {
	m := doc.Manufacturing
	if m == nil {
		return shared.Invalid("manufacturing", "manufacturing details are required")
	}
	if len(doc.Lines) == 0 {
		doc.Lines = []document.LineItem{{ItemID: m.ItemID, Quantity: m.PlannedQuantity}}
	}
	if len(m.Processes) == 0 && m.LineID > 0 && e.catalog != nil {
		routing, err := e.catalog.GetRouting(ctx, m.LineID)
		if err != nil {
			return err
		}
		m.Processes = routing.Processes()
	}
	for i := range m.Processes {
		m.Processes[i].Status = document.ProcessNotStarted
		m.Processes[i].StartedOn = nil
		m.Processes[i].FinishedOn = nil
	}
	m.BOMSnapshot = nil
	m.CompletedQuantity = decimal.Zero
	return nil
}

// Apply executes action on the document. Unknown (status, action) pairs fail
// with IllegalTransitionError. Side effects and the status write succeed or
// fail together.
func (e *Engine) Apply(ctx context.Context, kind document.Kind, id int64, action Action, in Input) (document.Document, error) {
	start := time.Now()
	expected := in.ExpectedVersion
	if expected == document.AnyVersion {
		observed, err := e.store.Get(ctx, kind, id)
		if err != nil {
			return document.Document{}, err
		}
		expected = observed.Version
	}

	unlock := e.locks.Lock(fmt.Sprintf("%s:%d", kind, id))
	defer unlock()

	var (
		loaded   document.Document
		applied  document.Document
		children []document.Document
	)
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		loaded, err = e.store.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		if loaded.Version != expected {
			return fmt.Errorf("workflow: %s version %d, expected %d: %w", loaded.Ref(), loaded.Version, expected, shared.ErrConcurrentModification)
		}
		applied, children, err = e.apply(ctx, loaded, action, in)
		return err
	})

	ev := Event{Document: applied, Action: action, From: loaded.Status, Caller: in.Caller, Err: err, Duration: time.Since(start)}
	if err != nil {
		ev.Document = loaded
		if ev.Document.Kind == "" {
			ev.Document = document.Document{ID: id, Kind: kind}
		}
		e.logFailure(loaded, action, err)
		e.notify(ctx, ev)
		return document.Document{}, err
	}
	e.logger.Info("transition applied",
		slog.String("kind", string(kind)),
		slog.String("code", applied.Code),
		slog.String("action", string(action)),
		slog.String("from", string(loaded.Status)),
		slog.String("to", string(applied.Status)),
		slog.Int64("version", applied.Version))
	e.notify(ctx, ev)
	for _, child := range children {
		e.notify(ctx, Event{Document: child, Action: ActionCreate, Caller: in.Caller})
	}
	return applied, nil
}

func (e *Engine) apply(ctx context.Context, doc document.Document, action Action, in Input) (document.Document, []document.Document, error) {
	t, ok := lookup(doc.Kind, doc.Status, action)
	if !ok {
		return document.Document{}, nil, &shared.IllegalTransitionError{Kind: string(doc.Kind), Status: string(doc.Status), Action: string(action)}
	}
	now := in.Now
	if now.IsZero() {
		now = e.clock()
	}
	tc := &transitionContext{ctx: ctx, engine: e, input: in, now: now, doc: doc.Clone()}
	if t.guard != nil {
		if err := t.guard(tc); err != nil {
			return document.Document{}, nil, err
		}
	}

	var undos []Undo
	for _, effect := range t.effects {
		undo, err := effect(tc)
		if err != nil {
			e.rollback(ctx, tc.doc, undos)
			return document.Document{}, nil, err
		}
		if undo != nil {
			undos = append(undos, undo)
		}
	}

	next := tc.doc
	next.Status = t.to
	updated, err := e.store.Update(ctx, doc.Kind, doc.ID, doc.Version, func(document.Document) (document.Document, error) {
		return next, nil
	})
	if err != nil {
		e.rollback(ctx, tc.doc, undos)
		return document.Document{}, nil, err
	}
	return updated, tc.children, nil
}

// rollback runs undos in reverse order. It only acts when no transaction
// discards the side effects for us.
func (e *Engine) rollback(ctx context.Context, doc document.Document, undos []Undo) {
	if !e.compensate {
		return
	}
	for i := len(undos) - 1; i >= 0; i-- {
		if err := undos[i](context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("undo side effect",
				slog.String("kind", string(doc.Kind)),
				slog.String("code", doc.Code),
				slog.Any("error", err))
		}
	}
}

func (e *Engine) logFailure(doc document.Document, action Action, err error) {
	attrs := []any{
		slog.String("kind", string(doc.Kind)),
		slog.String("code", doc.Code),
		slog.String("action", string(action)),
		slog.Any("error", err),
	}
	switch {
	case errors.Is(err, shared.ErrInvariantViolation):
		e.logger.Error("transition failed", attrs...)
	case errors.Is(err, shared.ErrConcurrentModification):
		e.logger.Warn("transition conflict", attrs...)
	default:
		e.logger.Debug("transition rejected", attrs...)
	}
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	for _, o := range e.observers {
		o.Observe(ctx, ev)
	}
}

// transitionContext is the working state handed to guards and effects. Effects
// mutate doc; the engine persists it once every effect succeeded.
type transitionContext struct {
	ctx    context.Context
	engine *Engine
	input  Input
	now    time.Time
	doc    document.Document
	// children are documents created by effects of this transition.
	children []document.Document
}

func (tc *transitionContext) ref(reason string) inventory.Ref {
	return inventory.Ref{Kind: string(tc.doc.Kind), Code: tc.doc.Code, Reason: reason, ActorID: tc.input.Caller.EmployeeID}
}
