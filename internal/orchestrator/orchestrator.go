// Package orchestrator sequences multi-document operations as named steps.
// Every step checks whether its effect is already present and skips itself,
// so a flow that failed half way can simply be run again.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

// Flow names.
const (
	FlowConfirmPurchaseOrder       = "confirm_purchase_order"
	FlowCreateSalesOrder           = "create_sales_order"
	FlowAcceptQuotation            = "accept_quotation"
	FlowCreateDeliveryOrder        = "create_delivery_order"
	FlowPickupDelivery             = "pickup_delivery"
	FlowCompleteDelivery           = "complete_delivery"
	FlowConfirmReceipt             = "confirm_receipt"
	FlowStartProcess               = "start_process"
	FlowCompleteProcess            = "complete_process"
	FlowCompleteManufacturingOrder = "complete_manufacturing_order"
	FlowExpireOverdueRFQs          = "expire_overdue_rfqs"
)

// Outcome reports what a step did.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
)

// StepResult describes one executed step.
type StepResult struct {
	Name         string  `json:"name"`
	Outcome      Outcome `json:"outcome"`
	DocumentCode string  `json:"document_code,omitempty"`
}

// FlowResult is the outcome of a complete flow.
type FlowResult struct {
	Flow  string       `json:"flow"`
	Steps []StepResult `json:"steps"`
}

// Step returns the named step result.
func (r FlowResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// StepError reports the step a flow stopped at. It unwraps to the cause.
type StepError struct {
	Flow      string
	Step      string
	Completed []string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("orchestrator: %s: step %s: %v", e.Flow, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FlowName implements httpx.StepFailure.
func (e *StepError) FlowName() string { return e.Flow }

// StepName implements httpx.StepFailure.
func (e *StepError) StepName() string { return e.Step }

// CompletedSteps implements httpx.StepFailure.
func (e *StepError) CompletedSteps() []string { return e.Completed }

// StockChecker answers availability questions without mutating the ledger.
type StockChecker interface {
	Check(ctx context.Context, lines []inventory.Line) ([]inventory.CheckResult, error)
}

// FlowMetrics observes finished flows.
type FlowMetrics interface {
	ObserveFlow(flow, result string, took time.Duration)
}

// Config groups orchestrator dependencies.
type Config struct {
	Engine  *workflow.Engine
	Stock   StockChecker
	Locker  shared.Locker
	Metrics FlowMetrics
	Logger  *slog.Logger
}

// Orchestrator runs the cross-document flows.
type Orchestrator struct {
	engine  *workflow.Engine
	store   document.Store
	stock   StockChecker
	locker  shared.Locker
	metrics FlowMetrics
	logger  *slog.Logger
}

// New constructs an Orchestrator. Without a Locker flows are serialized in process only.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		engine:  cfg.Engine,
		store:   cfg.Engine.Store(),
		stock:   cfg.Stock,
		locker:  cfg.Locker,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if o.locker == nil {
		o.locker = &shared.LocalLocker{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

type stepFunc func(ctx context.Context) (Outcome, string, error)

type flowRun struct {
	o      *Orchestrator
	ctx    context.Context
	result FlowResult
}

// run holds the flow lock of the root document while body executes.
func (o *Orchestrator) run(ctx context.Context, flow string, kind document.Kind, id int64, body func(r *flowRun) error) (FlowResult, error) {
	start := time.Now()
	r := &flowRun{o: o, ctx: ctx, result: FlowResult{Flow: flow, Steps: []StepResult{}}}
	release, err := o.locker.Acquire(ctx, shared.FlowLockKey(flow, string(kind), id))
	if err != nil {
		err = &StepError{Flow: flow, Step: "lock", Err: err}
	} else {
		err = body(r)
		release()
	}
	if o.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		o.metrics.ObserveFlow(flow, result, time.Since(start))
	}
	return r.result, err
}

// step runs fn, retrying once after a concurrency conflict. fn must reload
// whatever it reads so the retry sees fresh state.
func (r *flowRun) step(name string, fn stepFunc) error {
	outcome, code, err := fn(r.ctx)
	if errors.Is(err, shared.ErrConcurrentModification) {
		r.o.logger.Debug("flow step conflict, retrying",
			slog.String("flow", r.result.Flow),
			slog.String("step", name))
		outcome, code, err = fn(r.ctx)
	}
	if err != nil {
		completed := make([]string, 0, len(r.result.Steps))
		for _, s := range r.result.Steps {
			completed = append(completed, s.Name)
		}
		r.o.logger.Warn("flow step failed",
			slog.String("flow", r.result.Flow),
			slog.String("step", name),
			slog.Any("completed", completed),
			slog.Any("error", err))
		return &StepError{Flow: r.result.Flow, Step: name, Completed: completed, Err: err}
	}
	r.result.Steps = append(r.result.Steps, StepResult{Name: name, Outcome: outcome, DocumentCode: code})
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, doc document.Document, action workflow.Action, in workflow.Input) (document.Document, error) {
	in.ExpectedVersion = doc.Version
	return o.engine.Apply(ctx, doc.Kind, doc.ID, action, in)
}

// child returns the live document of kind created from src, if any.
func (o *Orchestrator) child(ctx context.Context, kind document.Kind, src document.Document) (document.Document, bool, error) {
	docs, err := o.store.FindBySource(ctx, kind, src.Kind, src.Code)
	if err != nil {
		return document.Document{}, false, err
	}
	for _, d := range docs {
		if d.Status != document.StatusCancelled {
			return d, true, nil
		}
	}
	return document.Document{}, false, nil
}

// source loads the document doc was created from.
func (o *Orchestrator) source(ctx context.Context, doc document.Document, kind document.Kind) (document.Document, bool, error) {
	if doc.SourceKind != kind || doc.SourceCode == "" {
		return document.Document{}, false, nil
	}
	src, err := o.store.GetByCode(ctx, kind, doc.SourceCode)
	if err != nil {
		return document.Document{}, false, err
	}
	return src, true, nil
}

func stale(doc document.Document, expected ...document.Status) error {
	names := make([]string, len(expected))
	for i, s := range expected {
		names[i] = string(s)
	}
	return &shared.StaleDocumentError{
		Kind:     string(doc.Kind),
		Code:     doc.Code,
		Expected: strings.Join(names, " or "),
		Actual:   string(doc.Status),
	}
}

func oneOf(status document.Status, set ...document.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
