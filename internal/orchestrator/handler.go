package orchestrator

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Handler exposes the flows over HTTP.
type Handler struct {
	logger    *slog.Logger
	flows     *Orchestrator
	validator *validator.Validate
}

// NewHandler constructs the flow handler.
func NewHandler(logger *slog.Logger, flows *Orchestrator) *Handler {
	return &Handler{logger: logger, flows: flows, validator: validator.New()}
}

// MountRoutes registers flow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchase-orders/{id}/confirm", h.handleConfirmPurchaseOrder)
	r.Post("/purchase-orders/{id}/sales-order", h.handleCreateSalesOrder)
	r.Post("/quotations/{id}/accept", h.handleAcceptQuotation)
	r.Post("/sales-orders/{id}/delivery", h.handleCreateDelivery)
	r.Post("/delivery-orders/{id}/pickup", h.handlePickup)
	r.Post("/delivery-orders/{id}/complete", h.handleCompleteDelivery)
	r.Post("/receive-tickets/{id}/confirm", h.handleConfirmReceipt)
	r.Post("/manufacturing-orders/{id}/processes/{order}/start", h.handleStartProcess)
	r.Post("/manufacturing-orders/{id}/processes/{order}/complete", h.handleCompleteProcess)
	r.Post("/manufacturing-orders/{id}/complete", h.handleCompleteManufacturingOrder)
	r.Post("/rfqs/expire", h.handleExpire)
}

type warehouseRequest struct {
	WarehouseID     int64 `json:"warehouse_id" validate:"gte=0"`
	DestWarehouseID int64 `json:"dest_warehouse_id" validate:"gte=0"`
}

type locationRequest struct {
	Location string `json:"location" validate:"required,max=200"`
}

type receiptRequest struct {
	Lines []struct {
		ItemID   int64           `json:"item_id" validate:"required,gt=0"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"lines" validate:"dive"`
}

type completeRequest struct {
	CompletedQuantity *decimal.Decimal `json:"completed_quantity"`
}

type expireRequest struct {
	Now *time.Time `json:"now"`
}

// flowHandler resolves the caller and the document id, then runs fn.
func (h *Handler) flowHandler(w http.ResponseWriter, r *http.Request, fn func(caller shared.Caller, id int64) (FlowResult, error)) {
	caller, err := shared.RequireCaller(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Invalid("id", "must be a positive number"))
		return
	}
	result, err := fn(caller, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) bindOptional(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return httpx.Bind(w, r, h.validator, target)
}

func (h *Handler) handleConfirmPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req warehouseRequest
	if !h.bindOptional(w, r, &req) {
		return
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.ConfirmPurchaseOrder(r.Context(), caller, id, req.WarehouseID)
	})
}

func (h *Handler) handleCreateSalesOrder(w http.ResponseWriter, r *http.Request) {
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.CreateSalesOrder(r.Context(), caller, id)
	})
}

func (h *Handler) handleAcceptQuotation(w http.ResponseWriter, r *http.Request) {
	var req warehouseRequest
	if !h.bindOptional(w, r, &req) {
		return
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.AcceptQuotation(r.Context(), caller, id, req.DestWarehouseID)
	})
}

func (h *Handler) handleCreateDelivery(w http.ResponseWriter, r *http.Request) {
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.CreateDeliveryOrder(r.Context(), caller, id)
	})
}

func (h *Handler) handlePickup(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.PickupDelivery(r.Context(), caller, id, req.Location)
	})
}

func (h *Handler) handleCompleteDelivery(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.CompleteDelivery(r.Context(), caller, id, req.Location)
	})
}

func (h *Handler) handleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !h.bindOptional(w, r, &req) {
		return
	}
	var lines []document.LineItem
	for _, l := range req.Lines {
		lines = append(lines, document.LineItem{ItemID: l.ItemID, Quantity: l.Quantity})
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.ConfirmReceipt(r.Context(), caller, id, lines)
	})
}

func (h *Handler) handleStartProcess(w http.ResponseWriter, r *http.Request) {
	order, ok := processOrder(w, r)
	if !ok {
		return
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.StartProcess(r.Context(), caller, id, order)
	})
}

func (h *Handler) handleCompleteProcess(w http.ResponseWriter, r *http.Request) {
	order, ok := processOrder(w, r)
	if !ok {
		return
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.CompleteProcess(r.Context(), caller, id, order)
	})
}

func (h *Handler) handleCompleteManufacturingOrder(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !h.bindOptional(w, r, &req) {
		return
	}
	h.flowHandler(w, r, func(caller shared.Caller, id int64) (FlowResult, error) {
		return h.flows.CompleteManufacturingOrder(r.Context(), caller, id, req.CompletedQuantity)
	})
}

func (h *Handler) handleExpire(w http.ResponseWriter, r *http.Request) {
	var req expireRequest
	if !h.bindOptional(w, r, &req) {
		return
	}
	now := time.Now().UTC()
	if req.Now != nil {
		now = req.Now.UTC()
	}
	expired, err := h.flows.ExpireOverdueRFQs(r.Context(), now)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("rfq sweep requested", slog.Int("expired", expired))
	httpx.JSON(w, http.StatusOK, map[string]any{"expired": expired})
}

func processOrder(w http.ResponseWriter, r *http.Request) (int, bool) {
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil || order <= 0 {
		httpx.RespondError(w, shared.Invalid("order", "must be a positive number"))
		return 0, false
	}
	return order, true
}
