package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/movements", h.handleMovements)
	r.Get("/export.xlsx", h.handleExport)
	r.Post("/check", h.handleCheck)
	r.Post("/reserve", h.handleReserve)
	r.Post("/release", h.handleRelease)
	r.Post("/adjust", h.handleAdjust)
	r.Post("/transfer", h.handleTransfer)
}

type lineRequest struct {
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type linesRequest struct {
	Lines   []lineRequest `json:"lines" validate:"required,min=1,dive"`
	RefKind string        `json:"ref_kind"`
	RefCode string        `json:"ref_code"`
	Reason  string        `json:"reason" validate:"max=120"`
}

type transferRequest struct {
	FromWarehouseID int64         `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64         `json:"to_warehouse_id" validate:"required,gt=0,nefield=FromWarehouseID"`
	Lines           []transferRow `json:"lines" validate:"required,min=1,dive"`
	Reason          string        `json:"reason" validate:"max=120"`
}

type transferRow struct {
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (req linesRequest) lines() []Line {
	out := make([]Line, len(req.Lines))
	for i, l := range req.Lines {
		out[i] = Line{WarehouseID: l.WarehouseID, ItemID: l.ItemID, Quantity: l.Quantity}
	}
	return out
}

func (req linesRequest) ref(r *http.Request, fallback string) Ref {
	ref := Ref{Kind: req.RefKind, Code: req.RefCode, Reason: req.Reason}
	if ref.Reason == "" {
		ref.Reason = fallback
	}
	if caller, ok := shared.CallerFromContext(r.Context()); ok {
		ref.ActorID = caller.EmployeeID
	}
	return ref
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req linesRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	results, err := h.service.Check(r.Context(), req.lines())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req linesRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := h.service.ReserveAll(r.Context(), req.lines(), req.ref(r, "manual reserve")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req linesRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := h.service.ReleaseAll(r.Context(), req.lines(), req.ref(r, "manual release")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req linesRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	records, err := h.service.AdjustAll(r.Context(), req.lines(), req.ref(r, "manual adjustment"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("inventory adjusted", slog.Int("lines", len(records)), slog.String("reason", req.Reason))
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	lines := make([]Line, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = Line{ItemID: l.ItemID, Quantity: l.Quantity}
	}
	ref := linesRequest{Reason: req.Reason}.ref(r, "manual transfer")
	if err := h.service.Transfer(r.Context(), req.FromWarehouseID, req.ToWarehouseID, lines, ref); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.GetInventory(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{RefKind: q.Get("ref_kind"), RefCode: q.Get("ref_code")}
	var err error
	if filter.WarehouseID, err = parseID(q.Get("warehouse_id")); err != nil {
		httpx.RespondError(w, shared.Invalid("warehouse_id", "must be numeric"))
		return
	}
	if filter.ItemID, err = parseID(q.Get("item_id")); err != nil {
		httpx.RespondError(w, shared.Invalid("item_id", "must be numeric"))
		return
	}
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.RespondError(w, shared.Invalid("from", "use YYYY-MM-DD"))
			return
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			httpx.RespondError(w, shared.Invalid("to", "use YYYY-MM-DD"))
			return
		}
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	if limit := q.Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.GetInventory(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	f, err := WriteWorkbook(records)
	if err != nil {
		h.logger.Error("inventory export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=inventory-%s.xlsx", time.Now().UTC().Format("20060102")))
	if err := f.Write(w); err != nil {
		h.logger.Warn("inventory export write", slog.Any("error", err))
	}
}

// WriteWorkbook renders records into a single-sheet workbook.
func WriteWorkbook(records []Record) (*excelize.File, error) {
	const sheet = "Sheet1"
	f := excelize.NewFile()
	headers := []string{"Warehouse", "Item", "Quantity", "On Demand", "Available", "Updated At"}
	for i, title := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, err
		}
	}
	for row, rec := range records {
		values := []any{
			rec.WarehouseID,
			rec.ItemID,
			rec.Quantity.InexactFloat64(),
			rec.OnDemandQuantity.InexactFloat64(),
			rec.Available().InexactFloat64(),
			rec.UpdatedAt.Format(time.RFC3339),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func recordFilterFromQuery(r *http.Request) (RecordFilter, error) {
	q := r.URL.Query()
	var filter RecordFilter
	var err error
	if filter.WarehouseID, err = parseID(q.Get("warehouse_id")); err != nil {
		return filter, shared.Invalid("warehouse_id", "must be numeric")
	}
	if filter.ItemID, err = parseID(q.Get("item_id")); err != nil {
		return filter, shared.Invalid("item_id", "must be numeric")
	}
	if low := q.Get("low_stock_at"); low != "" {
		if filter.LowStockAt, err = decimal.NewFromString(low); err != nil {
			return filter, shared.Invalid("low_stock_at", "must be a decimal")
		}
	}
	return filter, nil
}

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
