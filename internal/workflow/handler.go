package workflow

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Handler exposes document commands over HTTP.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs the command handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers command routes below /documents/{kind}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Post("/{id}/actions/{action}", h.handleAction)
}

type lineRequest struct {
	ItemID    int64           `json:"item_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Note      string          `json:"note" validate:"max=200"`
}

type manufacturingRequest struct {
	LineID          int64           `json:"line_id" validate:"gte=0"`
	ItemID          int64           `json:"item_id" validate:"required,gt=0"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	StartDate       *time.Time      `json:"start_date"`
	DueDate         *time.Time      `json:"due_date"`
}

type createRequest struct {
	CounterpartyCompanyID int64                 `json:"counterparty_company_id" validate:"gte=0"`
	WarehouseID           int64                 `json:"warehouse_id" validate:"gte=0"`
	DestWarehouseID       int64                 `json:"dest_warehouse_id" validate:"gte=0"`
	SourceKind            string                `json:"source_kind"`
	SourceCode            string                `json:"source_code" validate:"max=40"`
	NeedByDate            *time.Time            `json:"need_by_date"`
	Note                  string                `json:"note" validate:"max=500"`
	Lines                 []lineRequest         `json:"lines" validate:"dive"`
	Manufacturing         *manufacturingRequest `json:"manufacturing"`
}

type actionRequest struct {
	ExpectedVersion int64            `json:"expected_version" validate:"gte=0"`
	WarehouseID     int64            `json:"warehouse_id" validate:"gte=0"`
	DestWarehouseID int64            `json:"dest_warehouse_id" validate:"gte=0"`
	Location        string           `json:"location" validate:"max=200"`
	Note            string           `json:"note" validate:"max=500"`
	Quantity        *decimal.Decimal `json:"quantity"`
	ProcessOrder    int              `json:"process_order" validate:"gte=0"`
	Lines           []lineRequest    `json:"lines" validate:"dive"`
	Patch           *patchRequest    `json:"patch"`
}

type patchRequest struct {
	Lines           []lineRequest    `json:"lines" validate:"omitempty,min=1,dive"`
	Note            *string          `json:"note" validate:"omitempty,max=500"`
	NeedByDate      *time.Time       `json:"need_by_date"`
	PlannedQuantity *decimal.Decimal `json:"planned_quantity"`
	StartDate       *time.Time       `json:"start_date"`
	DueDate         *time.Time       `json:"due_date"`
	LineID          *int64           `json:"line_id" validate:"omitempty,gt=0"`
}

func linesFromRequest(req []lineRequest) []document.LineItem {
	if len(req) == 0 {
		return nil
	}
	out := make([]document.LineItem, len(req))
	for i, l := range req {
		out[i] = document.LineItem{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice, Discount: l.Discount, Note: l.Note}
	}
	return out
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	caller, err := shared.RequireCaller(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	draft := document.Document{
		CompanyID:             caller.CompanyID,
		CounterpartyCompanyID: req.CounterpartyCompanyID,
		WarehouseID:           req.WarehouseID,
		DestWarehouseID:       req.DestWarehouseID,
		SourceKind:            document.Kind(req.SourceKind),
		SourceCode:            req.SourceCode,
		NeedByDate:            req.NeedByDate,
		Note:                  req.Note,
		Lines:                 linesFromRequest(req.Lines),
	}
	if m := req.Manufacturing; m != nil {
		draft.Manufacturing = &document.Manufacturing{
			LineID:          m.LineID,
			ItemID:          m.ItemID,
			PlannedQuantity: m.PlannedQuantity,
			StartDate:       m.StartDate,
			DueDate:         m.DueDate,
		}
	}
	created, err := h.engine.Create(r.Context(), kind, draft, caller)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("ETag", etag(created.Version))
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Invalid("id", "must be a positive number"))
		return
	}
	action, ok := ParseAction(kind, chi.URLParam(r, "action"))
	if !ok {
		httpx.RespondError(w, shared.Invalid("action", "unknown action %q for %s", chi.URLParam(r, "action"), kind))
		return
	}
	caller, err := shared.RequireCaller(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req actionRequest
	if r.ContentLength != 0 {
		if !httpx.Bind(w, r, h.validator, &req) {
			return
		}
	}
	in := Input{
		Caller:          caller,
		ExpectedVersion: req.ExpectedVersion,
		WarehouseID:     req.WarehouseID,
		DestWarehouseID: req.DestWarehouseID,
		Location:        req.Location,
		Note:            req.Note,
		Quantity:        req.Quantity,
		ProcessOrder:    req.ProcessOrder,
		Lines:           linesFromRequest(req.Lines),
	}
	if v, ok := ifMatch(r); ok {
		in.ExpectedVersion = v
	}
	if p := req.Patch; p != nil {
		in.Patch = &Patch{
			Lines:           linesFromRequest(p.Lines),
			Note:            p.Note,
			NeedByDate:      p.NeedByDate,
			PlannedQuantity: p.PlannedQuantity,
			StartDate:       p.StartDate,
			DueDate:         p.DueDate,
			LineID:          p.LineID,
		}
	}
	updated, err := h.engine.Apply(r.Context(), kind, id, action, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("ETag", etag(updated.Version))
	httpx.JSON(w, http.StatusOK, updated)
}

func pathKind(w http.ResponseWriter, r *http.Request) (document.Kind, bool) {
	kind, err := document.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return "", false
	}
	return kind, true
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ifMatch reads the expected version from an If-Match header such as "3" or W/"3".
func ifMatch(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return 0, false
	}
	raw = strings.TrimPrefix(raw, "W/")
	v, err := strconv.ParseInt(strings.Trim(raw, `"`), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
