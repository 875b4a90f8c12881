package manufacturing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Handler exposes the catalog over HTTP.
type Handler struct {
	logger    *slog.Logger
	catalog   Catalog
	validator *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, catalog Catalog) *Handler {
	return &Handler{logger: logger, catalog: catalog, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/boms/{itemID}", h.handleGetBOM)
	r.Put("/boms/{itemID}", h.handlePutBOM)
	r.Get("/routings/{lineID}", h.handleGetRouting)
	r.Put("/routings/{lineID}", h.handlePutRouting)
}

type bomRequest struct {
	Components []struct {
		ItemID      int64           `json:"item_id" validate:"required,gt=0"`
		QuantityPer decimal.Decimal `json:"quantity_per"`
	} `json:"components" validate:"required,min=1,dive"`
}

type routingRequest struct {
	Stages []struct {
		StageID int64  `json:"stage_id"`
		Name    string `json:"name" validate:"required,max=80"`
	} `json:"stages" validate:"required,min=1,dive"`
}

func (h *Handler) handleGetBOM(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	bom, err := h.catalog.GetBOM(r.Context(), itemID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bom)
}

func (h *Handler) handlePutBOM(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req bomRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	bom := BOM{ItemID: itemID}
	for _, c := range req.Components {
		bom.Components = append(bom.Components, document.BOMComponent{ItemID: c.ItemID, QuantityPer: c.QuantityPer})
	}
	saved, err := h.catalog.PutBOM(r.Context(), bom)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("bom saved", slog.Int64("item_id", itemID), slog.Int("components", len(saved.Components)))
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) handleGetRouting(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	routing, err := h.catalog.GetRouting(r.Context(), lineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, routing)
}

func (h *Handler) handlePutRouting(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req routingRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	routing := Routing{LineID: lineID}
	for _, s := range req.Stages {
		routing.Stages = append(routing.Stages, Stage{StageID: s.StageID, Name: s.Name})
	}
	saved, err := h.catalog.PutRouting(r.Context(), routing)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Invalid(param, "must be a positive number"))
		return 0, false
	}
	return id, true
}
