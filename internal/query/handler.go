package query

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

// Handler exposes read projections over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the query handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers read routes below /documents/{kind}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/kanban", h.handleKanban)
	r.Get("/{id}", h.handleGet)
}

// MountDashboard registers the dashboard route.
func (h *Handler) MountDashboard(r chi.Router) {
	r.Get("/dashboard", h.handleDashboard)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	kind, err := document.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Invalid("id", "must be a positive number"))
		return
	}
	view, err := h.service.GetDocument(r.Context(), kind, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+strconv.FormatInt(view.Version, 10)+`"`)
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := document.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := listFilterFromQuery(r, kind)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListDocuments(r.Context(), kind, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleKanban(w http.ResponseWriter, r *http.Request) {
	kind, err := document.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	companyID, err := companyScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	board, err := h.service.Kanban(r.Context(), kind, companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, board)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dashboard, err := h.service.Dashboard(r.Context(), companyID)
	if err != nil {
		h.logger.Error("dashboard", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}

// companyScope prefers an explicit company_id and falls back to the caller.
func companyScope(r *http.Request) (int64, error) {
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return 0, shared.Invalid("company_id", "must be numeric")
		}
		return id, nil
	}
	if caller, ok := shared.CallerFromContext(r.Context()); ok {
		return caller.CompanyID, nil
	}
	return 0, nil
}

func listFilterFromQuery(r *http.Request, kind document.Kind) (ListFilter, error) {
	q := r.URL.Query()
	var f ListFilter
	var err error
	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			status := document.Status(strings.ToUpper(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !slices.Contains(workflow.Statuses(kind), status) {
				return f, shared.Invalid("status", "unknown status %s for %s", status, kind)
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if f.CompanyID, err = parseID(q.Get("company_id")); err != nil {
		return f, shared.Invalid("company_id", "must be numeric")
	}
	if f.CounterpartyID, err = parseID(q.Get("counterparty_id")); err != nil {
		return f, shared.Invalid("counterparty_id", "must be numeric")
	}
	if f.From, err = parseDate(q.Get("from")); err != nil {
		return f, shared.Invalid("from", "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
	}
	if f.To, err = parseDate(q.Get("to")); err != nil {
		return f, shared.Invalid("to", "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, shared.Invalid("to", "must not be before from")
	}
	if raw := q.Get("page"); raw != "" {
		if f.Page, err = strconv.Atoi(raw); err != nil {
			return f, shared.Invalid("page", "must be numeric")
		}
	}
	if raw := q.Get("per_page"); raw != "" {
		if f.PerPage, err = strconv.Atoi(raw); err != nil {
			return f, shared.Invalid("per_page", "must be numeric")
		}
	}
	return f, nil
}

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
