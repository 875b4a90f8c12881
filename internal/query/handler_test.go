package query

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

func newQueryRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t, newRedisCache(t))
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.service)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithCaller(req.Context(), caller)))
		})
	})
	r.Route("/documents/{kind}", handler.MountRoutes)
	handler.MountDashboard(r)
	return r, f
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandlerGetDocument(t *testing.T) {
	router, f := newQueryRouter(t)
	po := f.purchaseOrder(t, "2", "5")

	rec := get(t, router, "/documents/purchase-orders/"+strconv.FormatInt(po.ID, 10))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, `"1"`, rec.Header().Get("ETag"))
	var view DocumentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, po.Code, view.Code)
	require.NotEmpty(t, view.Actions)

	require.Equal(t, http.StatusNotFound, get(t, router, "/documents/purchase-orders/42").Code)
	require.Equal(t, http.StatusUnprocessableEntity, get(t, router, "/documents/invoices/1").Code)
}

func TestHandlerListValidatesQuery(t *testing.T) {
	router, f := newQueryRouter(t)
	f.purchaseOrder(t, "1", "5")
	f.purchaseOrder(t, "1", "5")

	rec := get(t, router, "/documents/purchase_order?status=pending_confirm&per_page=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list DocumentList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Documents, 1)
	require.Equal(t, 2, list.Pagination.Total)

	rec = get(t, router, "/documents/purchase_order?status=SHIPPED")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Detail, "unknown status SHIPPED for purchase_order")
	require.Equal(t, http.StatusUnprocessableEntity, get(t, router, "/documents/purchase_order?from=2026-05-02&to=2026-05-01").Code)
	require.Equal(t, http.StatusUnprocessableEntity, get(t, router, "/documents/purchase_order?page=x").Code)
}

func TestHandlerKanbanAndDashboard(t *testing.T) {
	router, f := newQueryRouter(t)
	f.purchaseOrder(t, "2", "5")

	rec := get(t, router, "/documents/purchase-orders/kanban")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var board Board
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board.Columns[0].Cards, 1)

	rec = get(t, router, "/dashboard")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var d Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, buyer, d.CompanyID)

	rec = get(t, router, "/dashboard?company_id="+strconv.FormatInt(supplier, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, 0, summaryOf(t, d, "purchase_order").Open)
}
