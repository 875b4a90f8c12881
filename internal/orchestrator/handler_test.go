package orchestrator

import (
	"bytes"
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

func newFlowRouter(t *testing.T) (http.Handler, *harness) {
	t.Helper()
	h := newHarness(t, nil)
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), h.flows)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithCaller(req.Context(), supplierCaller)))
		})
	})
	r.Route("/flows", handler.MountRoutes)
	return r, h
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerConfirmPurchaseOrder(t *testing.T) {
	router, h := newFlowRouter(t)
	h.stock(t, whSupply, widget, "3")
	po := h.purchaseOrder(t, "5")
	path := "/flows/purchase-orders/" + strconv.FormatInt(po.ID, 10) + "/confirm"

	rec := post(t, router, path, map[string]any{"warehouse_id": whSupply})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, FlowConfirmPurchaseOrder, problem.Flow)
	require.Equal(t, "check_inventory", problem.Step)
	require.Len(t, problem.Items, 1)
	require.Equal(t, widget, problem.Items[0].ItemID)

	h.stock(t, whSupply, widget, "2")
	rec = post(t, router, path, map[string]any{"warehouse_id": whSupply})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result FlowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, FlowConfirmPurchaseOrder, result.Flow)
	require.Len(t, result.Steps, 3)
}

func TestHandlerRejectsBadProcessOrder(t *testing.T) {
	router, _ := newFlowRouter(t)
	rec := post(t, router, "/flows/manufacturing-orders/1/processes/zero/start", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = post(t, router, "/flows/delivery-orders/1/pickup", map[string]any{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = post(t, router, "/flows/sales-orders/99/delivery", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
