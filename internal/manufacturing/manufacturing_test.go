package manufacturing

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

func threeStageOrder() *document.Manufacturing {
	routing := Routing{LineID: 1, Stages: []Stage{{Name: "cut"}, {Name: "weld"}, {Name: "paint"}}}
	return &document.Manufacturing{ItemID: 900, PlannedQuantity: decimal.NewFromInt(5), Processes: routing.Processes()}
}

func TestProcessesRunInOrder(t *testing.T) {
	m := threeStageOrder()
	now := time.Now()

	require.ErrorIs(t, StartProcess(m, 2, now), shared.ErrIllegalTransition)
	require.NoError(t, StartProcess(m, 1, now))
	require.ErrorIs(t, StartProcess(m, 1, now), shared.ErrIllegalTransition)
	require.ErrorIs(t, CompleteProcess(m, 3, now), shared.ErrIllegalTransition)
	require.NoError(t, CompleteProcess(m, 1, now))

	require.ErrorIs(t, StartProcess(m, 3, now), shared.ErrIllegalTransition)
	require.NoError(t, StartProcess(m, 2, now))
	require.Equal(t, 2, InProgress(m).Order)
	require.NoError(t, CompleteProcess(m, 2, now))
	require.False(t, AllDone(m))

	require.NoError(t, StartProcess(m, 3, now))
	require.NoError(t, CompleteProcess(m, 3, now))
	require.True(t, AllDone(m))
	require.Nil(t, InProgress(m))

	require.ErrorIs(t, StartProcess(m, 4, now), shared.ErrValidation)
}

func TestRequirementsScaleByPlannedQuantity(t *testing.T) {
	reqs := Requirements([]document.BOMComponent{
		{ItemID: 1, QuantityPer: decimal.RequireFromString("2.5")},
		{ItemID: 2, QuantityPer: decimal.NewFromInt(1)},
	}, decimal.NewFromInt(4))
	require.Len(t, reqs, 2)
	require.True(t, decimal.NewFromInt(10).Equal(reqs[0].Quantity))
	require.True(t, decimal.NewFromInt(4).Equal(reqs[1].Quantity))
}

func TestMemoryCatalog(t *testing.T) {
	cat := NewMemoryCatalog()
	ctx := context.Background()

	_, err := cat.GetBOM(ctx, 900)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = cat.PutBOM(ctx, BOM{ItemID: 900, Components: []document.BOMComponent{{ItemID: 900, QuantityPer: decimal.NewFromInt(1)}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = cat.PutBOM(ctx, BOM{ItemID: 900, Components: []document.BOMComponent{{ItemID: 1, QuantityPer: decimal.NewFromInt(2)}}})
	require.NoError(t, err)
	bom, err := cat.GetBOM(ctx, 900)
	require.NoError(t, err)
	require.Len(t, bom.Components, 1)

	_, err = cat.PutRouting(ctx, Routing{LineID: 3, Stages: []Stage{{Name: ""}}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHandlerPutAndGetRouting(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewMemoryCatalog())
	r := chi.NewRouter()
	r.Route("/catalog", h.MountRoutes)

	body := bytes.NewBufferString(`{"stages":[{"stage_id":1,"name":"cut"},{"stage_id":2,"name":"weld"}]}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/catalog/routings/7", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/routings/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"weld"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/boms/abc", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
