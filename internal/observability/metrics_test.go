package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `orderflow_http_requests_total{code="418",route="/test"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `orderflow_http_request_duration_seconds_bucket{route="/test"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestMetricsObserveTransitions(t *testing.T) {
	metrics := NewMetrics()
	doc := document.Document{Kind: document.KindPurchaseOrder}

	metrics.Observe(context.Background(), workflow.Event{Document: doc, Action: workflow.ActionConfirm, Duration: time.Millisecond})
	metrics.Observe(context.Background(), workflow.Event{Document: doc, Action: workflow.ActionShip, Err: &shared.IllegalTransitionError{}})
	metrics.Observe(context.Background(), workflow.Event{Document: doc, Action: workflow.ActionConfirm, Err: shared.ErrConcurrentModification})

	body := scrape(t, metrics)
	for _, want := range []string{
		`orderflow_transitions_total{action="Confirm",kind="purchase_order",result="ok"} 1`,
		`orderflow_transitions_total{action="Ship",kind="purchase_order",result="illegal"} 1`,
		`orderflow_transitions_total{action="Confirm",kind="purchase_order",result="conflict"} 1`,
		`orderflow_transition_duration_seconds_count{kind="purchase_order"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s, got: %s", want, body)
		}
	}
}

func TestMetricsReservationsAndFlows(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveReservation("reserved", 2)
	metrics.ObserveReservation("insufficient", 1)
	metrics.ObserveReservation("reserved", 0)
	metrics.ObserveFlow("confirm_purchase_order", "ok", 20*time.Millisecond)

	body := scrape(t, metrics)
	for _, want := range []string{
		`orderflow_reservations_total{result="reserved"} 2`,
		`orderflow_reservations_total{result="insufficient"} 1`,
		`orderflow_flows_total{flow="confirm_purchase_order",result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.Observe(context.Background(), workflow.Event{})
	metrics.ObserveReservation("reserved", 1)
	metrics.ObserveFlow("x", "ok", time.Second)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
