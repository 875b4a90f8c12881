package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	reservationsTotal  *prometheus.CounterVec
	flowsTotal         *prometheus.CounterVec
	flowDuration       *prometheus.HistogramVec
}

// NewMetrics initialises the registry and the service metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_transitions_total",
		Help: "Document transitions by kind, action and result.",
	}, []string{"kind", "action", "result"})
	transitionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_transition_duration_seconds",
		Help:    "Duration of document transitions including side effects.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_reservations_total",
		Help: "Inventory reservation attempts by result.",
	}, []string{"result"})
	flows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_flows_total",
		Help: "Orchestrated flows by name and result.",
	}, []string{"flow", "result"})
	flowDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_flow_duration_seconds",
		Help:    "Duration of orchestrated flows.",
		Buckets: prometheus.DefBuckets,
	}, []string{"flow"})
	registry.MustRegister(requests, duration, transitions, transitionDuration, reservations, flows, flowDuration)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		transitionsTotal:   transitions,
		transitionDuration: transitionDuration,
		reservationsTotal:  reservations,
		flowsTotal:         flows,
		flowDuration:       flowDuration,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Observe implements workflow.Observer.
func (m *Metrics) Observe(_ context.Context, ev workflow.Event) {
	if m == nil {
		return
	}
	kind := string(ev.Document.Kind)
	m.transitionsTotal.WithLabelValues(kind, string(ev.Action), resultLabel(ev.Err)).Inc()
	if ev.Duration > 0 {
		m.transitionDuration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
	}
}

// ObserveReservation implements inventory.ReservationMetrics.
func (m *Metrics) ObserveReservation(result string, lines int) {
	if m == nil || lines <= 0 {
		return
	}
	m.reservationsTotal.WithLabelValues(result).Add(float64(lines))
}

// ObserveFlow implements orchestrator.FlowMetrics.
func (m *Metrics) ObserveFlow(flow, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.flowsTotal.WithLabelValues(flow, result).Inc()
	m.flowDuration.WithLabelValues(flow).Observe(took.Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, shared.ErrConcurrentModification), errors.Is(err, shared.ErrStaleDocument):
		return "conflict"
	case errors.Is(err, shared.ErrValidation):
		return "invalid"
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	}
	return "error"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
