package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perfdesk/perfdesk/internal/goals"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitionsTotal  *prometheus.CounterVec
	cascadeRecomputes prometheus.Counter
	freezeActions     *prometheus.CounterVec
	frozenGoals       *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and goal engine metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perfdesk_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perfdesk_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perfdesk_goal_transitions_total",
		Help: "Goal state transitions by event.",
	}, []string{"event"})
	cascades := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perfdesk_goal_cascade_recomputes_total",
		Help: "Parent progress recomputations triggered by child changes.",
	})
	freezes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perfdesk_goal_freeze_actions_total",
		Help: "Bulk freeze and unfreeze operations.",
	}, []string{"action"})
	frozen := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perfdesk_goals_frozen_total",
		Help: "Goals affected by freeze and unfreeze operations.",
	}, []string{"action"})
	registry.MustRegister(requests, duration, transitions, cascades, freezes, frozen)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		transitionsTotal:  transitions,
		cascadeRecomputes: cascades,
		freezeActions:     freezes,
		frozenGoals:       frozen,
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

// Middleware records request metrics for every HTTP request.
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

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// CascadeRecompute counts one parent chain recomputation.
func (m *Metrics) CascadeRecompute() {
	if m == nil {
		return
	}
	m.cascadeRecomputes.Inc()
}

// FreezeAction counts one bulk freeze or unfreeze and its affected goals.
func (m *Metrics) FreezeAction(action goals.FreezeAction, affected int) {
	if m == nil {
		return
	}
	m.freezeActions.WithLabelValues(string(action)).Inc()
	m.frozenGoals.WithLabelValues(string(action)).Add(float64(affected))
}

// Transition counts one goal state transition.
func (m *Metrics) Transition(event goals.Event) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(string(event)).Inc()
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
