package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PingsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depotwatch_pings_ingested_total",
			Help: "Total number of location pings persisted.",
		},
	)
	PingsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotwatch_pings_rejected_total",
			Help: "Total number of location pings rejected, by reason.",
		},
		[]string{"reason"},
	)
	GeofenceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotwatch_geofence_transitions_total",
			Help: "Geofence ENTER/EXIT transitions detected.",
		},
		[]string{"type"},
	)
	TimesheetTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotwatch_timesheet_transitions_total",
			Help: "Timesheet open/close transitions, by event and source.",
		},
		[]string{"event", "source"},
	)
	StagnationAlertsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depotwatch_stagnation_alerts_opened_total",
			Help: "Stagnation alerts opened.",
		},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotwatch_notification_failures_total",
			Help: "Failed notification deliveries, by notifier.",
		},
		[]string{"notifier"},
	)
	PingEvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "depotwatch_ping_eval_duration_seconds",
			Help:    "Time spent persisting and evaluating one ping.",
			Buckets: prometheus.DefBuckets,
		},
	)
	TenantCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotwatch_tenant_cache_lookups_total",
			Help: "Per-tenant cache lookups, by cache and hit/miss.",
		},
		[]string{"cache", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depotwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PingsIngested, PingsRejected, GeofenceTransitions, TimesheetTransitions,
			StagnationAlertsOpened, NotificationFailures, PingEvalDuration, TenantCacheLookups,
			httpRequests, httpLatency,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count and latency labelled by the chi route pattern
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(srw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(srw.statusCode)
		httpRequests.WithLabelValues(r.Method, route, status).Inc()
		httpLatency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (websocket hijack)
func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
