// Package metrics exposes Prometheus collectors for the HTTP surface, the
// normalization engine and the event bus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"vendorbox/internal/normalize"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	CoercionDefaults *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vendorbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		ActiveRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vendorbox_http_active_requests",
				Help: "Number of in-flight HTTP requests",
			},
		),
		CoercionDefaults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorbox_coercion_defaults_total",
				Help: "Stored values replaced by a type default during normalization",
			},
			[]string{"field", "type"},
		),
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorbox_events_published_total",
				Help: "Live events published, by channel kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) CoercionDefaulted(e normalize.Event) {
	m.CoercionDefaults.WithLabelValues(e.Field, string(e.Type)).Inc()
}

// EventPublished counts by channel kind so per-vendor channels do not
// explode cardinality
func (m *Metrics) EventPublished(channel string) {
	kind, _, _ := strings.Cut(channel, ":")
	m.EventsPublished.WithLabelValues(kind).Inc()
}

// Middleware records request duration by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the collectors gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
