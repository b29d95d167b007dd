// Package metrics provides Prometheus instrumentation for the shopshelf
// server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the
// global default) so that only shopshelf metrics appear on the /metrics
// endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the shopshelf server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ResolutionsTotal    *prometheus.CounterVec
	CatalogVersion      prometheus.Gauge
	CatalogProducts     prometheus.Gauge
	CatalogReloadsTotal prometheus.Counter
	AuthFailuresTotal   prometheus.Counter
}

// New creates and registers all shopshelf metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopshelf_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopshelf_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopshelf_resolutions_total",
			Help: "Total number of collection page resolutions.",
		}, []string{"collection_type", "cache"}),

		CatalogVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopshelf_catalog_version",
			Help: "Version of the catalog snapshot currently being served.",
		}),

		CatalogProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopshelf_catalog_products",
			Help: "Number of products in the catalog snapshot.",
		}),

		CatalogReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopshelf_catalog_reloads_total",
			Help: "Total number of catalog snapshot reloads.",
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopshelf_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.CatalogVersion,
		m.CatalogProducts,
		m.CatalogReloadsTotal,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request count and latency for every request
// served by next, labelled with the matched route pattern.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(recorder.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// ResolutionServed increments the resolution counter.
func (m *Metrics) ResolutionServed(collectionType string, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.ResolutionsTotal.WithLabelValues(collectionType, cache).Inc()
}

// CatalogReloaded updates the catalog gauges after a snapshot reload.
func (m *Metrics) CatalogReloaded(version int64, products int) {
	m.CatalogVersion.Set(float64(version))
	m.CatalogProducts.Set(float64(products))
	m.CatalogReloadsTotal.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
