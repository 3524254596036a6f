package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}

var (
	// RequestDuration tracks relay request latency by route.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlay_relay_request_duration_seconds",
			Help:    "Duration of relay HTTP requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"route", "method", "status"},
	)

	// UpstreamDuration tracks proxied upstream calls.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "overlay_relay_upstream_duration_seconds",
			Help:    "Duration of proxied upstream calls in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"endpoint", "outcome"}, // outcome: status code or "unreachable"
	)

	// CatalogCacheLookups counts proxy catalog cache lookups.
	CatalogCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_relay_catalog_cache_lookups_total",
			Help: "Catalog cache lookups in proxy mode",
		},
		[]string{"result"}, // hit or miss
	)
)

// RecordUpstream records the duration of an upstream call.
func RecordUpstream(endpoint, outcome string, duration time.Duration) {
	UpstreamDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

// RecordCacheLookup counts a catalog cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CatalogCacheLookups.WithLabelValues(result).Inc()
}

// Middleware records RequestDuration for every request. The route label is
// chi's route pattern, so unmatched asset paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
