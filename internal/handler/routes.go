package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"giftcard-overlay/internal/client"
	"giftcard-overlay/internal/features"
	"giftcard-overlay/internal/metrics"
	"giftcard-overlay/internal/middleware"
)

// RouterOptions holds everything the relay router is built from.
type RouterOptions struct {
	API         API
	Mode        string
	Assets      http.Handler // nil disables static serving
	OverlayKey  string
	RateLimiter *middleware.RateLimiter // nil disables rate limiting
	Flags       *features.Manager
	ServiceName string
	Logger      *zap.Logger

	// Ready reports backend readiness for /health; nil means always ready.
	Ready func(ctx context.Context) error
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Mode     string                 `json:"mode"`
	Features []features.FeatureFlag `json:"features"`
	Error    string                 `json:"error,omitempty"`
}

// NewRouter builds the relay router.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flags := opts.Flags
	if flags == nil {
		flags = features.NewManager()
	}

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.TracingMiddleware(opts.ServiceName))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", client.OverlayKeyHeader, "traceparent", "tracestate"},
		ExposedHeaders: []string{"X-Cache"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Mode: opts.Mode, Features: flags.List()}
		status := http.StatusOK
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				resp.Status = "unavailable"
				resp.Error = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		respondJSON(w, status, resp)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/bff/demo", func(api chi.Router) {
		if opts.RateLimiter != nil {
			api.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
		}
		api.Use(middleware.RequireOverlayKey(opts.OverlayKey))

		api.Get("/catalog", opts.API.Catalog)
		api.Post("/purchase", opts.API.Purchase)
	})

	if opts.Assets != nil {
		r.Handle("/*", opts.Assets)
	}
	return r
}
