package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"giftcard-overlay/internal/cache"
	"giftcard-overlay/internal/client"
	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/features"
	"giftcard-overlay/internal/metrics"
)

const maxUpstreamBody = 4 << 20

// ProxyOptions configures a ProxyAPI.
type ProxyOptions struct {
	Upstream    string // origin without trailing slash
	Timeout     time.Duration
	MaxBodySize int64
	HTTPClient  *http.Client

	// Cache and CacheTTL enable caching of 200 catalog responses while the
	// catalog_cache flag is on.
	Cache    cache.Cache
	CacheTTL time.Duration
	Flags    *features.Manager

	Logger *zap.Logger
}

// ProxyAPI forwards both endpoints to an upstream origin.
type ProxyAPI struct {
	opts   ProxyOptions
	logger *zap.Logger
}

// cachedResponse is what the catalog cache stores.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// NewProxyAPI creates the proxy API.
func NewProxyAPI(opts ProxyOptions) *ProxyAPI {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Flags == nil {
		opts.Flags = features.NewManager()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 1 << 20
	}
	return &ProxyAPI{opts: opts, logger: opts.Logger}
}

// Catalog handles GET /api/bff/demo/catalog
func (h *ProxyAPI) Catalog(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchantId")
	key := cache.CatalogKey(merchantID, r.Header.Get(client.OverlayKeyHeader))
	caching := h.opts.Cache != nil && merchantID != "" && h.opts.Flags.IsEnabled(features.CatalogCache)

	if caching {
		var hit cachedResponse
		err := cache.GetJSON(r.Context(), h.opts.Cache, key, &hit)
		metrics.RecordCacheLookup(err == nil)
		if err == nil {
			w.Header().Set("X-Cache", "HIT")
			writeUpstream(w, &hit)
			return
		}
		if !errors.Is(err, cache.ErrNotFound) {
			h.logger.Warn("catalog cache read failed", zap.Error(err))
		}
	}

	resp, err := h.forward(r, "catalog", nil)
	if err != nil {
		respondError(w, http.StatusBadGateway, errcode.UpstreamUnreachable)
		return
	}

	if caching && resp.Status == http.StatusOK {
		if err := cache.SetJSON(r.Context(), h.opts.Cache, key, resp, h.opts.CacheTTL); err != nil {
			h.logger.Warn("catalog cache write failed", zap.Error(err))
		}
		w.Header().Set("X-Cache", "MISS")
	}
	writeUpstream(w, resp)
}

// Purchase handles POST /api/bff/demo/purchase
func (h *ProxyAPI) Purchase(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.opts.MaxBodySize)
	if !ok {
		return
	}

	resp, err := h.forward(r, "purchase", body)
	if err != nil {
		respondError(w, http.StatusBadGateway, errcode.UpstreamUnreachable)
		return
	}
	writeUpstream(w, resp)
}

// forward replays r against the upstream origin. Only transport failures
// are returned as errors; every upstream status is passed through.
func (h *ProxyAPI) forward(r *http.Request, endpoint string, body []byte) (*cachedResponse, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.Timeout)
	defer cancel()

	target := h.opts.Upstream + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for _, name := range []string{"Content-Type", "Accept", client.OverlayKeyHeader} {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := h.opts.HTTPClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(endpoint, "unreachable", time.Since(start))
		h.logger.Warn("upstream unreachable",
			zap.String("endpoint", endpoint),
			zap.String("target", h.opts.Upstream),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	metrics.RecordUpstream(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		h.logger.Warn("upstream body read failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}

	return &cachedResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func writeUpstream(w http.ResponseWriter, resp *cachedResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
