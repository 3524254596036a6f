package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"giftcard-overlay/internal/assets"
	"giftcard-overlay/internal/cache"
	"giftcard-overlay/internal/client"
	"giftcard-overlay/internal/database"
	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/features"
	"giftcard-overlay/internal/middleware"
	"giftcard-overlay/internal/models"
	"giftcard-overlay/internal/service"
)

const testMerchant = "demo-merchant"

func setupLocalAPI(t *testing.T) *LocalAPI {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.SeedDemoCatalog(ctx, testMerchant); err != nil {
		t.Fatalf("Failed to seed catalog: %v", err)
	}

	svc := service.NewService(db, nil, 250, nil)
	return NewLocalAPI(svc, 1<<10, nil)
}

func setupRouter(api API) http.Handler {
	return NewRouter(RouterOptions{API: api, Mode: "test"})
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func purchaseBody(t *testing.T, items ...models.PurchaseItem) []byte {
	t.Helper()
	data, err := json.Marshal(models.PurchaseRequest{
		MerchantID: testMerchant,
		Buyer:      models.Buyer{Name: "Ada", Email: "ada@example.com"},
		Recipient:  models.Recipient{Email: "bob@example.com"},
		Items:      items,
	})
	if err != nil {
		t.Fatalf("Failed to marshal purchase: %v", err)
	}
	return data
}

func TestHealthCheck(t *testing.T) {
	flags := features.NewManager()
	flags.Register(features.CatalogCache, true, "cache catalog responses")

	r := NewRouter(RouterOptions{API: NewStubAPI(nil), Mode: "stub", Flags: flags})

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body.Status != "ok" || body.Mode != "stub" {
		t.Errorf("Unexpected health body: %+v", body)
	}
	if len(body.Features) != 1 || body.Features[0].Name != features.CatalogCache {
		t.Errorf("Expected catalog_cache flag in health, got %+v", body.Features)
	}
}

func TestHealthCheck_NotReady(t *testing.T) {
	r := NewRouter(RouterOptions{
		API:   NewStubAPI(nil),
		Mode:  "local",
		Ready: func(ctx context.Context) error { return context.DeadlineExceeded },
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rr.Code)
	}
}

func TestStubAPI(t *testing.T) {
	r := setupRouter(NewStubAPI(nil))

	t.Run("catalog is empty", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}
		var catalog models.Catalog
		if err := json.Unmarshal(rr.Body.Bytes(), &catalog); err != nil {
			t.Fatalf("Failed to decode catalog: %v", err)
		}
		if catalog.MerchantID != "m1" {
			t.Errorf("Expected merchant m1, got %q", catalog.MerchantID)
		}
		if catalog.Offers == nil || len(catalog.Offers) != 0 {
			t.Errorf("Expected an empty offers array, got %s", rr.Body.String())
		}
	})

	t.Run("purchase is not implemented", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("POST", "/api/bff/demo/purchase", strings.NewReader("{}")))

		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("Expected status 501, got %d", rr.Code)
		}
		if code := decodeErrorCode(t, rr); code != errcode.NotImplemented {
			t.Errorf("Expected %s, got %s", errcode.NotImplemented, code)
		}
	})
}

func TestLocalAPI_Catalog(t *testing.T) {
	r := setupRouter(setupLocalAPI(t))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId="+testMerchant, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var catalog models.Catalog
	if err := json.Unmarshal(rr.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("Failed to decode catalog: %v", err)
	}
	if len(catalog.Offers) != 5 {
		t.Fatalf("Expected 5 offers, got %d", len(catalog.Offers))
	}
	if catalog.Offers[0].ID != testMerchant+"-demo-01" || catalog.Offers[0].Currency != "EUR" {
		t.Errorf("Unexpected first offer: %+v", catalog.Offers[0])
	}
}

func TestLocalAPI_CatalogRequiresMerchant(t *testing.T) {
	r := setupRouter(setupLocalAPI(t))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/bff/demo/catalog", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != errcode.MerchantRequired {
		t.Errorf("Expected %s, got %s", errcode.MerchantRequired, code)
	}
}

func TestLocalAPI_Purchase_Success(t *testing.T) {
	r := setupRouter(setupLocalAPI(t))

	body := purchaseBody(t, models.PurchaseItem{OfferID: testMerchant + "-demo-01", Qty: 2})
	req := httptest.NewRequest("POST", "/api/bff/demo/purchase", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var order models.Order
	if err := json.Unmarshal(rr.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode order: %v", err)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Errorf("Expected order id with ord_ prefix, got %q", order.ID)
	}
	if order.SubtotalMinor != 5000 || order.FeeMinor != 125 || order.TotalMinor != 5125 {
		t.Errorf("Unexpected totals: subtotal=%d fee=%d total=%d", order.SubtotalMinor, order.FeeMinor, order.TotalMinor)
	}
	if len(order.GiftCards) != 2 {
		t.Fatalf("Expected 2 gift cards, got %d", len(order.GiftCards))
	}
	if order.GiftCards[0].RecipientEmail != "bob@example.com" {
		t.Errorf("Expected recipient on gift card, got %q", order.GiftCards[0].RecipientEmail)
	}
}

func TestLocalAPI_Purchase_Errors(t *testing.T) {
	r := setupRouter(setupLocalAPI(t))

	tests := []struct {
		name       string
		body       []byte
		wantStatus int
		wantCode   string
	}{
		{
			name:       "empty body",
			body:       nil,
			wantStatus: http.StatusBadRequest,
			wantCode:   errcode.InvalidJSON,
		},
		{
			name:       "malformed json",
			body:       []byte(`{"merchantId":`),
			wantStatus: http.StatusBadRequest,
			wantCode:   errcode.InvalidJSON,
		},
		{
			name:       "too large",
			body:       bytes.Repeat([]byte(" "), 2<<10),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   errcode.PayloadTooLarge,
		},
		{
			name:       "no items",
			body:       purchaseBody(t),
			wantStatus: http.StatusBadRequest,
			wantCode:   errcode.EmptyOrder,
		},
		{
			name:       "inactive offer",
			body:       purchaseBody(t, models.PurchaseItem{OfferID: testMerchant + "-demo-05", Qty: 1}),
			wantStatus: http.StatusOK,
			wantCode:   errcode.OfferNotFound,
		},
		{
			name: "cap exceeded across split lines",
			body: purchaseBody(t,
				models.PurchaseItem{OfferID: testMerchant + "-demo-03", Qty: 1},
				models.PurchaseItem{OfferID: testMerchant + "-demo-03", Qty: 2},
			),
			wantStatus: http.StatusOK,
			wantCode:   errcode.QtyLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/bff/demo/purchase", bytes.NewReader(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if code := decodeErrorCode(t, rr); code != tt.wantCode {
				t.Errorf("Expected %s, got %s", tt.wantCode, code)
			}
		})
	}
}

// upstream records what the proxy forwards to it.
type upstream struct {
	calls   atomic.Int32
	lastKey atomic.Value
	status  int
	body    string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.calls.Add(1)
	u.lastKey.Store(r.Header.Get(client.OverlayKeyHeader))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(u.status)
	w.Write([]byte(u.body))
}

func newUpstream(t *testing.T, status int, body string) (*upstream, *httptest.Server) {
	t.Helper()
	u := &upstream{status: status, body: body}
	srv := httptest.NewServer(u)
	t.Cleanup(srv.Close)
	return u, srv
}

func TestProxyAPI_ForwardsCatalog(t *testing.T) {
	up, srv := newUpstream(t, http.StatusOK, `{"merchantId":"m1","offers":[]}`)
	r := setupRouter(NewProxyAPI(ProxyOptions{Upstream: srv.URL}))

	req := httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil)
	req.Header.Set(client.OverlayKeyHeader, "embed-key")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != `{"merchantId":"m1","offers":[]}` {
		t.Errorf("Expected upstream body verbatim, got %s", rr.Body.String())
	}
	if got := up.lastKey.Load(); got != "embed-key" {
		t.Errorf("Expected overlay key to be forwarded, got %v", got)
	}
	if rr.Header().Get("X-Cache") != "" {
		t.Errorf("Expected no X-Cache header without a cache, got %q", rr.Header().Get("X-Cache"))
	}
}

func TestProxyAPI_PassesThroughUpstreamStatus(t *testing.T) {
	_, srv := newUpstream(t, http.StatusUnauthorized, `{"error":"UNAUTHORISED"}`)
	r := setupRouter(NewProxyAPI(ProxyOptions{Upstream: srv.URL}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/api/bff/demo/purchase", strings.NewReader(`{}`)))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != errcode.Unauthorised {
		t.Errorf("Expected %s, got %s", errcode.Unauthorised, code)
	}
}

func TestProxyAPI_UpstreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	r := setupRouter(NewProxyAPI(ProxyOptions{Upstream: target, Timeout: time.Second}))

	for _, req := range []*http.Request{
		httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil),
		httptest.NewRequest("POST", "/api/bff/demo/purchase", strings.NewReader(`{}`)),
	} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadGateway {
			t.Fatalf("%s: expected status 502, got %d", req.URL.Path, rr.Code)
		}
		if code := decodeErrorCode(t, rr); code != errcode.UpstreamUnreachable {
			t.Errorf("%s: expected %s, got %s", req.URL.Path, errcode.UpstreamUnreachable, code)
		}
	}
}

func TestProxyAPI_CatalogCache(t *testing.T) {
	up, srv := newUpstream(t, http.StatusOK, `{"merchantId":"m1","offers":[]}`)

	flags := features.NewManager()
	flags.Register(features.CatalogCache, true, "")
	r := setupRouter(NewProxyAPI(ProxyOptions{
		Upstream: srv.URL,
		Cache:    cache.NewInMemoryCache(),
		CacheTTL: time.Minute,
		Flags:    flags,
	}))

	get := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil))
		return rr
	}

	first := get()
	if first.Header().Get("X-Cache") != "MISS" {
		t.Errorf("Expected MISS on first request, got %q", first.Header().Get("X-Cache"))
	}
	second := get()
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("Expected HIT on second request, got %q", second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("Cached body differs: %s vs %s", second.Body.String(), first.Body.String())
	}
	if n := up.calls.Load(); n != 1 {
		t.Errorf("Expected 1 upstream call, got %d", n)
	}

	flags.Disable(features.CatalogCache)
	get()
	if n := up.calls.Load(); n != 2 {
		t.Errorf("Expected cache bypass with the flag off, got %d upstream calls", n)
	}
}

func TestProxyAPI_CatalogCacheIsScopedByOverlayKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get(client.OverlayKeyHeader) != "upstream-key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"UNAUTHORISED"}`))
			return
		}
		w.Write([]byte(`{"merchantId":"m1","offers":[]}`))
	}))
	defer srv.Close()

	flags := features.NewManager()
	flags.Register(features.CatalogCache, true, "")
	r := setupRouter(NewProxyAPI(ProxyOptions{
		Upstream: srv.URL,
		Cache:    cache.NewInMemoryCache(),
		CacheTTL: time.Minute,
		Flags:    flags,
	}))

	get := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil)
		if key != "" {
			req.Header.Set(client.OverlayKeyHeader, key)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	if rr := get("upstream-key"); rr.Code != http.StatusOK || rr.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("Expected keyed 200 MISS, got %d %q", rr.Code, rr.Header().Get("X-Cache"))
	}
	if rr := get(""); rr.Code != http.StatusUnauthorized || rr.Header().Get("X-Cache") == "HIT" {
		t.Errorf("Expected unkeyed request to reach the upstream, got %d %q", rr.Code, rr.Header().Get("X-Cache"))
	}
	if rr := get("wrong-key"); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected wrong key to reach the upstream, got %d", rr.Code)
	}
	if rr := get("upstream-key"); rr.Header().Get("X-Cache") != "HIT" {
		t.Errorf("Expected keyed HIT, got %q", rr.Header().Get("X-Cache"))
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Expected 3 upstream calls, got %d", n)
	}
}

func TestProxyAPI_DoesNotCacheFailures(t *testing.T) {
	up, srv := newUpstream(t, http.StatusServiceUnavailable, `{"error":"INTERNAL"}`)

	flags := features.NewManager()
	flags.Register(features.CatalogCache, true, "")
	r := setupRouter(NewProxyAPI(ProxyOptions{
		Upstream: srv.URL,
		Cache:    cache.NewInMemoryCache(),
		CacheTTL: time.Minute,
		Flags:    flags,
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected status 503, got %d", rr.Code)
		}
	}
	if n := up.calls.Load(); n != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", n)
	}
}

func TestRouter_OverlayKey(t *testing.T) {
	r := NewRouter(RouterOptions{API: NewStubAPI(nil), OverlayKey: "secret"})

	t.Run("missing key", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", rr.Code)
		}
		if code := decodeErrorCode(t, rr); code != errcode.Unauthorised {
			t.Errorf("Expected %s, got %s", errcode.Unauthorised, code)
		}
	})

	t.Run("matching key", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil)
		req.Header.Set(client.OverlayKeyHeader, "secret")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rr.Code)
		}
	})

	t.Run("preflight skips the key", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/bff/demo/purchase", nil)
		req.Header.Set("Origin", "https://shop.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type, x-overlay-key")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Expected wildcard origin, got %q", got)
		}
	})
}

func TestRouter_RateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(0.001, 1)
	defer limiter.Stop()
	r := NewRouter(RouterOptions{API: NewStubAPI(nil), RateLimiter: limiter})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/bff/demo/catalog?merchantId=m1", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 429], got %v", codes)
	}

	// Static and health routes are not limited.
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected health to bypass the limiter, got %d", rr.Code)
	}
}

func TestRouter_ServesAssets(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>demo</h1>"), 0o644); err != nil {
		t.Fatalf("Failed to write index: %v", err)
	}
	srv, err := assets.New(root, nil)
	if err != nil {
		t.Fatalf("Failed to create asset server: %v", err)
	}
	r := NewRouter(RouterOptions{API: NewStubAPI(nil), Assets: srv})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "<h1>demo</h1>" {
		t.Errorf("Expected index page, got %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/missing.js", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestRouter_ExposesMetrics(t *testing.T) {
	r := setupRouter(NewStubAPI(nil))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	want := `overlay_relay_request_duration_seconds_count{method="GET",route="/health",status="200"}`
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("Expected %s in metrics output", want)
	}
}
