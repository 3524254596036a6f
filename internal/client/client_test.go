package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc, key string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", APIKey: key})
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func TestReadCatalog_Success(t *testing.T) {
	var gotKey, gotMerchant, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(OverlayKeyHeader)
		gotMerchant = r.URL.Query().Get("merchantId")
		gotPath = r.URL.Path
		respond(http.StatusOK, `{"merchantId":"m 1","offers":[{"id":"o1","currency":"EUR","priceMinor":500,"maxPerOrder":2,"active":true}]}`)(w, r)
	}, "secret")

	catalog, err := c.ReadCatalog(context.Background(), "m 1")
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "m 1", gotMerchant)
	assert.Equal(t, CatalogPath, gotPath)
	require.Len(t, catalog.Offers, 1)
	assert.Equal(t, int64(500), catalog.Offers[0].PriceMinor)
	assert.Equal(t, 2, catalog.Offers[0].MaxQty())
}

func TestReadCatalog_NoKeyHeaderWhenUnset(t *testing.T) {
	var present bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[http.CanonicalHeaderKey(OverlayKeyHeader)]
		respond(http.StatusOK, `{"merchantId":"m","offers":[]}`)(w, r)
	}, "")

	_, err := c.ReadCatalog(context.Background(), "m")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestReadCatalog_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"unparseable body", http.StatusOK, `<html>oops</html>`, errcode.Parse},
		{"json array body", http.StatusOK, `[1,2]`, errcode.Parse},
		{"empty body on error", http.StatusBadGateway, ``, errcode.Parse},
		{"remote code passthrough", http.StatusUnauthorized, `{"error":"UNAUTHORISED"}`, errcode.Unauthorised},
		{"arbitrary remote code", http.StatusTeapot, `{"error":"weird code!"}`, "weird code!"},
		{"non-success without code", http.StatusInternalServerError, `{"message":"boom"}`, errcode.RequestFailed},
		{"non-string error field", http.StatusInternalServerError, `{"error":{"code":1}}`, errcode.RequestFailed},
		{"missing offers", http.StatusOK, `{"merchantId":"m"}`, errcode.BadResponse},
		{"offers not a list", http.StatusOK, `{"offers":{"id":"x"}}`, errcode.BadResponse},
		{"malformed offer", http.StatusOK, `{"offers":[{"priceMinor":"cheap"}]}`, errcode.BadResponse},
		{"success carrying error", http.StatusOK, `{"error":"MAINTENANCE","offers":[]}`, "MAINTENANCE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, respond(tt.status, tt.body), "")
			_, err := c.ReadCatalog(context.Background(), "m")
			require.Error(t, err)
			assert.Equal(t, tt.want, errcode.CodeOf(err))
		})
	}
}

func TestReadCatalog_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(respond(http.StatusOK, `{}`))
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url})
	_, err := c.ReadCatalog(context.Background(), "m")
	require.Error(t, err)
	assert.Equal(t, errcode.Network, errcode.CodeOf(err))
}

func TestReadCatalog_DeadlineIsNetwork(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ReadCatalog(ctx, "m")
	require.Error(t, err)
	assert.Equal(t, errcode.Network, errcode.CodeOf(err))
}

func TestSubmitPurchase_SendsPayload(t *testing.T) {
	var got models.PurchaseRequest
	var method, contentType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got)
		respond(http.StatusOK, `{"id":"ord-1","merchantId":"m","currency":"EUR","subtotalMinor":1000,"feeMinor":0,"totalMinor":1000,
			"buyer":{"name":"Ada","email":"ada@example.com"},
			"giftCards":[{"code":"AAAA-BBBB-CCCC-DDDD","offerId":"o1","valueMinor":500,"currency":"EUR","recipientEmail":"bob@example.com"}]}`)(w, r)
	}, "k")

	req := models.PurchaseRequest{
		MerchantID: "m",
		Buyer:      models.Buyer{Name: "Ada", Email: "ada@example.com"},
		Recipient:  models.Recipient{Email: "bob@example.com"},
		Items:      []models.PurchaseItem{{OfferID: "o1", Qty: 2}},
	}
	order, err := c.SubmitPurchase(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, req, got)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, int64(1000), order.TotalMinor)
	require.Len(t, order.GiftCards, 1)
}

func TestSubmitPurchase_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"ok status with error body", http.StatusOK, `{"error":"QTY_LIMIT"}`, errcode.QtyLimit},
		{"not implemented", http.StatusNotImplemented, `{"error":"NOT_IMPLEMENTED"}`, errcode.NotImplemented},
		{"missing id", http.StatusOK, `{"currency":"EUR"}`, errcode.BadResponse},
		{"malformed totals", http.StatusOK, `{"id":"x","totalMinor":"lots"}`, errcode.BadResponse},
		{"garbage", http.StatusOK, `not json`, errcode.Parse},
		{"server error", http.StatusInternalServerError, `{}`, errcode.RequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, respond(tt.status, tt.body), "")
			order, err := c.SubmitPurchase(context.Background(), models.PurchaseRequest{MerchantID: "m"})
			require.Error(t, err)
			assert.Nil(t, order)
			assert.Equal(t, tt.want, errcode.CodeOf(err))
		})
	}
}
