// Package client performs the two remote operations of the widget and
// classifies every failure into the errcode taxonomy. Each call is exactly
// one attempt; nothing is retried here.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
	"giftcard-overlay/internal/tracing"
)

const (
	CatalogPath  = "/api/bff/demo/catalog"
	PurchasePath = "/api/bff/demo/purchase"

	// OverlayKeyHeader carries the embed API key.
	OverlayKeyHeader = "x-overlay-key"

	maxResponseBytes = 4 << 20
)

// Config holds the endpoint settings taken from the embed configuration.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client talks to the catalog and purchase endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	tracer     *tracing.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the given base URL.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		tracer:     tracing.Named("overlay-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadCatalog fetches the catalog of merchantID.
func (c *Client) ReadCatalog(ctx context.Context, merchantID string) (*models.Catalog, error) {
	ctx, span := c.tracer.StartSpan(ctx, "client.ReadCatalog")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", merchantID))

	endpoint := c.baseURL + CatalogPath + "?merchantId=" + url.QueryEscape(merchantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, c.fail(span, errcode.New(errcode.Network, 0, err))
	}

	data, fields, err := c.do(req)
	if err != nil {
		return nil, c.fail(span, err)
	}

	raw, ok := fields["offers"]
	if !ok || !isArray(raw) {
		return nil, c.fail(span, errcode.New(errcode.BadResponse, http.StatusOK, fmt.Errorf("catalog without offers")))
	}

	var catalog models.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, c.fail(span, errcode.New(errcode.BadResponse, http.StatusOK, err))
	}
	if catalog.Offers == nil {
		catalog.Offers = []models.Offer{}
	}

	span.SetAttributes(attribute.Int("catalog.offers", len(catalog.Offers)))
	return &catalog, nil
}

// SubmitPurchase posts a purchase and returns the resulting order.
func (c *Client) SubmitPurchase(ctx context.Context, payload models.PurchaseRequest) (*models.Order, error) {
	ctx, span := c.tracer.StartSpan(ctx, "client.SubmitPurchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("merchant.id", payload.MerchantID),
		attribute.Int("purchase.items", len(payload.Items)),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, c.fail(span, errcode.New(errcode.Parse, 0, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PurchasePath, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(span, errcode.New(errcode.Network, 0, err))
	}
	req.Header.Set("Content-Type", "application/json")

	data, _, err := c.do(req)
	if err != nil {
		return nil, c.fail(span, err)
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, c.fail(span, errcode.New(errcode.BadResponse, http.StatusOK, err))
	}
	if order.ID == "" {
		return nil, c.fail(span, errcode.New(errcode.BadResponse, http.StatusOK, fmt.Errorf("order without id")))
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	return &order, nil
}

// do sends req and returns the body of a successful response together with
// its top-level fields. Every failure is an *errcode.Error.
func (c *Client) do(req *http.Request) ([]byte, map[string]json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(OverlayKeyHeader, c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errcode.New(errcode.Network, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, errcode.New(errcode.Network, resp.StatusCode, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("response body is not a JSON object")
		}
		return nil, nil, errcode.New(errcode.Parse, resp.StatusCode, err)
	}

	code := errorField(fields)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	switch {
	case code != "":
		return nil, nil, errcode.New(code, resp.StatusCode, nil)
	case !success:
		return nil, nil, errcode.New(errcode.RequestFailed, resp.StatusCode, nil)
	}

	return data, fields, nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, errcode.CodeOf(err))
	c.logger.Debug("remote call failed", zap.String("code", errcode.CodeOf(err)), zap.Error(err))
	return err
}

// errorField returns the "error" field when it is a non-empty string.
func errorField(fields map[string]json.RawMessage) string {
	raw, ok := fields["error"]
	if !ok {
		return ""
	}
	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return ""
	}
	return code
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
