// Package widget is the application core of the embeddable catalog and
// checkout overlay.
//
// All widget state is owned by a single loop goroutine. User actions, timer
// firings and the continuations of network calls are delivered to that loop
// as closures and run one at a time to completion, so no state is ever
// observed mid-mutation. Network calls run on their own goroutines and only
// touch state through the continuations they post back.
package widget

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"giftcard-overlay/internal/catalog"
	"giftcard-overlay/internal/client"
	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/health"
	"giftcard-overlay/internal/models"
	"giftcard-overlay/internal/selection"
	"giftcard-overlay/internal/validation"
)

// DefaultPassiveProbeDelay is the delay between Start and the passive
// health probe.
const DefaultPassiveProbeDelay = 1500 * time.Millisecond

var (
	// ErrStopped is returned by actions sent to a stopped controller.
	ErrStopped = errors.New("widget: controller stopped")
	// ErrNotStarted is returned by actions sent before Start.
	ErrNotStarted = errors.New("widget: controller not started")
)

// CatalogSource yields the session catalog.
type CatalogSource interface {
	FetchOffersOnce(ctx context.Context) ([]models.Offer, error)
	Offers() ([]models.Offer, bool)
}

// PurchaseSubmitter submits a purchase.
type PurchaseSubmitter interface {
	SubmitPurchase(ctx context.Context, payload models.PurchaseRequest) (*models.Order, error)
}

// HealthMonitor is the advisory connectivity probe.
type HealthMonitor interface {
	Trigger()
	Snapshot() health.Snapshot
	Subscribe(fn func(health.Snapshot))
	Stop()
}

// Options configures a Controller.
type Options struct {
	Renderer Renderer
	Logger   *zap.Logger

	// PassiveProbeDelay is the delay before the passive health probe. Zero
	// means DefaultPassiveProbeDelay, a negative value disables it.
	PassiveProbeDelay time.Duration
}

// Controller is the view-state machine of one widget instance.
type Controller struct {
	cfg       EmbedConfig
	catalog   CatalogSource
	purchases PurchaseSubmitter
	monitor   HealthMonitor
	renderer  Renderer
	logger    *zap.Logger
	delay     time.Duration

	inbox     chan func()
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	timer     *time.Timer
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	// Loop-owned state.
	open           bool
	opened         bool
	view           View
	loading        bool
	catalogPending bool
	submitting     bool
	errCode        string
	lastFailure    string
	offers         []models.Offer
	sel            *selection.Model
	form           models.CheckoutForm
	fieldErrors    validation.Errors
	order          *models.Order
	health         health.Snapshot
}

// New creates a controller. Start must be called before any action.
func New(cfg EmbedConfig, source CatalogSource, purchases PurchaseSubmitter, monitor HealthMonitor, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := opts.PassiveProbeDelay
	if delay == 0 {
		delay = DefaultPassiveProbeDelay
	}

	return &Controller{
		cfg:       cfg,
		catalog:   source,
		purchases: purchases,
		monitor:   monitor,
		renderer:  opts.Renderer,
		logger:    logger.With(zap.String("merchant_id", cfg.MerchantID)),
		delay:     delay,
		inbox:     make(chan func(), 64),
		done:      make(chan struct{}),
		view:      ViewCatalog,
		sel:       selection.New(),
		health:    health.Snapshot{Status: health.StatusIdle},
	}
}

// NewFromEmbed wires a controller to the remote endpoints named by cfg.
func NewFromEmbed(cfg EmbedConfig, hc *http.Client, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cl := client.New(client.Config{BaseURL: cfg.APIBase, APIKey: cfg.APIKey},
		client.WithHTTPClient(hc),
		client.WithLogger(logger.Named("client")),
	)
	cache := catalog.NewCache(cl, cfg.MerchantID, logger.Named("catalog"))
	monitor := health.NewMonitor(cl, cfg.MerchantID, health.WithLogger(logger.Named("health")))

	return New(cfg, cache, cl, monitor, opts)
}

// Start launches the widget loop and schedules the passive health probe.
// Outstanding network calls are cancelled when ctx is done.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)

		c.monitor.Subscribe(func(health.Snapshot) {
			c.post(c.healthChanged)
		})

		c.started.Store(true)
		go c.run()

		if c.delay > 0 {
			c.timer = time.AfterFunc(c.delay, c.monitor.Trigger)
		}
	})
}

// Stop terminates the loop and the health monitor.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.monitor.Stop()
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.ctx.Done():
			return
		}
	}
}

// dispatch runs fn on the loop and waits until it has completed.
func (c *Controller) dispatch(fn func()) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	processed := make(chan struct{})
	select {
	case c.inbox <- func() { fn(); close(processed) }:
	case <-c.done:
		return ErrStopped
	}
	select {
	case <-processed:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

// post delivers a continuation to the loop without waiting for it.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// Open shows the widget.
func (c *Controller) Open() error { return c.dispatch(c.handleOpen) }

// Close hides the widget from any state.
func (c *Controller) Close() error { return c.dispatch(c.handleClose) }

// Increment adds one unit of offerID.
func (c *Controller) Increment(offerID string) error {
	return c.dispatch(func() {
		c.adjust(offerID, func(max int) { c.sel.Increment(offerID, max) })
	})
}

// Decrement removes one unit of offerID.
func (c *Controller) Decrement(offerID string) error {
	return c.dispatch(func() {
		c.adjust(offerID, func(int) { c.sel.Decrement(offerID) })
	})
}

// SetQuantity sets the quantity of offerID from raw user input.
func (c *Controller) SetQuantity(offerID, raw string) error {
	return c.dispatch(func() {
		c.adjust(offerID, func(max int) { c.sel.SetQuantity(offerID, raw, max) })
	})
}

// Checkout moves from the catalog to the checkout view.
func (c *Controller) Checkout() error { return c.dispatch(c.handleCheckout) }

// Back returns to the catalog from the checkout or error view.
func (c *Controller) Back() error { return c.dispatch(c.handleBack) }

// SetField updates one checkout form field (see validation.Field*).
func (c *Controller) SetField(field, value string) error {
	return c.dispatch(func() { c.handleSetField(field, value) })
}

// Submit validates the form and submits the purchase.
func (c *Controller) Submit() error { return c.dispatch(c.handleSubmit) }

// RetryHealth starts a fresh health probe.
func (c *Controller) RetryHealth() error {
	return c.dispatch(func() { c.monitor.Trigger() })
}

// Frame returns the current presentation state.
func (c *Controller) Frame() (Frame, error) {
	var f Frame
	err := c.dispatch(func() { f = c.frame() })
	return f, err
}

func (c *Controller) handleOpen() {
	if c.open {
		return
	}
	c.open = true

	if !c.opened {
		c.opened = true
		c.enterCatalog()
		c.monitor.Trigger()
	}
	c.render("open")
}

func (c *Controller) handleClose() {
	if !c.open {
		return
	}
	c.open = false
	c.form = models.CheckoutForm{}
	c.fieldErrors = nil

	if c.view == ViewConfirm {
		c.enterCatalog()
	}
	c.render("close")
}

func (c *Controller) enterCatalog() {
	c.view = ViewCatalog
	c.errCode = ""

	if offers, ok := c.catalog.Offers(); ok {
		c.offers = offers
		c.loading = false
		return
	}

	c.loading = true
	if c.catalogPending {
		return
	}
	c.catalogPending = true

	ctx := c.ctx
	go func() {
		offers, err := c.catalog.FetchOffersOnce(ctx)
		c.post(func() { c.catalogSettled(offers, err) })
	}()
}

func (c *Controller) catalogSettled(offers []models.Offer, err error) {
	c.catalogPending = false

	if err != nil {
		code := errcode.Sanitize(errcode.CodeOf(err))
		c.logger.Warn("catalog read failed", zap.String("code", code), zap.Error(err))
		if c.view == ViewCatalog && c.loading {
			c.loading = false
			c.view = ViewError
			c.errCode = code
		}
		c.render("catalog failed")
		return
	}

	c.offers = offers
	if c.view == ViewCatalog {
		c.loading = false
	}
	c.render("catalog loaded")
}

func (c *Controller) adjust(offerID string, apply func(max int)) {
	if c.view != ViewCatalog || c.loading {
		c.logger.Debug("quantity change ignored", zap.String("view", string(c.view)))
		return
	}
	offer, ok := c.findOffer(offerID)
	if !ok {
		c.logger.Debug("quantity change for unknown offer", zap.String("offer_id", offerID))
		return
	}
	apply(offer.MaxQty())
	c.render("quantity")
}

func (c *Controller) handleCheckout() {
	if c.view != ViewCatalog || c.loading || c.sel.Empty() {
		c.logger.Debug("checkout ignored", zap.String("view", string(c.view)), zap.Int("count", c.sel.Count()))
		return
	}
	c.form = models.CheckoutForm{}
	c.fieldErrors = nil
	c.view = ViewCheckout
	c.loading = c.submitting
	c.render("checkout")
}

func (c *Controller) handleBack() {
	switch c.view {
	case ViewCheckout:
		c.form = models.CheckoutForm{}
		c.fieldErrors = nil
	case ViewError:
	default:
		return
	}
	c.enterCatalog()
	c.render("back")
}

func (c *Controller) handleSetField(field, value string) {
	if c.view != ViewCheckout {
		return
	}
	switch field {
	case validation.FieldBuyerName:
		c.form.BuyerName = value
	case validation.FieldBuyerEmail:
		c.form.BuyerEmail = value
	case validation.FieldRecipientEmail:
		c.form.RecipientEmail = value
	default:
		c.logger.Debug("unknown form field", zap.String("field", field))
		return
	}
	c.render("form")
}

func (c *Controller) handleSubmit() {
	if c.view != ViewCheckout || c.submitting {
		return
	}

	if errs := validation.ValidateCheckout(c.form); len(errs) > 0 {
		c.fieldErrors = errs
		c.render("invalid form")
		return
	}
	c.fieldErrors = nil

	selected := c.sel.SelectedItems()
	if len(selected) == 0 {
		return
	}
	items := make([]models.PurchaseItem, 0, len(selected))
	for _, it := range selected {
		items = append(items, models.PurchaseItem{OfferID: it.OfferID, Qty: it.Qty})
	}

	payload := models.PurchaseRequest{
		MerchantID: c.cfg.MerchantID,
		Buyer: models.Buyer{
			Name:  strings.TrimSpace(c.form.BuyerName),
			Email: strings.TrimSpace(c.form.BuyerEmail),
		},
		Recipient: models.Recipient{Email: strings.TrimSpace(c.form.RecipientEmail)},
		Items:     items,
	}

	c.submitting = true
	c.loading = true

	ctx := c.ctx
	go func() {
		order, err := c.purchases.SubmitPurchase(ctx, payload)
		c.post(func() { c.purchaseSettled(order, err) })
	}()
	c.render("submit")
}

func (c *Controller) purchaseSettled(order *models.Order, err error) {
	c.submitting = false
	awaiting := c.view == ViewCheckout
	if awaiting {
		c.loading = false
	}

	if err != nil {
		code := errcode.Sanitize(errcode.CodeOf(err))
		c.lastFailure = code
		c.logger.Warn("purchase failed", zap.String("code", code), zap.Error(err))
		if awaiting {
			c.view = ViewError
			c.errCode = code
		}
		c.render("purchase failed")
		return
	}

	c.order = order
	c.lastFailure = ""
	c.logger.Info("purchase completed", zap.String("order_id", order.ID), zap.Int("gift_cards", len(order.GiftCards)))
	if awaiting {
		c.view = ViewConfirm
		c.form = models.CheckoutForm{}
	}
	c.render("purchase completed")
}

func (c *Controller) healthChanged() {
	c.health = c.monitor.Snapshot()
	c.render("health")
}

func (c *Controller) findOffer(id string) (models.Offer, bool) {
	for _, o := range c.offers {
		if o.ID == id {
			return o, true
		}
	}
	return models.Offer{}, false
}

func (c *Controller) frame() Frame {
	f := Frame{
		Open:     c.open,
		View:     c.view,
		Loading:  c.loading,
		Offers:   append([]models.Offer(nil), c.offers...),
		Items:    c.sel.SelectedItems(),
		Count:    c.sel.Count(),
		Subtotal: c.sel.Subtotal(c.offers),
		Form:     c.form,
		Order:    c.order,
		Health:   c.health,

		LastPurchaseError: c.lastFailure,
	}
	if c.view == ViewError {
		f.ErrorCode = c.errCode
	}
	if f.Health.Code != "" {
		f.Health.Code = errcode.Sanitize(f.Health.Code)
	}

	for _, it := range f.Items {
		if o, ok := c.findOffer(it.OfferID); ok {
			f.Currency = o.Currency
			break
		}
	}
	if f.Currency == "" && len(c.offers) > 0 {
		f.Currency = c.offers[0].Currency
	}

	if len(c.fieldErrors) > 0 {
		f.FieldErrors = make(map[string]string, len(c.fieldErrors))
		for _, e := range c.fieldErrors {
			f.FieldErrors[e.Field] = e.Message
		}
	}
	return f
}

func (c *Controller) render(reason string) {
	c.logger.Debug("render",
		zap.String("reason", reason),
		zap.String("view", string(c.view)),
		zap.Bool("loading", c.loading),
		zap.Bool("open", c.open),
	)
	if c.renderer != nil {
		c.renderer.Render(c.frame())
	}
}
