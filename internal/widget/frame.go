package widget

import (
	"giftcard-overlay/internal/health"
	"giftcard-overlay/internal/models"
	"giftcard-overlay/internal/selection"
)

// View is the main view of the widget.
type View string

const (
	ViewCatalog  View = "catalog"
	ViewCheckout View = "checkout"
	ViewConfirm  View = "confirm"
	ViewError    View = "error"
)

// Frame is everything a presentation needs to draw the widget.
type Frame struct {
	Open      bool
	View      View
	Loading   bool
	ErrorCode string // sanitized; set only in the error view

	Offers   []models.Offer
	Items    []selection.Item
	Count    int
	Subtotal int64
	Currency string

	Form        models.CheckoutForm
	FieldErrors map[string]string

	Order  *models.Order
	Health health.Snapshot

	// LastPurchaseError is the sanitized code of the latest failed purchase,
	// kept after the view has moved on. Cleared by a successful purchase.
	LastPurchaseError string
}

// Renderer is the render contract: it is called on the widget loop after
// every transition and must not block.
type Renderer interface {
	Render(Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Frame)

func (f RendererFunc) Render(fr Frame) { f(fr) }
