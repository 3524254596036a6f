package models

import "time"

// Offer represents a purchasable catalog line item.
type Offer struct {
	ID          string   `json:"id"`
	MerchantID  string   `json:"merchantId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Currency    string   `json:"currency"`    // ISO 4217, e.g. "EUR"
	PriceMinor  int64    `json:"priceMinor"`  // minor currency units
	MaxPerOrder *int     `json:"maxPerOrder"` // nil means no per-order cap
	Image       string   `json:"image,omitempty"`
	Tags        []string `json:"tags"`
	Active      bool     `json:"active"`
}

// MaxQty returns the per-order cap, or 0 when the offer has none.
func (o Offer) MaxQty() int {
	if o.MaxPerOrder == nil || *o.MaxPerOrder <= 0 {
		return 0
	}
	return *o.MaxPerOrder
}

// Catalog is the response payload of the catalog endpoint.
type Catalog struct {
	MerchantID string  `json:"merchantId"`
	Offers     []Offer `json:"offers"`
}

// Buyer identifies the paying customer.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Recipient identifies who receives the issued gift cards.
type Recipient struct {
	Email string `json:"email"`
}

// PurchaseItem is a single line of a purchase request.
type PurchaseItem struct {
	OfferID string `json:"offerId"`
	Qty     int    `json:"qty"`
}

// PurchaseRequest is the request body of the purchase endpoint.
type PurchaseRequest struct {
	MerchantID string         `json:"merchantId"`
	Buyer      Buyer          `json:"buyer"`
	Recipient  Recipient      `json:"recipient"`
	Items      []PurchaseItem `json:"items"`
}

// GiftCard is a single issued gift-card record.
type GiftCard struct {
	Code           string `json:"code"`
	OfferID        string `json:"offerId"`
	ValueMinor     int64  `json:"valueMinor"`
	Currency       string `json:"currency"`
	RecipientEmail string `json:"recipientEmail"`
}

// Order is the result of a successful purchase.
type Order struct {
	ID            string     `json:"id"`
	MerchantID    string     `json:"merchantId"`
	Currency      string     `json:"currency"`
	SubtotalMinor int64      `json:"subtotalMinor"`
	FeeMinor      int64      `json:"feeMinor"`
	TotalMinor    int64      `json:"totalMinor"`
	Buyer         Buyer      `json:"buyer"`
	GiftCards     []GiftCard `json:"giftCards"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// CheckoutForm holds the transient checkout inputs.
type CheckoutForm struct {
	BuyerName      string `json:"buyerName"`
	BuyerEmail     string `json:"buyerEmail"`
	RecipientEmail string `json:"recipientEmail"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
