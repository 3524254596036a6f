// Package service implements the relay's built-in demo backend for the
// catalog and purchase endpoints.
package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/events"
	"giftcard-overlay/internal/models"
	"giftcard-overlay/internal/validation"
)

// MaxUnitsPerOrder bounds the number of gift cards issued by one purchase.
const MaxUnitsPerOrder = 100

// Error is a failure reported to the caller as {"error": Code} with Status.
// Business rejections use status 200, as the upstream backend does.
type Error struct {
	Code   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func reject(code string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: http.StatusOK, Err: fmt.Errorf(format, args...)}
}

// Store is the persistence the service needs.
type Store interface {
	ListOffers(ctx context.Context, merchantID string) ([]models.Offer, error)
	InsertOrder(ctx context.Context, order models.Order, recipientEmail string) error
}

// Service provides the business logic of the local backend.
type Service struct {
	store  Store
	events *events.Manager
	feeBPS int64
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new service instance. feeBPS is the service fee in
// basis points of the subtotal.
func NewService(store Store, ev *events.Manager, feeBPS int64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ev == nil {
		ev = events.NewManager(false, logger)
	}
	return &Service{
		store:  store,
		events: ev,
		feeBPS: feeBPS,
		logger: logger,
		now:    time.Now,
	}
}

// GetCatalog returns every stored offer of a merchant. Inactive offers are
// included; consumers filter them.
func (s *Service) GetCatalog(ctx context.Context, merchantID string) (*models.Catalog, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, &Error{Code: errcode.MerchantRequired, Status: http.StatusBadRequest}
	}

	offers, err := s.store.ListOffers(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}

	s.events.PublishCatalogServed(ctx, merchantID, len(offers))
	return &models.Catalog{MerchantID: merchantID, Offers: offers}, nil
}

// Purchase prices and stores an order, issuing one gift card per unit.
func (s *Service) Purchase(ctx context.Context, req models.PurchaseRequest) (*models.Order, error) {
	if code, err := validation.ValidatePurchaseRequest(req); err != nil {
		return nil, &Error{Code: code, Status: http.StatusBadRequest, Err: err}
	}

	order, err := s.price(ctx, req)
	if err != nil {
		if se, ok := err.(*Error); ok {
			s.logger.Info("purchase rejected",
				zap.String("merchant_id", req.MerchantID),
				zap.String("code", se.Code),
				zap.Error(se.Err),
			)
			s.events.PublishPurchaseRejected(ctx, req.MerchantID, se.Code)
		}
		return nil, err
	}

	if err := s.store.InsertOrder(ctx, *order, req.Recipient.Email); err != nil {
		return nil, fmt.Errorf("failed to store order: %w", err)
	}

	s.logger.Info("purchase completed",
		zap.String("merchant_id", order.MerchantID),
		zap.String("order_id", order.ID),
		zap.Int64("total_minor", order.TotalMinor),
		zap.Int("gift_cards", len(order.GiftCards)),
	)
	s.events.PublishPurchaseCompleted(ctx, *order)
	return order, nil
}

func (s *Service) price(ctx context.Context, req models.PurchaseRequest) (*models.Order, error) {
	offers, err := s.store.ListOffers(ctx, req.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	byID := make(map[string]models.Offer, len(offers))
	for _, o := range offers {
		byID[o.ID] = o
	}

	// Quantities are summed per offer so that split lines cannot bypass a cap.
	qty := make(map[string]int)
	var order []string
	units := 0
	for _, item := range req.Items {
		offer, ok := byID[item.OfferID]
		if !ok || !offer.Active {
			return nil, reject(errcode.OfferNotFound, "offer %s is not available", item.OfferID)
		}
		// Checked before adding so huge quantities cannot wrap the totals.
		if item.Qty > MaxUnitsPerOrder-units {
			return nil, reject(errcode.QtyLimit, "order exceeds the limit of %d units", MaxUnitsPerOrder)
		}
		if _, seen := qty[item.OfferID]; !seen {
			order = append(order, item.OfferID)
		}
		qty[item.OfferID] += item.Qty
		units += item.Qty
	}

	currency := byID[order[0]].Currency
	var subtotal int64
	for _, id := range order {
		offer := byID[id]
		if max := offer.MaxQty(); max > 0 && qty[id] > max {
			return nil, reject(errcode.QtyLimit, "offer %s allows at most %d per order", id, max)
		}
		if offer.Currency != currency {
			return nil, reject(errcode.CurrencyMismatch, "offer %s is priced in %s, not %s", id, offer.Currency, currency)
		}
		subtotal += int64(qty[id]) * offer.PriceMinor
	}
	fee := subtotal * s.feeBPS / 10000

	result := &models.Order{
		ID:            "ord_" + uuid.NewString(),
		MerchantID:    req.MerchantID,
		Currency:      currency,
		SubtotalMinor: subtotal,
		FeeMinor:      fee,
		TotalMinor:    subtotal + fee,
		Buyer: models.Buyer{
			Name:  validation.SanitizeString(req.Buyer.Name),
			Email: strings.TrimSpace(req.Buyer.Email),
		},
		GiftCards: make([]models.GiftCard, 0, units),
		CreatedAt: s.now().UTC(),
	}
	recipient := strings.TrimSpace(req.Recipient.Email)
	for _, id := range order {
		offer := byID[id]
		for i := 0; i < qty[id]; i++ {
			result.GiftCards = append(result.GiftCards, models.GiftCard{
				Code:           GiftCardCode(uuid.New()),
				OfferID:        id,
				ValueMinor:     offer.PriceMinor,
				Currency:       offer.Currency,
				RecipientEmail: recipient,
			})
		}
	}
	return result, nil
}

// GiftCardCode formats the first 64 bits of id as XXXX-XXXX-XXXX-XXXX.
func GiftCardCode(id uuid.UUID) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:16]
	return hex[0:4] + "-" + hex[4:8] + "-" + hex[8:12] + "-" + hex[12:16]
}
