package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"giftcard-overlay/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventCatalogServed is emitted when the local backend answers a catalog read.
	EventCatalogServed EventType = "catalog.served"
	// EventPurchaseCompleted is emitted after an order has been stored.
	EventPurchaseCompleted EventType = "purchase.completed"
	// EventPurchaseRejected is emitted when a purchase fails a business rule.
	EventPurchaseRejected EventType = "purchase.rejected"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// CatalogServedData contains data for catalog served events.
type CatalogServedData struct {
	MerchantID string
	Offers     int
}

// PurchaseCompletedData contains data for purchase completed events.
type PurchaseCompletedData struct {
	Order models.Order
}

// PurchaseRejectedData contains data for purchase rejected events.
type PurchaseRejectedData struct {
	MerchantID string
	Code       string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager fans events out to subscribed handlers.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish runs every handler of eventType on its own goroutine. Handlers get
// a context detached from the caller's cancellation.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	handlers := m.handlers[eventType]
	enabled := m.enabled
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	hctx := context.WithoutCancel(ctx)

	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.Warn("event handler failed",
					zap.String("event", string(eventType)),
					zap.Error(err),
				)
			}
		}(handler)
	}
}

// PublishCatalogServed publishes a catalog served event.
func (m *Manager) PublishCatalogServed(ctx context.Context, merchantID string, offers int) {
	m.Publish(ctx, EventCatalogServed, CatalogServedData{MerchantID: merchantID, Offers: offers})
}

// PublishPurchaseCompleted publishes a purchase completed event.
func (m *Manager) PublishPurchaseCompleted(ctx context.Context, order models.Order) {
	m.Publish(ctx, EventPurchaseCompleted, PurchaseCompletedData{Order: order})
}

// PublishPurchaseRejected publishes a purchase rejected event.
func (m *Manager) PublishPurchaseRejected(ctx context.Context, merchantID, code string) {
	m.Publish(ctx, EventPurchaseRejected, PurchaseRejectedData{MerchantID: merchantID, Code: code})
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
