// Package catalog memoizes the session's single catalog retrieval.
package catalog

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"giftcard-overlay/internal/models"
)

// Reader performs one remote catalog read.
type Reader interface {
	ReadCatalog(ctx context.Context, merchantID string) (*models.Catalog, error)
}

// Cache holds the active offers of one widget session. Once populated it is
// never invalidated; failures are not cached.
type Cache struct {
	reader     Reader
	merchantID string
	logger     *zap.Logger

	group singleflight.Group

	mu     sync.RWMutex
	offers []models.Offer
	loaded bool
}

// NewCache creates an empty cache for merchantID.
func NewCache(reader Reader, merchantID string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{reader: reader, merchantID: merchantID, logger: logger}
}

// FetchOffersOnce returns the cached offers, or performs the catalog read.
// Callers arriving while a read is in flight share its outcome.
func (c *Cache) FetchOffersOnce(ctx context.Context) ([]models.Offer, error) {
	if offers, ok := c.Offers(); ok {
		return offers, nil
	}

	v, err, shared := c.group.Do("catalog", func() (any, error) {
		if offers, ok := c.Offers(); ok {
			return offers, nil
		}

		catalog, err := c.reader.ReadCatalog(ctx, c.merchantID)
		if err != nil {
			return nil, err
		}

		active := make([]models.Offer, 0, len(catalog.Offers))
		for _, o := range catalog.Offers {
			if o.Active {
				active = append(active, o)
			}
		}

		c.mu.Lock()
		c.offers = active
		c.loaded = true
		c.mu.Unlock()

		c.logger.Debug("catalog cached",
			zap.String("merchant_id", c.merchantID),
			zap.Int("offers", len(active)),
			zap.Int("inactive_dropped", len(catalog.Offers)-len(active)),
		)
		return active, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("catalog read shared with in-flight caller")
	}

	return clone(v.([]models.Offer)), nil
}

// Offers returns a copy of the cached offers and whether the cache is
// populated.
func (c *Cache) Offers() ([]models.Offer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return nil, false
	}
	return clone(c.offers), true
}

func clone(offers []models.Offer) []models.Offer {
	out := make([]models.Offer, len(offers))
	copy(out, offers)
	return out
}
