// Package selection implements the cart: a mapping from offer id to a
// bounded positive quantity.
package selection

import (
	"strconv"
	"strings"

	"giftcard-overlay/internal/models"
)

// Item is one selected offer with its quantity.
type Item struct {
	OfferID string `json:"offerId"`
	Qty     int    `json:"qty"`
}

// Model holds the selection. Entries with quantity 0 are removed, never
// stored. A max of 0 or less means the offer has no per-order cap.
//
// Model is not safe for concurrent use; it is owned by the widget loop.
type Model struct {
	qty   map[string]int
	order []string
}

// New creates an empty selection.
func New() *Model {
	return &Model{qty: make(map[string]int)}
}

// Quantity returns the selected quantity for offerID (0 if absent).
func (m *Model) Quantity(offerID string) int {
	return m.qty[offerID]
}

// Increment adds one unit, clamped to max, and returns the new quantity.
func (m *Model) Increment(offerID string, max int) int {
	return m.set(offerID, m.qty[offerID]+1, max)
}

// Decrement removes one unit, floored at 0, and returns the new quantity.
func (m *Model) Decrement(offerID string) int {
	return m.set(offerID, m.qty[offerID]-1, 0)
}

// SetQuantity parses raw as a non-negative integer (invalid input is 0),
// clamps it to [0, max] and returns the stored quantity.
func (m *Model) SetQuantity(offerID, raw string, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = 0
	}
	return m.set(offerID, n, max)
}

func (m *Model) set(offerID string, n, max int) int {
	if n < 0 {
		n = 0
	}
	if max > 0 && n > max {
		n = max
	}

	if n == 0 {
		if _, ok := m.qty[offerID]; ok {
			delete(m.qty, offerID)
			for i, id := range m.order {
				if id == offerID {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
		}
		return 0
	}

	if _, ok := m.qty[offerID]; !ok {
		m.order = append(m.order, offerID)
	}
	m.qty[offerID] = n
	return n
}

// SelectedItems returns the selected offers in insertion order.
func (m *Model) SelectedItems() []Item {
	items := make([]Item, 0, len(m.order))
	for _, id := range m.order {
		items = append(items, Item{OfferID: id, Qty: m.qty[id]})
	}
	return items
}

// Count returns the total number of selected units.
func (m *Model) Count() int {
	total := 0
	for _, q := range m.qty {
		total += q
	}
	return total
}

// Empty reports whether nothing is selected.
func (m *Model) Empty() bool {
	return len(m.qty) == 0
}

// Subtotal sums qty × price over the selection. Ids with no matching offer
// contribute 0.
func (m *Model) Subtotal(offers []models.Offer) int64 {
	prices := make(map[string]int64, len(offers))
	for _, o := range offers {
		prices[o.ID] = o.PriceMinor
	}

	var total int64
	for id, q := range m.qty {
		total += int64(q) * prices[id]
	}
	return total
}
