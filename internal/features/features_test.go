package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager(t *testing.T) {
	m := NewManager()
	assert.False(t, m.IsEnabled(CatalogCache), "unknown flags are disabled")

	m.Register(EventHooks, true, "event hooks")
	m.Register(CatalogCache, false, "catalog cache")
	assert.True(t, m.IsEnabled(EventHooks))
	assert.False(t, m.IsEnabled(CatalogCache))

	m.Enable(CatalogCache)
	m.Disable(EventHooks)
	m.Enable("missing")
	assert.True(t, m.IsEnabled(CatalogCache))
	assert.False(t, m.IsEnabled(EventHooks))
	assert.False(t, m.IsEnabled("missing"))

	list := m.List()
	if assert.Len(t, list, 2) {
		assert.Equal(t, CatalogCache, list[0].Name)
		assert.Equal(t, EventHooks, list[1].Name)
	}

	list[0].Enabled = false
	assert.True(t, m.IsEnabled(CatalogCache), "List returns copies")
}
