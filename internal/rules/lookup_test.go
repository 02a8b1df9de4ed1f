package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapLookup(t *testing.T) {
	m := MapLookup{
		"name":     "Ana",
		"contact":  map[string]any{"phone": "5511"},
		"a.b":      "literal key",
		"settings": map[string]string{"lang": "pt"},
	}

	v, ok := m.Lookup("name")
	assert.True(t, ok)
	assert.Equal(t, "Ana", v)

	v, ok = m.Lookup("vars.name")
	assert.True(t, ok)
	assert.Equal(t, "Ana", v)

	v, ok = m.Lookup("contact.phone")
	assert.True(t, ok)
	assert.Equal(t, "5511", v)

	v, ok = m.Lookup("a.b")
	assert.True(t, ok)
	assert.Equal(t, "literal key", v)

	v, ok = m.Lookup("settings.lang")
	assert.True(t, ok)
	assert.Equal(t, "pt", v)

	_, ok = m.Lookup("contact.email")
	assert.False(t, ok)
}

func TestChainFirstHitWins(t *testing.T) {
	c := Chain{MapLookup{"a": "first"}, nil, MapLookup{"a": "second", "b": "only"}}

	v, _ := c.Lookup("a")
	assert.Equal(t, "first", v)
	v, _ = c.Lookup("b")
	assert.Equal(t, "only", v)
	_, ok := c.Lookup("z")
	assert.False(t, ok)
}

func TestInterpolate(t *testing.T) {
	vars := MapLookup{"name": "Ana", "order": map[string]any{"id": float64(42)}}

	assert.Equal(t, "Olá Ana, pedido 42", Interpolate("Olá {{name}}, pedido {{ order.id }}", vars))
	assert.Equal(t, "Olá Ana", Interpolate("Olá {{vars.name}}", vars))
	assert.Equal(t, "Olá !", Interpolate("Olá {{unknown}}!", vars))
	assert.Equal(t, "no placeholders", Interpolate("no placeholders", nil))
}
