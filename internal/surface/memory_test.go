package surface

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

func layer(id string) Layer {
	return Layer{ID: id, Def: doc.NewMapping().Set("type", doc.Str("fill"))}
}

func TestMemoryLayerOrder(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AddLayer(layer("a"), ""))
	require.NoError(t, m.AddLayer(layer("c"), ""))
	require.NoError(t, m.AddLayer(layer("b"), "c"))
	require.NoError(t, m.AddLayer(layer("d"), "missing"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, m.LayerIDs())

	assert.ErrorIs(t, m.AddLayer(layer("a"), ""), ErrLayerExists)

	require.NoError(t, m.RemoveLayer("b"))
	assert.Equal(t, []string{"a", "c", "d"}, m.LayerIDs())
	assert.ErrorIs(t, m.RemoveLayer("b"), ErrLayerNotFound)
	assert.False(t, m.HasLayer("b"))
}

func TestMemoryProperties(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AddLayer(layer("a"), ""))

	require.NoError(t, m.SetPaintProperty("a", "fill-color", doc.Str("#fff")))
	require.NoError(t, m.SetLayoutProperty("a", "visibility", doc.Str("none")))

	v, ok := m.Paint("a", "fill-color")
	require.True(t, ok)
	assert.Equal(t, doc.Str("#fff"), v)
	v, ok = m.Layout("a", "visibility")
	require.True(t, ok)
	assert.Equal(t, doc.Str("none"), v)

	require.NoError(t, m.SetPaintProperty("a", "fill-color", doc.Null()))
	_, ok = m.Paint("a", "fill-color")
	assert.False(t, ok)

	assert.ErrorIs(t, m.SetPaintProperty("gone", "fill-color", doc.Str("#000")), ErrLayerNotFound)
}

func TestMemoryFeatureState(t *testing.T) {
	m := NewMemory()
	ref := FeatureRef{Source: "places", SourceLayer: "place", ID: "1"}

	require.NoError(t, m.RemoveFeatureState(ref), "unknown feature")
	require.NoError(t, m.SetFeatureState(ref, map[string]any{"selected": true}))
	assert.Equal(t, []FeatureRef{ref}, m.Flagged("selected"))

	require.NoError(t, m.RemoveFeatureState(ref))
	assert.Empty(t, m.Flagged("selected"))
	assert.Nil(t, m.FeatureState(ref))
}

func TestMemoryStyleAndOps(t *testing.T) {
	m := NewMemory()
	var ops []Op
	m.OnOp(func(op Op) { ops = append(ops, op) })

	require.NoError(t, m.AddSource("base", Source{Type: "vector", URL: "pmtiles://base.pmtiles"}))
	require.NoError(t, m.AddLayer(layer("water"), ""))
	require.NoError(t, m.SetPaintProperty("water", "fill-color", doc.Str("#00f")))
	require.NoError(t, m.AddImage("park", Image{Width: 25, Height: 25}))
	assert.True(t, m.HasImage("park"))
	assert.True(t, m.HasSource("base"))

	kinds := make([]OpKind, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind
	}
	assert.Equal(t, []OpKind{OpAddSource, OpAddLayer, OpSetPaint, OpAddImage}, kinds)

	out, err := json.Marshal(m.Style("explore"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 8,
		"name": "explore",
		"sources": {"base": {"type": "vector", "url": "pmtiles://base.pmtiles"}},
		"layers": [{"type": "fill", "id": "water", "paint": {"fill-color": "#00f"}}]
	}`, string(out))
}
