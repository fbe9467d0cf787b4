package highlight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OvertureMaps/explore-site/internal/style/expr"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

func ref(id string) *surface.FeatureRef {
	return &surface.FeatureRef{Source: "places", SourceLayer: "place", ID: id}
}

func TestSetActive(t *testing.T) {
	mem := surface.NewMemory()
	tr := NewTracker(mem, nil)

	require.NoError(t, tr.SetActive(ref("a"), nil))
	assert.Equal(t, []surface.FeatureRef{*ref("a")}, mem.Flagged(expr.SelectedState))

	require.NoError(t, tr.SetActive(ref("b"), ref("a")))
	assert.Equal(t, []surface.FeatureRef{*ref("b")}, mem.Flagged(expr.SelectedState))

	require.NoError(t, tr.SetActive(nil, ref("b")))
	assert.Empty(t, mem.Flagged(expr.SelectedState))
	_, ok := tr.Active()
	assert.False(t, ok)
}

func TestSetActiveSameFeatureIsNoop(t *testing.T) {
	mem := surface.NewMemory()
	tr := NewTracker(mem, nil)
	require.NoError(t, tr.Set(ref("a")))

	var ops []surface.Op
	mem.OnOp(func(op surface.Op) { ops = append(ops, op) })
	require.NoError(t, tr.SetActive(ref("a"), ref("a")))
	assert.Empty(t, ops)
	assert.Equal(t, []surface.FeatureRef{*ref("a")}, mem.Flagged(expr.SelectedState))
}

func TestClearingVanishedFeature(t *testing.T) {
	mem := surface.NewMemory()
	tr := NewTracker(mem, nil)
	// prev was never marked on this surface
	require.NoError(t, tr.SetActive(ref("b"), ref("gone")))
	assert.Equal(t, []surface.FeatureRef{*ref("b")}, mem.Flagged(expr.SelectedState))
}

func TestRapidSelectionsKeepOneSelected(t *testing.T) {
	mem := surface.NewMemory()
	tr := NewTracker(mem, nil)

	for _, id := range []string{"a", "b", "a", "c", "c", "b"} {
		require.NoError(t, tr.Set(ref(id)))
		assert.Len(t, mem.Flagged(expr.SelectedState), 1)
	}
	active, ok := tr.Active()
	require.True(t, ok)
	assert.Equal(t, "b", active.ID)

	// a caller holding a stale previous ref still cannot leave two selected
	require.NoError(t, tr.SetActive(ref("d"), ref("a")))
	assert.Equal(t, []surface.FeatureRef{*ref("d")}, mem.Flagged(expr.SelectedState))

	require.NoError(t, tr.Clear())
	assert.Empty(t, mem.Flagged(expr.SelectedState))
}
