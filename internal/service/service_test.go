package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/protomaps/go-pmtiles/pmtiles"
	"go.uber.org/goleak"

	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/styledata"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

func TestBuildEmbedded(t *testing.T) {
	b, err := LoadBuild("", "", nil)
	require.NoError(t, err)

	assert.Empty(t, b.Unresolved)
	assert.True(t, b.Report.OK(), "issues: %v", b.Report.Issues)
	assert.Len(t, b.Style.Catalogs, 2*len(b.Style.Modes.Names()))
	assert.Equal(t, []compose.Generation{compose.Explore, compose.Inspect}, b.Style.Generations())

	theme, ok := b.Style.Index.Theme("land_use")
	require.True(t, ok)
	assert.Equal(t, "base", theme)
	assert.Contains(t, b.Style.Index.Items("land_use"), "parks")
}

func copyData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.CopyFS(dir, styledata.Default()))
	return dir
}

func selection(s *StyleService) doc.Node {
	v, _ := s.Current().Style.Modes.Primitive("color", "selection")
	return v
}

func TestReloadKeepsBuildOnError(t *testing.T) {
	dir := copyData(t)
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	s, err := NewStyleService(StyleConfig{Dir: dir}, bus, nil)
	require.NoError(t, err)
	before := s.Current()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokens/modes/default.yaml"), []byte("{unclosed"), 0o644))
	assert.Error(t, s.Reload(context.Background()))
	assert.Same(t, before, s.Current())

	ev := <-ch
	assert.Equal(t, ResourceStyle, ev.Resource)
	assert.Equal(t, "failed", ev.Action)
}

func TestWatchReloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := copyData(t)
	s, err := NewStyleService(StyleConfig{Dir: dir, Debounce: 30 * time.Millisecond}, NewEventBus(), nil)
	require.NoError(t, err)
	assert.Equal(t, doc.Str("#FF00FF"), selection(s))

	reloaded := make(chan *Build, 4)
	s.OnReload(func(_ context.Context, b *Build) { reloaded <- b })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	colors := filepath.Join(dir, styledata.PrimitiveColors)
	data, err := os.ReadFile(colors)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte(`selection: "#FF00FF"`), []byte(`selection: "#00FFFF"`), 1)
	require.NoError(t, os.WriteFile(colors, data, 0o644))

	select {
	case b := <-reloaded:
		assert.Same(t, b, s.Current())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
	assert.Equal(t, doc.Str("#00FFFF"), selection(s))
	require.NoError(t, s.Close())
}

func TestStateApply(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	s := NewStateService(bus, []string{"parks", "water"}, compose.Mode{Generation: compose.Explore, Theme: "default"})

	c, _, err := s.Apply(StatePatch{Show: []string{"roads"}, Hide: []string{"parks"}})
	require.NoError(t, err)
	assert.Equal(t, ChangedItems, c)
	assert.Equal(t, []string{"roads", "water"}, s.Snapshot().Items)
	assert.Equal(t, ResourceState, (<-ch).Resource)

	c, _, err = s.Apply(StatePatch{Items: []string{"water", "roads"}})
	require.NoError(t, err)
	assert.Zero(t, c, "same set")

	c, _, err = s.Apply(StatePatch{Items: []string{}})
	require.NoError(t, err)
	assert.Equal(t, ChangedItems, c)
	assert.Empty(t, s.VisibleItems())

	dark, inspect, lang := "dark", compose.Inspect, "fr"
	c, _, err = s.Apply(StatePatch{Theme: &dark, Generation: &inspect, Language: &lang})
	require.NoError(t, err)
	assert.Equal(t, ChangedMode|ChangedLanguage, c)
	assert.True(t, c.Restyles())
	assert.Equal(t, compose.Mode{Generation: compose.Inspect, Theme: "dark"}, s.Mode())
	assert.Equal(t, "fr", s.Language())

	a := surface.FeatureRef{Source: "places", SourceLayer: "place", ID: "1"}
	c, prev, err := s.Apply(StatePatch{Active: &a})
	require.NoError(t, err)
	assert.Equal(t, ChangedActive, c)
	assert.False(t, c.Restyles())
	assert.Nil(t, prev)

	c, prev, err = s.Apply(StatePatch{ClearActive: true})
	require.NoError(t, err)
	assert.Equal(t, ChangedActive, c)
	assert.Equal(t, &a, prev)
	assert.Nil(t, s.Snapshot().Active)

	bad := compose.Generation("legacy")
	_, _, err = s.Apply(StatePatch{Generation: &bad})
	assert.ErrorIs(t, err, ErrInvalidPatch)
	_, _, err = s.Apply(StatePatch{Active: &a, ClearActive: true})
	assert.ErrorIs(t, err, ErrInvalidPatch)
}

func newMap(t *testing.T) (*MapService, *StateService) {
	t.Helper()
	bus := NewEventBus()
	styles, err := NewStyleService(StyleConfig{}, bus, nil)
	require.NoError(t, err)
	state := NewStateService(bus, styles.Current().Bundle.DefaultItems(), compose.Mode{Generation: compose.Explore, Theme: "default"})
	m := NewMapService(MapConfig{TilesURL: "https://tiles.example/"}, styles, state, bus, nil)
	require.NoError(t, m.Start(context.Background()))
	return m, state
}

func TestMapServiceLifecycle(t *testing.T) {
	m, _ := newMap(t)
	ctx := context.Background()

	mode, ok := m.Engine.Mounted()
	require.True(t, ok)
	assert.Equal(t, compose.Explore, mode.Generation)
	assert.Len(t, m.Surface.LayerIDs(), 20)
	assert.True(t, m.Surface.HasImage("marker"))

	src, ok := doc.Lookup(m.Surface.Style("explore"), []string{"sources", "base", "url"})
	require.True(t, ok)
	assert.Equal(t, doc.Str("pmtiles://https://tiles.example/2025-01-22.0/base.pmtiles"), src)

	park := "base-land_use-park-fill"
	v, _ := m.Surface.Layout(park, "visibility")
	assert.Equal(t, doc.Str("visible"), v)
	assert.Contains(t, m.VisibleTypes(), "land_use")

	_, err := m.Apply(ctx, StatePatch{Hide: []string{"parks"}})
	require.NoError(t, err)
	v, _ = m.Surface.Layout(park, "visibility")
	assert.Equal(t, doc.Str("none"), v)

	inspect := compose.Inspect
	_, err = m.Apply(ctx, StatePatch{Generation: &inspect})
	require.NoError(t, err)
	assert.False(t, m.Surface.HasLayer(park))
	mode, _ = m.Engine.Mounted()
	assert.Equal(t, compose.Inspect, mode.Generation)
}

func TestMapServiceHighlight(t *testing.T) {
	m, state := newMap(t)
	ctx := context.Background()

	a := surface.FeatureRef{Source: "places", SourceLayer: "place", ID: "a"}
	b := surface.FeatureRef{Source: "places", SourceLayer: "place", ID: "b"}

	_, err := m.Apply(ctx, StatePatch{Active: &a})
	require.NoError(t, err)
	st, err := m.Apply(ctx, StatePatch{Active: &b})
	require.NoError(t, err)
	assert.Equal(t, &b, st.Active)

	assert.Equal(t, []surface.FeatureRef{b}, m.Surface.Flagged("selected"))
	active, ok := m.Tracker.Active()
	require.True(t, ok)
	assert.Equal(t, b, active)

	_, err = m.Apply(ctx, StatePatch{ClearActive: true})
	require.NoError(t, err)
	assert.Empty(t, m.Surface.Flagged("selected"))
	assert.Nil(t, state.Snapshot().Active)
}

func TestTileServiceList(t *testing.T) {
	dir := t.TempDir()
	raw, err := pmtiles.SerializeMetadata(map[string]interface{}{
		"name":          "places",
		"vector_layers": []interface{}{map[string]interface{}{"id": "place", "maxzoom": 14}},
	}, pmtiles.Gzip)
	require.NoError(t, err)
	h := pmtiles.HeaderV3{
		MetadataOffset:      pmtiles.HeaderV3LenBytes,
		MetadataLength:      uint64(len(raw)),
		InternalCompression: pmtiles.Gzip,
		TileType:            pmtiles.Mvt,
		MaxZoom:             14,
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "places.pmtiles"), append(pmtiles.SerializeHeader(h), raw...), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pmtiles"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	files, err := NewTileService(dir).List()
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "broken", files[0].Source)
	assert.NotEmpty(t, files[0].Error)

	assert.Equal(t, "places", files[1].Source)
	assert.Empty(t, files[1].Error)
	assert.Equal(t, []string{"place"}, files[1].Layers)
	assert.Equal(t, uint8(14), files[1].MaxZoom)

	files, err = NewTileService(filepath.Join(dir, "missing")).List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "5.0 MB", formatSize(5<<20))
}
