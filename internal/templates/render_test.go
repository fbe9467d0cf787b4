package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/styledata"
)

func TestRenderItems(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	html, err := r.Render("items", ItemsData{
		Groups: []styledata.Group{{Theme: "base", Label: "Base", Items: []styledata.Item{
			{ID: "parks", Label: "Parks"},
			{ID: "water", Label: "Water"},
		}}},
		Visible: layers.NewItemSet("water"),
	})
	require.NoError(t, err)
	assert.Contains(t, html, `<legend>Base</legend>`)
	assert.Contains(t, html, `id="item-water" checked`)
	assert.NotContains(t, html, `id="item-parks" checked`)
}

func TestRenderUnknown(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	_, err = r.Render("nope", nil)
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mode.html"), []byte(`{{define "mode"}}{{.Theme}}!{{end}}`), 0o644))
	require.NoError(t, r.Reload(dir))

	out, err := r.Render("mode", map[string]string{"Theme": "dark"})
	require.NoError(t, err)
	assert.Equal(t, "dark!", out)
}
