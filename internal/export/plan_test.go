package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OvertureMaps/explore-site/internal/db"
	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
)

func index(t *testing.T) *layers.TypeIndex {
	t.Helper()
	var specs []layers.Spec
	for _, meta := range []struct{ theme, typ, item string }{
		{"base", "water", "ocean"},
		{"base", "land_use", "parks"},
		{"places", "place", "restaurants"},
	} {
		specs = append(specs, layers.Spec{Template: layers.Template{
			ID:   meta.typ + "-" + meta.item,
			Type: layers.TypeFill,
			Metadata: doc.NewMapping().
				Set(layers.MetaTheme, doc.Str(meta.theme)).
				Set(layers.MetaType, doc.Str(meta.typ)).
				Set(layers.MetaItem, doc.Str(meta.item)),
		}})
	}
	c, err := layers.NewCatalog("explore", specs)
	require.NoError(t, err)
	return layers.NewTypeIndex(c)
}

var bound = orb.Bound{Min: orb.Point{-74.0, 40.7}, Max: orb.Point{-73.9, 40.8}}

func TestPlan(t *testing.T) {
	p := Planner{Release: "2025-01-22.0", Index: index(t)}
	plan, err := p.Plan([]string{"water", "place", "water"}, bound, 16)
	require.NoError(t, err)

	require.Len(t, plan.Queries, 2)
	q := plan.Queries[0]
	assert.Equal(t, "place", q.Type)
	assert.Equal(t, "places", q.Theme)
	assert.Equal(t, DefaultBasePath+"/2025-01-22.0/theme=places/type=place/*.parquet", q.Path)
	assert.Contains(t, q.SQL, "read_parquet('"+q.Path+"', hive_partitioning = true)")
	assert.Equal(t, []any{-73.9, -74.0, 40.8, 40.7}, q.Args)
	c := bound.Center()
	assert.Equal(t, fmt.Sprintf("overture-2025-01-22.0-place-16-%g-%g.geojson", c.Lat(), c.Lon()), q.FileName)
	assert.Equal(t, "water", plan.Queries[1].Type)
}

func TestPlanRejects(t *testing.T) {
	p := Planner{Release: "r", Index: index(t)}

	_, err := p.Plan([]string{"water"}, bound, 14.9)
	assert.ErrorIs(t, err, ErrZoomTooLow)

	_, err = p.Plan(nil, bound, 15)
	assert.ErrorIs(t, err, ErrNoTypes)

	_, err = p.Plan([]string{"segment"}, bound, 15)
	assert.ErrorIs(t, err, ErrUnknownType)

	p.MinZoom = 10
	_, err = p.Plan([]string{"water"}, bound, 12)
	assert.NoError(t, err)

	p.Release = ""
	_, err = p.Plan([]string{"water"}, bound, 16)
	assert.ErrorIs(t, err, ErrNoRelease, "an empty release would yield a base//theme= path")
}

func TestRunnerCount(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "r", "theme=base", "type=water")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	conn, err := db.Open(db.Config{Extensions: []string{}})
	require.NoError(t, err)
	defer conn.Close()

	file := filepath.Join(dir, "part-0.parquet")
	_, err = conn.Exec(fmt.Sprintf(`COPY (
		SELECT * FROM (VALUES
			('inside', {'xmin': -73.95, 'xmax': -73.94, 'ymin': 40.75, 'ymax': 40.76}),
			('outside', {'xmin': 2.0, 'xmax': 2.1, 'ymin': 48.0, 'ymax': 48.1})
		) AS t(id, bbox)
	) TO '%s' (FORMAT PARQUET)`, file))
	require.NoError(t, err)

	p := Planner{BasePath: base, Release: "r", Index: index(t)}
	plan, err := p.Plan([]string{"water"}, bound, 16)
	require.NoError(t, err)

	counts, err := Runner{DB: conn}.Count(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []Count{{Type: "water", Rows: 1}}, counts)
}
