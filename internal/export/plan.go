// Package export plans type-granularity data extracts for the visible map
// area: one read_parquet query per visible source-layer type over an
// Overture release.
package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/OvertureMaps/explore-site/internal/style/layers"
)

// MinZoom is the lowest zoom an extract may be planned at.
const MinZoom maptile.Zoom = 15

// DefaultBasePath is the public release bucket.
const DefaultBasePath = "s3://overturemaps-us-west-2/release"

var (
	ErrZoomTooLow  = errors.New("export: zoom too low")
	ErrUnknownType = errors.New("export: unknown type")
	ErrNoTypes     = errors.New("export: no visible types")
	ErrNoRelease   = errors.New("export: no release configured")
)

// Query reads one type within the plan's bounds.
type Query struct {
	Type     string `json:"type"`
	Theme    string `json:"theme"`
	Path     string `json:"path"`
	SQL      string `json:"sql"`
	Args     []any  `json:"args"`
	FileName string `json:"fileName"`
}

// Plan is the set of queries for one extract.
type Plan struct {
	Release string       `json:"release"`
	Bound   orb.Bound    `json:"bound"`
	Zoom    maptile.Zoom `json:"zoom"`
	Queries []Query      `json:"queries"`
}

// Planner builds plans against one release.
type Planner struct {
	BasePath string
	Release  string
	// Index maps types to their theme.
	Index   *layers.TypeIndex
	MinZoom maptile.Zoom
}

// Plan returns the queries for types within bound. Duplicate types collapse;
// queries are ordered by type.
func (p Planner) Plan(types []string, bound orb.Bound, zoom float64) (Plan, error) {
	minZoom := p.MinZoom
	if minZoom == 0 {
		minZoom = MinZoom
	}
	if zoom < float64(minZoom) {
		return Plan{}, fmt.Errorf("%w: %.1f < %d", ErrZoomTooLow, zoom, minZoom)
	}
	if len(types) == 0 {
		return Plan{}, ErrNoTypes
	}
	if strings.Trim(p.Release, "/ ") == "" {
		return Plan{}, ErrNoRelease
	}
	base := strings.TrimSuffix(p.BasePath, "/")
	if base == "" {
		base = DefaultBasePath
	}

	uniq := make(map[string]struct{}, len(types))
	for _, t := range types {
		uniq[t] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for t := range uniq {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	plan := Plan{Release: p.Release, Bound: bound, Zoom: maptile.Zoom(zoom)}
	center := bound.Center()
	for _, typ := range sorted {
		theme, ok := p.Index.Theme(typ)
		if !ok {
			return Plan{}, fmt.Errorf("%w: %s", ErrUnknownType, typ)
		}
		path := fmt.Sprintf("%s/%s/theme=%s/type=%s/*.parquet", base, p.Release, theme, typ)
		plan.Queries = append(plan.Queries, Query{
			Type:  typ,
			Theme: theme,
			Path:  path,
			SQL: fmt.Sprintf("SELECT * FROM read_parquet(%s, hive_partitioning = true) "+
				"WHERE bbox.xmin <= ? AND bbox.xmax >= ? AND bbox.ymin <= ? AND bbox.ymax >= ?", quote(path)),
			Args: []any{bound.Max.X(), bound.Min.X(), bound.Max.Y(), bound.Min.Y()},
			FileName: fmt.Sprintf("overture-%s-%s-%g-%g-%g.geojson",
				p.Release, typ, zoom, center.Lat(), center.Lon()),
		})
	}
	return plan, nil
}

func quote(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

// Count is the number of rows one query matches.
type Count struct {
	Type string `json:"type"`
	Rows int64  `json:"rows"`
}

// Runner executes plans on DuckDB.
type Runner struct {
	DB *sql.DB
}

// Count runs each query as a count, in plan order.
func (r Runner) Count(ctx context.Context, plan Plan) ([]Count, error) {
	out := make([]Count, 0, len(plan.Queries))
	for _, q := range plan.Queries {
		var n int64
		stmt := "SELECT count(*) FROM (" + q.SQL + ")"
		if err := r.DB.QueryRowContext(ctx, stmt, q.Args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", q.Type, err)
		}
		out = append(out, Count{Type: q.Type, Rows: n})
	}
	return out, nil
}
