// Package validate checks layer templates and resolved catalogs for
// authoring mistakes: bad ids, missing metadata, leftover token references,
// and source-layers, fields, zooms or filter values the tile schema does not
// have.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/tilemeta"
)

// Check names one rule.
type Check string

const (
	CheckID          Check = "id"
	CheckMetadata    Check = "metadata"
	CheckUnresolved  Check = "unresolved"
	CheckSourceLayer Check = "source-layer"
	CheckZoom        Check = "zoom"
	CheckField       Check = "field"
	CheckFilterValue Check = "filter-value"
)

// Issue is one failed check.
type Issue struct {
	Generation string `json:"generation,omitempty"`
	Layer      string `json:"layer"`
	Check      Check  `json:"check"`
	Message    string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s/%s: %s: %s", i.Generation, i.Layer, i.Check, i.Message)
}

// Report collects issues in the order found.
type Report struct {
	Issues []Issue `json:"issues"`
}

// OK reports whether no check failed.
func (r Report) OK() bool { return len(r.Issues) == 0 }

// By returns the issues of one check.
func (r Report) By(c Check) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Check == c {
			out = append(out, i)
		}
	}
	return out
}

func (r *Report) add(gen, layer string, c Check, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Generation: gen, Layer: layer, Check: c, Message: fmt.Sprintf(format, args...)})
}

// Merge appends other's issues.
func (r *Report) Merge(other Report) { r.Issues = append(r.Issues, other.Issues...) }

var passPattern = regexp.MustCompile(`^(geometry|labels|division-labels)$`)

// Rules selects the optional metadata checks.
type Rules struct {
	// RequirePass requires overture:pass on every sourced layer.
	RequirePass bool
	// RequireColor requires overture:color on geometry-pass layers other
	// than click buffers.
	RequireColor bool
}

// Validator runs the checks. A nil Schema skips the schema checks.
type Validator struct {
	Schema *tilemeta.Schema
	Rules  map[string]Rules
	// Allow lists fields known to exist in tiles although the archive
	// metadata omits them, keyed by "source:source-layer".
	Allow map[string][]string
}

// Templates checks ids and metadata of one generation's raw templates.
func (v Validator) Templates(gen string, templates []layers.Template) Report {
	var r Report
	seen := make(map[string]bool, len(templates))
	rules := v.Rules[gen]
	for _, t := range templates {
		switch {
		case strings.TrimSpace(t.ID) == "":
			r.add(gen, t.Path, CheckID, "empty id")
			continue
		case seen[t.ID]:
			r.add(gen, t.ID, CheckID, "duplicate id")
		}
		seen[t.ID] = true

		if t.Source == "" || t.SourceLayer == "" {
			continue
		}
		m := t.Meta()
		if m.Theme == "" {
			r.add(gen, t.ID, CheckMetadata, "missing %s", layers.MetaTheme)
		} else if m.Theme != t.Source {
			r.add(gen, t.ID, CheckMetadata, "%s %q does not match source %q", layers.MetaTheme, m.Theme, t.Source)
		}
		if m.Type == "" {
			r.add(gen, t.ID, CheckMetadata, "missing %s", layers.MetaType)
		} else if m.Type != t.SourceLayer {
			r.add(gen, t.ID, CheckMetadata, "%s %q does not match source-layer %q", layers.MetaType, m.Type, t.SourceLayer)
		}
		if m.Pass != "" || rules.RequirePass {
			if !passPattern.MatchString(m.Pass) {
				r.add(gen, t.ID, CheckMetadata, "%s %q is not geometry, labels or division-labels", layers.MetaPass, m.Pass)
			}
		}
		if rules.RequireColor && m.Pass == "geometry" && !strings.Contains(t.ID, "click-buffer") {
			if _, ok := t.Metadata.Get(layers.MetaColor); !ok {
				r.add(gen, t.ID, CheckMetadata, "missing %s", layers.MetaColor)
			}
		}
	}
	return r
}

// Catalog checks a resolved catalog for leftover references and, with a
// schema, against the tiles.
func (v Validator) Catalog(c *layers.Catalog) Report {
	var r Report
	gen := c.Generation()
	for _, spec := range c.Specs() {
		for _, part := range []doc.Node{spec.Filter, spec.Layout, spec.Paint, spec.Metadata} {
			for _, raw := range doc.Placeholders(part) {
				r.add(gen, spec.ID, CheckUnresolved, "unresolved reference %s", raw)
			}
		}
		if v.Schema != nil && spec.Source != "" && spec.SourceLayer != "" {
			v.schemaChecks(&r, gen, spec)
		}
	}
	return r
}

func (v Validator) schemaChecks(r *Report, gen string, spec layers.Spec) {
	key := spec.Source + ":" + spec.SourceLayer
	tl, ok := v.Schema.Lookup(spec.Source, spec.SourceLayer)
	if !ok {
		r.add(gen, spec.ID, CheckSourceLayer, "%s not in tile schema", key)
		return
	}
	if spec.MinZoom != nil && *spec.MinZoom < tl.MinZoom {
		r.add(gen, spec.ID, CheckZoom, "minzoom %g below tile minzoom %g", *spec.MinZoom, tl.MinZoom)
	}

	if len(tl.Fields) > 0 {
		allowed := make(map[string]bool)
		for _, f := range v.Allow[key] {
			allowed[f] = true
		}
		fields := make(map[string]struct{})
		FieldRefs(spec.Filter, fields)
		FieldRefs(spec.Paint, fields)
		FieldRefs(spec.Layout, fields)
		for _, f := range sortedKeys(fields) {
			if strings.HasPrefix(f, "$") || strings.HasPrefix(f, "@") || f == "geometry-type" {
				continue
			}
			if _, ok := tl.Fields[f]; !ok && !allowed[f] {
				r.add(gen, spec.ID, CheckField, "field %q not in %s", f, key)
			}
		}
	}

	enums := make(map[string]struct{})
	for _, vals := range tl.Values {
		for _, val := range vals {
			enums[val] = struct{}{}
		}
	}
	if len(enums) == 0 {
		return
	}
	used := make(map[string]struct{})
	FilterValues(spec.Filter, "subtype", used)
	FilterValues(spec.Filter, "class", used)
	for _, val := range sortedKeys(used) {
		if _, ok := enums[val]; !ok {
			r.add(gen, spec.ID, CheckFilterValue, "filter value %q not in %s enums", val, key)
		}
	}
}

// Coverage reports, per "source:source-layer" with enums, how many enum
// values some filter in the catalogs references.
func (v Validator) Coverage(catalogs ...*layers.Catalog) map[string][2]int {
	out := make(map[string][2]int)
	if v.Schema == nil {
		return out
	}
	for _, source := range v.Schema.SourceNames() {
		for name, tl := range v.Schema.Sources[source] {
			all := make(map[string]struct{})
			for _, vals := range tl.Values {
				for _, val := range vals {
					all[val] = struct{}{}
				}
			}
			if len(all) == 0 {
				continue
			}
			used := make(map[string]struct{})
			for _, c := range catalogs {
				for _, spec := range c.Specs() {
					if spec.Source != source || spec.SourceLayer != name {
						continue
					}
					FilterValues(spec.Filter, "subtype", used)
					FilterValues(spec.Filter, "class", used)
				}
			}
			n := 0
			for val := range used {
				if _, ok := all[val]; ok {
					n++
				}
			}
			out[source+":"+name] = [2]int{n, len(all)}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
