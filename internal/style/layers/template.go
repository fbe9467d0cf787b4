// Package layers holds draw-layer templates, resolves their token
// placeholders and keeps the per-generation catalogs built from them.
package layers

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// Metadata keys carried on the wire.
const (
	MetaTheme      = "overture:theme"
	MetaType       = "overture:type"
	MetaItem       = "overture:item"
	MetaSelectable = "overture:selectable"
	MetaPass       = "overture:pass"
	MetaColor      = "overture:color"
)

// Draw types understood by the rendering engine.
const (
	TypeBackground    = "background"
	TypeFill          = "fill"
	TypeLine          = "line"
	TypeCircle        = "circle"
	TypeSymbol        = "symbol"
	TypeFillExtrusion = "fill-extrusion"
	TypeHeatmap       = "heatmap"
	TypeRaster        = "raster"
)

var drawTypes = map[string]bool{
	TypeBackground: true, TypeFill: true, TypeLine: true, TypeCircle: true,
	TypeSymbol: true, TypeFillExtrusion: true, TypeHeatmap: true, TypeRaster: true,
}

var (
	// ErrMalformed marks an authoring error in a template. It is fatal to the
	// build that hit it.
	ErrMalformed = errors.New("malformed layer template")
	ErrDuplicate = errors.New("duplicate layer id")
)

// Template is one draw-layer definition before placeholder resolution.
type Template struct {
	ID          string
	Type        string
	Source      string
	SourceLayer string
	MinZoom     *float64
	MaxZoom     *float64
	Filter      doc.Node
	Layout      *doc.Mapping
	Paint       *doc.Mapping
	Metadata    *doc.Mapping

	// Path is the manifest entry the template was loaded from.
	Path string
}

// Spec is a resolved template. Specs are read-only once built.
type Spec struct {
	Template
}

// Meta is the typed view of a layer's metadata.
type Meta struct {
	Theme      string
	Type       string
	Item       string
	Pass       string
	Selectable bool
}

// Meta decodes the overture:* metadata keys. Selectable defaults to true.
func (t Template) Meta() Meta {
	m := Meta{Selectable: true}
	if t.Metadata == nil {
		return m
	}
	m.Theme = metaText(t.Metadata, MetaTheme)
	m.Type = metaText(t.Metadata, MetaType)
	m.Item = metaText(t.Metadata, MetaItem)
	m.Pass = metaText(t.Metadata, MetaPass)
	if v, ok := t.Metadata.Get(MetaSelectable); ok {
		if lit, ok := v.(doc.Literal); ok && lit.Value == false {
			m.Selectable = false
		}
	}
	return m
}

func metaText(m *doc.Mapping, key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	lit, ok := v.(doc.Literal)
	if !ok {
		return ""
	}
	s, _ := lit.Text()
	return s
}

// PaintValue returns the paint property key, if set.
func (t Template) PaintValue(key string) (doc.Node, bool) {
	return t.Paint.Get(key)
}

// LayoutValue returns the layout property key, if set.
func (t Template) LayoutValue(key string) (doc.Node, bool) {
	return t.Layout.Get(key)
}

// IDFromPath derives a layer id from its manifest path:
// "layers/explore/base/water/ocean/fill.yaml" -> "base-water-ocean-fill".
func IDFromPath(generation, p string) string {
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "layers/")
	if generation != "" {
		p = strings.TrimPrefix(p, generation+"/")
	}
	p = strings.TrimSuffix(p, path.Ext(p))
	return strings.ReplaceAll(p, "/", "-")
}

// TemplateFromNode decodes a layer document. The id is derived from the
// manifest path unless the document sets one.
func TemplateFromNode(generation, p string, n doc.Node) (Template, error) {
	m, ok := n.(*doc.Mapping)
	if !ok {
		return Template{}, fmt.Errorf("%s: %w: root must be a mapping, got %s", p, ErrMalformed, n.Kind())
	}
	t := Template{Path: p}

	var err error
	if t.ID, err = optText(m, "id"); err != nil {
		return Template{}, fmt.Errorf("%s: %w", p, err)
	}
	if t.ID == "" {
		t.ID = IDFromPath(generation, p)
	}
	if t.Type, err = optText(m, "type"); err != nil {
		return Template{}, fmt.Errorf("%s: %w", p, err)
	}
	if !drawTypes[t.Type] {
		return Template{}, fmt.Errorf("%s: %w: unknown layer type %q", p, ErrMalformed, t.Type)
	}
	if t.Source, err = optText(m, "source"); err != nil {
		return Template{}, fmt.Errorf("%s: %w", p, err)
	}
	if t.SourceLayer, err = optText(m, "source-layer"); err != nil {
		return Template{}, fmt.Errorf("%s: %w", p, err)
	}
	if t.MinZoom, err = optNumber(m, "minzoom"); err != nil {
		return Template{}, fmt.Errorf("%s: %w", p, err)
	}
	if t.MaxZoom, err = optNumber(m, "maxzoom"); err != nil {
		return Template{}, fmt.Errorf("%s: %w", p, err)
	}
	if f, ok := m.Get("filter"); ok {
		t.Filter = f
	}
	for _, f := range []struct {
		key string
		dst **doc.Mapping
	}{{"layout", &t.Layout}, {"paint", &t.Paint}, {"metadata", &t.Metadata}} {
		key, dst := f.key, f.dst
		v, ok := m.Get(key)
		if !ok {
			continue
		}
		mm, ok := v.(*doc.Mapping)
		if !ok {
			return Template{}, fmt.Errorf("%s: %w: %s must be a mapping", p, ErrMalformed, key)
		}
		*dst = mm
	}
	return t, nil
}

func optText(m *doc.Mapping, key string) (string, error) {
	v, ok := m.Get(key)
	if !ok {
		return "", nil
	}
	lit, ok := v.(doc.Literal)
	if ok {
		if s, ok := lit.Text(); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %s must be a string", ErrMalformed, key)
}

func optNumber(m *doc.Mapping, key string) (*float64, error) {
	v, ok := m.Get(key)
	if !ok {
		return nil, nil
	}
	if lit, ok := v.(doc.Literal); ok {
		if f, ok := lit.Number(); ok {
			return &f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be a number", ErrMalformed, key)
}

// Node renders the template as a MapLibre layer document.
func (t Template) Node() *doc.Mapping {
	m := doc.NewMapping().Set("id", doc.Str(t.ID)).Set("type", doc.Str(t.Type))
	if t.Metadata != nil {
		m.Set("metadata", t.Metadata)
	}
	if t.Source != "" {
		m.Set("source", doc.Str(t.Source))
	}
	if t.SourceLayer != "" {
		m.Set("source-layer", doc.Str(t.SourceLayer))
	}
	if t.MinZoom != nil {
		m.Set("minzoom", doc.Num(*t.MinZoom))
	}
	if t.MaxZoom != nil {
		m.Set("maxzoom", doc.Num(*t.MaxZoom))
	}
	if t.Filter != nil {
		m.Set("filter", t.Filter)
	}
	if t.Layout != nil {
		m.Set("layout", t.Layout)
	}
	if t.Paint != nil {
		m.Set("paint", t.Paint)
	}
	return m
}

func (t Template) MarshalJSON() ([]byte, error) { return t.Node().MarshalJSON() }
