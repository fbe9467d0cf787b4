// Package compose mounts resolved layer catalogs onto a rendering surface and
// keeps them in step with the visible item set, mode and language.
package compose

import (
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/expr"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/style/tokens"
)

// Generation names a mutually exclusive layer catalog.
type Generation string

const (
	Explore Generation = "explore"
	Inspect Generation = "inspect"
)

// Mode selects the catalog generation and the token mode (theme) it is
// resolved with.
type Mode struct {
	Generation Generation `json:"generation" enum:"explore,inspect" doc:"Layer catalog generation"`
	Theme      string     `json:"theme" doc:"Token mode, e.g. default, dark, globe"`
}

// State is the externally owned UI state. The engine reads it at the moment
// it computes paint, never earlier.
type State interface {
	VisibleItems() layers.ItemSet
	Mode() Mode
	Language() string
}

// Style is the resolved, read-only input to the engine.
type Style struct {
	Modes    *tokens.Modes
	Catalogs map[Mode]*layers.Catalog
	Index    *layers.TypeIndex
}

// Catalog returns the catalog for mode, falling back to the generation's
// default-theme catalog.
func (s *Style) Catalog(mode Mode) (*layers.Catalog, bool) {
	if c, ok := s.Catalogs[mode]; ok {
		return c, true
	}
	c, ok := s.Catalogs[Mode{Generation: mode.Generation, Theme: tokens.DefaultMode}]
	return c, ok
}

// Generations lists the generations that have a catalog.
func (s *Style) Generations() []Generation {
	seen := make(map[Generation]bool)
	for m := range s.Catalogs {
		seen[m.Generation] = true
	}
	var out []Generation
	for _, g := range []Generation{Explore, Inspect} {
		if seen[g] {
			out = append(out, g)
		}
	}
	return out
}

var colorProperty = map[string]string{
	layers.TypeCircle:        "circle-color",
	layers.TypeLine:          "line-color",
	layers.TypeFill:          "fill-color",
	layers.TypeFillExtrusion: "fill-extrusion-color",
}

var colorTokenKey = map[string]string{
	layers.TypeCircle:        "circle",
	layers.TypeLine:          "line",
	layers.TypeFill:          "fill",
	layers.TypeFillExtrusion: "fillExtrusion",
}

const (
	clickBuffer         = "click-buffer"
	defaultHighlight    = "white"
	extrusionOpacity    = 0.15
	fallbackLabelField  = "@name"
	visibilityProperty  = "visibility"
	outlineLayerSuffix  = "-outline"
	textFieldProperty   = "text-field"
	fillOutlineProperty = "fill-outline-color"
)

// View is the state snapshot one styling pass is computed from.
type View struct {
	Items    layers.ItemSet
	Language string
	mask     *roaring.Bitmap
}

// Styled is the full runtime layout and paint for one spec.
type Styled struct {
	Visible bool
	Layout  *doc.Mapping
	Paint   *doc.Mapping
}

// Styler derives runtime properties from a spec and the current view.
type Styler struct {
	modes     *tokens.Modes
	theme     string
	index     *layers.TypeIndex
	highlight doc.Node
}

// NewStyler binds a styler to one token mode.
func NewStyler(style *Style, theme string) *Styler {
	s := &Styler{modes: style.Modes, theme: theme, index: style.Index, highlight: doc.Str(defaultHighlight)}
	if style.Modes != nil {
		if v, ok := style.Modes.Primitive("color", "selection"); ok && !isNull(v) {
			s.highlight = v
		}
	}
	return s
}

// View snapshots items and language.
func (s *Styler) View(items layers.ItemSet, language string) View {
	v := View{Items: items, Language: language}
	if s.index != nil {
		v.mask = s.index.Mask(items)
	}
	return v
}

// Visible applies the visibility rule: item tag, else type tag through the
// type index, else always.
func (s *Styler) Visible(spec layers.Spec, v View) bool {
	m := spec.Meta()
	switch {
	case m.Item != "":
		return v.Items.Has(m.Item)
	case m.Type != "":
		if s.index == nil {
			return false
		}
		if v.mask == nil {
			return s.index.Visible(m.Type, v.Items)
		}
		return s.index.TypeVisible(m.Type, v.mask)
	}
	return true
}

func (s *Styler) layerTokens(m layers.Meta) *doc.Mapping {
	if s.modes == nil || m.Theme == "" || m.Type == "" {
		return nil
	}
	t, _ := s.modes.LayerTokens(s.theme, m.Theme, m.Type)
	return t
}

func tokenColor(t *doc.Mapping, key string) doc.Node {
	if t == nil || key == "" {
		return nil
	}
	v, ok := doc.Lookup(t, []string{"color", key})
	if !ok || isNull(v) {
		return nil
	}
	return v
}

// Apply computes the runtime layout and paint of spec. The spec itself is
// not modified.
func (s *Styler) Apply(spec layers.Spec, v View) Styled {
	m := spec.Meta()
	toks := s.layerTokens(m)
	base := tokenColor(toks, colorTokenKey[spec.Type])
	buffer := strings.Contains(spec.ID, clickBuffer)

	out := Styled{
		Visible: s.Visible(spec, v),
		Layout:  cloneOrNew(spec.Layout),
		Paint:   cloneOrNew(spec.Paint),
	}
	vis := "none"
	if out.Visible {
		vis = "visible"
	}
	out.Layout.Set(visibilityProperty, doc.Str(vis))

	if prop, ok := colorProperty[spec.Type]; ok && isSimpleColor(base) && !buffer && m.Selectable {
		effective := base
		if own, ok := spec.PaintValue(prop); ok && !isNull(own) {
			effective = own
		}
		// zoom expressions must stay at the top level of a paint property;
		// legacy function objects ({stops: ...}) cannot be nested at all
		if _, function := effective.(*doc.Mapping); !function && !expr.ContainsZoom(effective) {
			out.Paint.Set(prop, expr.SelectionCase(effective, s.highlight))
		}
	}

	if spec.Type == layers.TypeFill && !buffer {
		if c := tokenColor(toks, "fillOutline"); c != nil && !hasValue(spec.Paint, fillOutlineProperty) {
			out.Paint.Set(fillOutlineProperty, c)
		}
	}

	if spec.Type == layers.TypeSymbol {
		if c := tokenColor(toks, "text"); c != nil && !hasValue(spec.Paint, "text-color") {
			out.Paint.Set("text-color", c)
		}
		if c := tokenColor(toks, "textHalo"); c != nil && !hasValue(spec.Paint, "text-halo-color") {
			out.Paint.Set("text-halo-color", c)
		}
		if v.Language != "" && hasValue(spec.Layout, textFieldProperty) {
			out.Layout.Set(textFieldProperty, expr.LocalizedName(v.Language, fallbackLabelField))
		}
	}

	if spec.Type == layers.TypeCircle && base != nil {
		out.Paint.Set("circle-opacity", doc.Num(1))
	}

	if spec.Type == layers.TypeFillExtrusion && base != nil && !hasValue(spec.Paint, "fill-extrusion-opacity") {
		out.Paint.Set("fill-extrusion-opacity", doc.Num(extrusionOpacity))
	}

	if spec.Type == layers.TypeLine && strings.Contains(spec.ID, outlineLayerSuffix) && !buffer {
		out.Paint.Set("line-width", expr.ZoomInterpolate(12, 1, 13, 2))
	}
	return out
}

// isSimpleColor is true for a color string or expression; structured token
// colors (e.g. shallow/deep pairs) are left to the spec.
func isSimpleColor(n doc.Node) bool {
	switch t := n.(type) {
	case doc.Literal:
		_, ok := t.Text()
		return ok
	case doc.Sequence:
		return true
	}
	return false
}

func hasValue(m *doc.Mapping, key string) bool {
	v, ok := m.Get(key)
	return ok && !isNull(v)
}

func isNull(n doc.Node) bool {
	if n == nil {
		return true
	}
	lit, ok := n.(doc.Literal)
	return ok && lit.Value == nil
}

func cloneOrNew(m *doc.Mapping) *doc.Mapping {
	if m == nil {
		return doc.NewMapping()
	}
	return doc.CloneMapping(m)
}
