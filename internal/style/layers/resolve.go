package layers

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/expr"
	"github.com/OvertureMaps/explore-site/internal/style/tokens"
)

// Resolver substitutes template placeholders from one composed mode.
//
// Three placeholder forms are understood:
//
//	$primitives.<path> / $globals.<path>   primitive store
//	$<theme>.<type>.<path>                 resolved mode tree
//	$extract:<column>.<key>                derived-value expression
type Resolver struct {
	Primitives *doc.Mapping
	Tree       *doc.Mapping
}

// NewResolver binds a resolver to mode of modes, falling back to the default
// mode when mode is unknown.
func NewResolver(modes *tokens.Modes, mode string) Resolver {
	return Resolver{Primitives: modes.Primitives(), Tree: modes.TreeOrDefault(mode)}
}

// Resolve returns the resolved spec plus every placeholder left in place.
// A substitution whose value cannot occupy its slot fails with ErrMalformed.
func (r Resolver) Resolve(t Template) (Spec, []string, error) {
	w := &specWalker{r: r, id: t.ID}
	out := t

	var err error
	if t.Filter != nil {
		if out.Filter, err = w.walk(t.Filter, slotExpression); err != nil {
			return Spec{}, nil, err
		}
	}
	if out.Paint, err = w.properties(t.Paint); err != nil {
		return Spec{}, nil, err
	}
	if out.Layout, err = w.properties(t.Layout); err != nil {
		return Spec{}, nil, err
	}
	if t.Metadata != nil {
		md, err := w.walk(t.Metadata, slotAny)
		if err != nil {
			return Spec{}, nil, err
		}
		out.Metadata = md.(*doc.Mapping)
	}
	return Spec{Template: out}, w.missing, nil
}

type slot int

const (
	slotAny slot = iota
	slotExpression
	slotColor
)

func slotFor(key string) slot {
	if strings.HasSuffix(key, "-color") {
		return slotColor
	}
	return slotExpression
}

type specWalker struct {
	r       Resolver
	id      string
	missing []string
}

func (w *specWalker) properties(m *doc.Mapping) (*doc.Mapping, error) {
	if m == nil {
		return nil, nil
	}
	out := doc.NewMapping()
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		rv, err := w.walk(v, slotFor(k))
		if err != nil {
			return nil, err
		}
		if err := checkTop(w.id, k, rv); err != nil {
			return nil, err
		}
		out.Set(k, rv)
	}
	return out, nil
}

// checkTop rejects mappings that are not legacy function objects at the
// top of a paint or layout property.
func checkTop(id, key string, n doc.Node) error {
	m, ok := n.(*doc.Mapping)
	if !ok {
		return nil
	}
	if _, ok := m.Get("stops"); ok {
		return nil
	}
	if _, ok := m.Get("property"); ok {
		return nil
	}
	return fmt.Errorf("layer %s: %w: %s holds a mapping", id, ErrMalformed, key)
}

func (w *specWalker) walk(n doc.Node, s slot) (doc.Node, error) {
	switch t := n.(type) {
	case *doc.Mapping:
		out := doc.NewMapping()
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			rv, err := w.walk(v, s)
			if err != nil {
				return nil, err
			}
			out.Set(k, rv)
		}
		return out, nil
	case doc.Sequence:
		out := make(doc.Sequence, len(t))
		for i, e := range t {
			rv, err := w.walk(e, s)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case doc.Extract:
		return expr.Extract(t.Column, t.Key, nil), nil
	case doc.Reference:
		v, ok := w.lookup(t)
		if !ok {
			w.missing = append(w.missing, t.Raw())
			return t, nil
		}
		if err := fits(v, s); err != nil {
			return nil, fmt.Errorf("layer %s: %w: %s %v", w.id, ErrMalformed, t.Raw(), err)
		}
		return doc.Clone(v), nil
	}
	return n, nil
}

func (w *specWalker) lookup(ref doc.Reference) (doc.Node, bool) {
	path := ref.Path()
	switch ref.Namespace() {
	case tokens.NSPrimitives, tokens.NSGlobals:
		if len(path) == 0 {
			return nil, false
		}
		return doc.Lookup(w.r.Primitives, path)
	}
	// theme.type must both be present before the rest of the path is read.
	if len(path) == 0 {
		return nil, false
	}
	return doc.Lookup(w.r.Tree, ref.Segments)
}

// fits checks a substituted value against the slot it lands in.
func fits(v doc.Node, s slot) error {
	switch s {
	case slotAny:
		return nil
	case slotColor:
		switch t := v.(type) {
		case doc.Literal:
			if _, ok := t.Text(); !ok {
				return fmt.Errorf("resolves to %v, want a color", t.Value)
			}
		case *doc.Mapping:
			return fmt.Errorf("resolves to a mapping, want a color")
		}
	case slotExpression:
		if v.Kind() == doc.KindMapping {
			return fmt.Errorf("resolves to a mapping inside an expression")
		}
	}
	return nil
}

// Build resolves every template in order into a catalog. Placeholders left
// unresolved are logged and returned; malformed templates abort the build.
func Build(generation string, templates []Template, r Resolver, log *zap.Logger) (*Catalog, []string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	specs := make([]Spec, 0, len(templates))
	var missing []string
	for _, t := range templates {
		s, unresolved, err := r.Resolve(t)
		if err != nil {
			return nil, nil, fmt.Errorf("build %s catalog: %w", generation, err)
		}
		if len(unresolved) > 0 {
			log.Warn("unresolved layer references",
				zap.String("generation", generation),
				zap.String("layer", t.ID),
				zap.Strings("refs", unresolved))
			missing = append(missing, unresolved...)
		}
		specs = append(specs, s)
	}
	c, err := NewCatalog(generation, specs)
	if err != nil {
		return nil, nil, err
	}
	return c, missing, nil
}
