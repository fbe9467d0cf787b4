package layers

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// Catalog is the ordered, immutable list of resolved specs for one
// generation. Order is draw order.
type Catalog struct {
	generation string
	specs      []Spec
	byID       map[string]int
}

// NewCatalog indexes specs, rejecting empty and duplicate ids.
func NewCatalog(generation string, specs []Spec) (*Catalog, error) {
	c := &Catalog{
		generation: generation,
		specs:      make([]Spec, len(specs)),
		byID:       make(map[string]int, len(specs)),
	}
	copy(c.specs, specs)
	for i, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("%s catalog: %w: layer %d (%s) has no id", generation, ErrMalformed, i, s.Path)
		}
		if j, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("%s catalog: %w: %q at %d and %d", generation, ErrDuplicate, s.ID, j, i)
		}
		c.byID[s.ID] = i
	}
	return c, nil
}

// Generation names the catalog.
func (c *Catalog) Generation() string { return c.generation }

// Len is the number of specs.
func (c *Catalog) Len() int { return len(c.specs) }

// Specs returns the specs in draw order. Callers must not modify them.
func (c *Catalog) Specs() []Spec { return c.specs }

// At returns the i'th spec.
func (c *Catalog) At(i int) Spec { return c.specs[i] }

// Get returns the spec with id.
func (c *Catalog) Get(id string) (Spec, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Spec{}, false
	}
	return c.specs[i], true
}

// IDs lists layer ids in draw order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.specs))
	for i, s := range c.specs {
		ids[i] = s.ID
	}
	return ids
}

// Unresolved lists placeholders still present in any spec.
func (c *Catalog) Unresolved() []string {
	var out []string
	for _, s := range c.specs {
		out = append(out, doc.Placeholders(s.Node())...)
	}
	return out
}

// TypeIndex maps source-layer types to the items drawn from them. It is
// built once and read concurrently.
type TypeIndex struct {
	items  []string
	ids    map[string]uint32
	types  map[string]*roaring.Bitmap
	themes map[string]string
}

// NewTypeIndex collects every (type, item) pair carried on the catalogs'
// specs. Specs without both tags are skipped.
func NewTypeIndex(catalogs ...*Catalog) *TypeIndex {
	x := &TypeIndex{
		ids:    make(map[string]uint32),
		types:  make(map[string]*roaring.Bitmap),
		themes: make(map[string]string),
	}
	for _, c := range catalogs {
		if c == nil {
			continue
		}
		for _, s := range c.specs {
			m := s.Meta()
			if m.Type != "" && m.Theme != "" {
				if _, ok := x.themes[m.Type]; !ok {
					x.themes[m.Type] = m.Theme
				}
			}
			if m.Type == "" || m.Item == "" {
				continue
			}
			bm, ok := x.types[m.Type]
			if !ok {
				bm = roaring.New()
				x.types[m.Type] = bm
			}
			bm.Add(x.intern(m.Item))
		}
	}
	for _, bm := range x.types {
		bm.RunOptimize()
	}
	return x
}

func (x *TypeIndex) intern(item string) uint32 {
	if id, ok := x.ids[item]; ok {
		return id
	}
	id := uint32(len(x.items))
	x.items = append(x.items, item)
	x.ids[item] = id
	return id
}

// Mask converts an item set to the index's bitmap space. Items the index
// has never seen are dropped.
func (x *TypeIndex) Mask(items ItemSet) *roaring.Bitmap {
	bm := roaring.New()
	for item := range items {
		if id, ok := x.ids[item]; ok {
			bm.Add(id)
		}
	}
	return bm
}

// TypeVisible reports whether any item mapped to typ is in mask.
func (x *TypeIndex) TypeVisible(typ string, mask *roaring.Bitmap) bool {
	bm, ok := x.types[typ]
	if !ok {
		return false
	}
	return bm.Intersects(mask)
}

// Visible is TypeVisible for a plain item set.
func (x *TypeIndex) Visible(typ string, items ItemSet) bool {
	return x.TypeVisible(typ, x.Mask(items))
}

// VisibleTypes lists, sorted, every type with at least one visible item.
func (x *TypeIndex) VisibleTypes(items ItemSet) []string {
	mask := x.Mask(items)
	var out []string
	for typ, bm := range x.types {
		if bm.Intersects(mask) {
			out = append(out, typ)
		}
	}
	sort.Strings(out)
	return out
}

// Items lists, sorted, the items mapped to typ.
func (x *TypeIndex) Items(typ string) []string {
	bm, ok := x.types[typ]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, x.items[it.Next()])
	}
	sort.Strings(out)
	return out
}

// Types lists every indexed type, sorted.
func (x *TypeIndex) Types() []string {
	out := make([]string, 0, len(x.types))
	for typ := range x.types {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Theme returns the theme a type belongs to.
func (x *TypeIndex) Theme(typ string) (string, bool) {
	t, ok := x.themes[typ]
	return t, ok
}

// ItemSet is a set of item ids.
type ItemSet map[string]struct{}

// NewItemSet builds a set from items.
func NewItemSet(items ...string) ItemSet {
	s := make(ItemSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s ItemSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Sorted lists the items in order.
func (s ItemSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for it := range s {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// Clone copies the set.
func (s ItemSet) Clone() ItemSet {
	out := make(ItemSet, len(s))
	for it := range s {
		out[it] = struct{}{}
	}
	return out
}
