// Package tokens resolves layered style tokens.
//
// Tokens live in three namespaces. Primitives hold raw constants (colors,
// fonts) and are also reachable under the "globals" alias. Semantic tokens
// name roles and point at primitives. Mode trees describe each map theme and
// type and point at both. Resolution substitutes every "$ns.path" reference
// depth-first; a reference whose target is missing is left in place and
// reported so that one bad token never blocks the rest of a tree.
package tokens

import (
	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// Namespace names used by references.
const (
	NSPrimitives = "primitives"
	NSGlobals    = "globals"
	NSSemantic   = "semantic"
)

// Scope maps a reference namespace to the tree it resolves against.
type Scope map[string]doc.Node

// With returns a copy of s with ns bound to root.
func (s Scope) With(ns string, root doc.Node) Scope {
	out := make(Scope, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[ns] = root
	return out
}

// PrimitiveScope binds primitives under both of their namespace names.
func PrimitiveScope(primitives doc.Node) Scope {
	return Scope{NSPrimitives: primitives, NSGlobals: primitives}
}

// Result is a resolved tree plus the raw text of every reference that could
// not be substituted.
type Result struct {
	Tree       doc.Node
	Unresolved []string
}

// Resolve returns a copy of tree with every reference substituted from scope.
// Substituted values are inserted as-is and are not resolved again.
func Resolve(tree doc.Node, scope Scope) Result {
	r := &resolver{scope: scope}
	return Result{Tree: r.walk(tree), Unresolved: r.missing}
}

type resolver struct {
	scope   Scope
	missing []string
}

func (r *resolver) walk(n doc.Node) doc.Node {
	switch t := n.(type) {
	case *doc.Mapping:
		if t == nil {
			return t
		}
		out := doc.NewMapping()
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			out.Set(k, r.walk(v))
		}
		return out
	case doc.Sequence:
		if t == nil {
			return t
		}
		out := make(doc.Sequence, len(t))
		for i, e := range t {
			out[i] = r.walk(e)
		}
		return out
	case doc.Reference:
		if v, ok := r.lookup(t); ok {
			return doc.Clone(v)
		}
		r.missing = append(r.missing, t.Raw())
		return t
	}
	return n
}

func (r *resolver) lookup(ref doc.Reference) (doc.Node, bool) {
	root, ok := r.scope[ref.Namespace()]
	if !ok || len(ref.Path()) == 0 {
		return nil, false
	}
	return doc.Lookup(root, ref.Path())
}

// Merge deep-merges override onto base and returns a new tree. Mappings merge
// key by key; any other override value, sequences included, replaces the base
// value wholesale. Neither argument is modified.
func Merge(base, override doc.Node) doc.Node {
	if override == nil {
		return doc.Clone(base)
	}
	bm, bok := base.(*doc.Mapping)
	om, ook := override.(*doc.Mapping)
	if !bok || !ook || bm == nil || om == nil {
		return doc.Clone(override)
	}
	out := doc.CloneMapping(bm)
	for _, k := range om.Keys() {
		ov, _ := om.Get(k)
		if bv, ok := bm.Get(k); ok {
			out.Set(k, Merge(bv, ov))
			continue
		}
		out.Set(k, doc.Clone(ov))
	}
	return out
}

// MergeMapping is Merge for mapping roots.
func MergeMapping(base, override *doc.Mapping) *doc.Mapping {
	if override == nil {
		return doc.CloneMapping(base)
	}
	if base == nil {
		return doc.CloneMapping(override)
	}
	return Merge(base, override).(*doc.Mapping)
}
