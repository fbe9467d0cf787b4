package tokens

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ohler55/ojg/jp"
	"go.uber.org/zap"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// DefaultMode is the mode every derived mode is merged onto.
const DefaultMode = "default"

// ErrNoPrimitives is returned when a token set has no primitive store.
var ErrNoPrimitives = errors.New("tokens: primitive store is empty")

// Set is the raw, unresolved token input.
type Set struct {
	// Primitives is keyed by category ("color", "font", ...).
	Primitives *doc.Mapping
	// Semantic holds role colors; may reference primitives.
	Semantic *doc.Mapping
	// SemanticFonts is shaped like the mode tree (theme -> type -> font) and
	// is merged onto the resolved default mode.
	SemanticFonts *doc.Mapping
	// Default is the raw default mode tree: theme -> type -> tokens.
	Default *doc.Mapping
	// Overrides are raw override trees for derived modes, keyed by mode name.
	Overrides map[string]*doc.Mapping
}

// Modes is the composed, read-only output of a token Set.
type Modes struct {
	primitives *doc.Mapping
	semantic   *doc.Mapping
	trees      map[string]*doc.Mapping
	unresolved []string
}

// Composer turns a Set into Modes.
type Composer struct {
	log *zap.Logger
}

// NewComposer returns a Composer logging to log; nil means no logging.
func NewComposer(log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{log: log}
}

// Compose resolves semantic tokens against primitives, then the default mode
// against semantic and primitives, merges semantic fonts onto it, and finally
// derives each override mode by resolving its tree and merging it onto the
// resolved default.
func (c *Composer) Compose(set Set) (*Modes, error) {
	if set.Primitives.Len() == 0 {
		return nil, ErrNoPrimitives
	}
	if _, dup := set.Overrides[DefaultMode]; dup {
		return nil, fmt.Errorf("tokens: override named %q shadows the default mode", DefaultMode)
	}

	m := &Modes{
		primitives: set.Primitives,
		trees:      make(map[string]*doc.Mapping, len(set.Overrides)+1),
	}
	prim := PrimitiveScope(set.Primitives)

	semantic := c.resolve("semantic", orEmpty(set.Semantic), prim, m)
	m.semantic = semantic
	fonts := c.resolve("semantic fonts", orEmpty(set.SemanticFonts), prim, m)

	full := prim.With(NSSemantic, semantic)
	def := c.resolve(DefaultMode, orEmpty(set.Default), full, m)
	def = MergeMapping(def, fonts)
	m.trees[DefaultMode] = def

	for _, name := range sortedKeys(set.Overrides) {
		over := c.resolve(name, orEmpty(set.Overrides[name]), full, m)
		m.trees[name] = MergeMapping(def, over)
	}
	return m, nil
}

func (c *Composer) resolve(stage string, tree *doc.Mapping, scope Scope, m *Modes) *doc.Mapping {
	res := Resolve(tree, scope)
	if len(res.Unresolved) > 0 {
		c.log.Warn("unresolved token references",
			zap.String("stage", stage),
			zap.Strings("refs", res.Unresolved))
		m.unresolved = append(m.unresolved, res.Unresolved...)
	}
	return res.Tree.(*doc.Mapping)
}

func orEmpty(m *doc.Mapping) *doc.Mapping {
	if m == nil {
		return doc.NewMapping()
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Names lists the composed modes, default first.
func (m *Modes) Names() []string {
	names := []string{DefaultMode}
	for _, n := range sortedKeys(m.trees) {
		if n != DefaultMode {
			names = append(names, n)
		}
	}
	return names
}

// Has reports whether mode was composed.
func (m *Modes) Has(mode string) bool {
	_, ok := m.trees[mode]
	return ok
}

// Tree returns the resolved tree for mode.
func (m *Modes) Tree(mode string) (*doc.Mapping, bool) {
	t, ok := m.trees[mode]
	return t, ok
}

// TreeOrDefault returns the tree for mode, falling back to the default mode.
func (m *Modes) TreeOrDefault(mode string) *doc.Mapping {
	if t, ok := m.trees[mode]; ok {
		return t
	}
	return m.trees[DefaultMode]
}

// Primitives returns the primitive store.
func (m *Modes) Primitives() *doc.Mapping { return m.primitives }

// Semantic returns the resolved semantic tokens.
func (m *Modes) Semantic() *doc.Mapping { return m.semantic }

// Unresolved lists every reference left in place during composition.
func (m *Modes) Unresolved() []string {
	out := make([]string, len(m.unresolved))
	copy(out, m.unresolved)
	return out
}

// LayerTokens returns tree[theme][typ] for mode.
func (m *Modes) LayerTokens(mode, theme, typ string) (*doc.Mapping, bool) {
	n, ok := doc.Lookup(m.TreeOrDefault(mode), []string{theme, typ})
	if !ok {
		return nil, false
	}
	tm, ok := n.(*doc.Mapping)
	return tm, ok
}

// Primitive returns the primitive at a dotted path such as color.selection.
func (m *Modes) Primitive(path ...string) (doc.Node, bool) {
	return doc.Lookup(m.primitives, path)
}

// Query evaluates a JSONPath expression against the resolved tree of mode.
func (m *Modes) Query(mode, path string) ([]any, error) {
	tree, ok := m.trees[mode]
	if !ok {
		return nil, fmt.Errorf("tokens: unknown mode %q", mode)
	}
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", path, err)
	}
	return x.Get(doc.ToAny(tree)), nil
}
