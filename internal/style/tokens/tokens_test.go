package tokens

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

func mustParse(t *testing.T, src string) *doc.Mapping {
	t.Helper()
	n, err := doc.Parse([]byte(src))
	require.NoError(t, err)
	m, ok := n.(*doc.Mapping)
	require.True(t, ok, "fixture root must be a mapping")
	return m
}

func asJSON(t *testing.T, n doc.Node) any {
	t.Helper()
	return doc.ToAny(n)
}

const primitivesYAML = `
color:
  green: "#00FF00"
  white: "#FFFFFF"
  selection: "#FF00FF"
  blue: {light: "#a0c8f0", dark: "#1b3a5c"}
font:
  regular: [Noto Sans Regular]
`

func TestResolveSubstitutesAndReportsMissing(t *testing.T) {
	prim := mustParse(t, primitivesYAML)
	tree := mustParse(t, `
park: $globals.color.green
water: $primitives.color.blue.light
fonts: [$globals.font.regular, literal]
missing: $globals.color.nope
other: $elsewhere.x
`)
	res := Resolve(tree, PrimitiveScope(prim))

	out := res.Tree.(*doc.Mapping)
	v, _ := out.Get("park")
	assert.Equal(t, doc.Str("#00FF00"), v)
	v, _ = out.Get("water")
	assert.Equal(t, doc.Str("#a0c8f0"), v)
	v, _ = out.Get("fonts")
	assert.Equal(t, []any{[]any{"Noto Sans Regular"}, "literal"}, doc.ToAny(v))
	v, _ = out.Get("missing")
	assert.Equal(t, doc.KindReference, v.Kind())

	assert.Equal(t, []string{"$globals.color.nope", "$elsewhere.x"}, res.Unresolved)
}

func TestResolveIsIdempotent(t *testing.T) {
	prim := mustParse(t, primitivesYAML)
	tree := mustParse(t, `{a: {b: $globals.color.white, c: [1, 2]}, d: $globals.missing}`)

	once := Resolve(tree, PrimitiveScope(prim))
	twice := Resolve(once.Tree, PrimitiveScope(prim))

	assert.True(t, doc.Equal(once.Tree, twice.Tree))
	assert.Empty(t, cmp.Diff(asJSON(t, once.Tree), asJSON(t, twice.Tree)))
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	prim := mustParse(t, primitivesYAML)
	tree := mustParse(t, `{a: $globals.color.white}`)
	Resolve(tree, PrimitiveScope(prim))

	v, _ := tree.Get("a")
	assert.Equal(t, doc.KindReference, v.Kind())
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base := mustParse(t, `
base:
  water: {color: {fill: blue, line: navy}, stops: [1, 2, 3]}
  land: {color: {fill: tan}}
`)
	before := doc.Clone(base)
	override := mustParse(t, `
base:
  water: {color: {fill: black}, stops: [9]}
extra: true
`)

	merged := Merge(base, override).(*doc.Mapping)

	assert.NotSame(t, base, merged)
	assert.True(t, doc.Equal(before, base), "base changed")

	want := map[string]any{
		"base": map[string]any{
			"water": map[string]any{
				"color": map[string]any{"fill": "black", "line": "navy"},
				"stops": []any{9.0},
			},
			"land": map[string]any{"color": map[string]any{"fill": "tan"}},
		},
		"extra": true,
	}
	assert.Empty(t, cmp.Diff(want, doc.ToAny(merged)))
}

func TestMergeScalarOverMappingReplaces(t *testing.T) {
	base := mustParse(t, `{a: {b: 1}}`)
	merged := Merge(base, mustParse(t, `{a: gone}`))
	assert.Equal(t, map[string]any{"a": "gone"}, doc.ToAny(merged))
}

func fixtureSet(t *testing.T) Set {
	return Set{
		Primitives: mustParse(t, primitivesYAML),
		Semantic: mustParse(t, `
vegetation: {fill: $globals.color.green}
water: {fill: $primitives.color.blue.light}
`),
		SemanticFonts: mustParse(t, `
base: {land_use: {font: $globals.font.regular}}
`),
		Default: mustParse(t, `
base:
  land_use: {color: {fill: $semantic.vegetation.fill, line: $globals.color.white}}
  water: {color: {fill: $semantic.water.fill}}
`),
		Overrides: map[string]*doc.Mapping{
			"dark": mustParse(t, `{base: {water: {color: {fill: $globals.color.blue.dark}}}}`),
		},
	}
}

func TestComposeResolvesEveryMode(t *testing.T) {
	modes, err := NewComposer(nil).Compose(fixtureSet(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"default", "dark"}, modes.Names())
	assert.Empty(t, modes.Unresolved())

	for _, name := range modes.Names() {
		tree, ok := modes.Tree(name)
		require.True(t, ok)
		assert.Empty(t, doc.Placeholders(tree), "mode %s", name)
	}

	lu, ok := modes.LayerTokens(DefaultMode, "base", "land_use")
	require.True(t, ok)
	fill, _ := doc.Lookup(lu, []string{"color", "fill"})
	assert.Equal(t, doc.Str("#00FF00"), fill)
	font, _ := lu.Get("font")
	assert.Equal(t, []any{"Noto Sans Regular"}, doc.ToAny(font))

	water, _ := modes.LayerTokens("dark", "base", "water")
	fill, _ = doc.Lookup(water, []string{"color", "fill"})
	assert.Equal(t, doc.Str("#1b3a5c"), fill)

	// the default tree is reused as the base and stays untouched
	water, _ = modes.LayerTokens(DefaultMode, "base", "water")
	fill, _ = doc.Lookup(water, []string{"color", "fill"})
	assert.Equal(t, doc.Str("#a0c8f0"), fill)

	// derived modes inherit untouched branches
	lu, ok = modes.LayerTokens("dark", "base", "land_use")
	require.True(t, ok)
	fill, _ = doc.Lookup(lu, []string{"color", "fill"})
	assert.Equal(t, doc.Str("#00FF00"), fill)
}

func TestComposeCollectsUnresolved(t *testing.T) {
	set := fixtureSet(t)
	set.Default.Set("broken", doc.ParseString("$semantic.does.not.exist"))

	modes, err := NewComposer(nil).Compose(set)
	require.NoError(t, err)
	assert.Contains(t, modes.Unresolved(), "$semantic.does.not.exist")
}

func TestComposeRejectsEmptyPrimitives(t *testing.T) {
	set := fixtureSet(t)
	set.Primitives = nil
	_, err := NewComposer(nil).Compose(set)
	require.ErrorIs(t, err, ErrNoPrimitives)
}

func TestQuery(t *testing.T) {
	modes, err := NewComposer(nil).Compose(fixtureSet(t))
	require.NoError(t, err)

	got, err := modes.Query("dark", "$.base.water.color.fill")
	require.NoError(t, err)
	assert.Equal(t, []any{"#1b3a5c"}, got)

	_, err = modes.Query("nope", "$.x")
	assert.Error(t, err)
}
