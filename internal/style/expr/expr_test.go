package expr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

func TestExtractWireForm(t *testing.T) {
	got, err := json.Marshal(Extract("categories", "primary", nil))
	require.NoError(t, err)

	want := `["let","str",["to-string",["get","categories"]],"key","\"primary\":\"",` +
		`["let","idx",["index-of",["var","key"],["var","str"]],` +
		`["case",[">=",["var","idx"],0],` +
		`["let","start",["+",["var","idx"],["length",["var","key"]]],` +
		`["slice",["var","str"],["var","start"],["index-of","\"",["var","str"],["var","start"]]]],` +
		`""]]]`
	assert.JSONEq(t, want, string(got))
}

func TestExtractEvaluates(t *testing.T) {
	e := Extract("names", "primary", nil)

	tests := []struct {
		name  string
		names any
		want  any
	}{
		{"present", `{"primary":"Central Park","common":null}`, "Central Park"},
		{"later key", `{"common":{"en":"x"},"primary":"Bryant Park"}`, "Bryant Park"},
		{"missing key", `{"common":{"en":"x"}}`, ""},
		{"null column", nil, ""},
		{"non ascii", `{"primary":"Zürichsee","x":1}`, "Zürichsee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(e, Feature{Properties: map[string]any{"names": tt.names}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractFallbackField(t *testing.T) {
	e := Extract("names", "fr", Get("@name"))
	props := map[string]any{"names": `{"primary":"Central Park"}`, "@name": "Central Park"}

	got, err := Eval(e, Feature{Properties: props})
	require.NoError(t, err)
	assert.Equal(t, "Central Park", got)

	props["names"] = `{"primary":"Central Park","fr":"Parc Central"}`
	got, err = Eval(e, Feature{Properties: props})
	require.NoError(t, err)
	assert.Equal(t, "Parc Central", got)
}

func TestLocalizedName(t *testing.T) {
	assert.Equal(t, []any{"get", "@name"}, doc.ToAny(LocalizedName(MultilingualTag, "@name")))

	got, err := Eval(LocalizedName("de", "@name"), Feature{Properties: map[string]any{
		"names": `{"primary":"Munich","de":"München"}`,
		"@name": "Munich",
	}})
	require.NoError(t, err)
	assert.Equal(t, "München", got)
}

func TestSelectionCase(t *testing.T) {
	e := SelectionCase(doc.Str("#00FF00"), doc.Str("#FF00FF"))

	got, err := Eval(e, Feature{})
	require.NoError(t, err)
	assert.Equal(t, "#00FF00", got)

	got, err = Eval(e, Feature{State: map[string]any{"selected": true}})
	require.NoError(t, err)
	assert.Equal(t, "#FF00FF", got)
}

func TestZoomInterpolate(t *testing.T) {
	e := ZoomInterpolate(12, 1, 13, 2)
	assert.Equal(t, []any{"interpolate", []any{"linear"}, []any{"zoom"}, 12.0, 1.0, 13.0, 2.0}, doc.ToAny(e))

	for zoom, want := range map[float64]float64{10: 1, 12.5: 1.5, 20: 2} {
		got, err := Eval(e, Feature{Zoom: zoom})
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9, "zoom %v", zoom)
	}
}

func TestContainsZoom(t *testing.T) {
	assert.True(t, ContainsZoom(ZoomInterpolate(5, "#000", 10, "#fff")))
	assert.True(t, ContainsZoom(Op("case", true, Op("step", Zoom(), "a", 10, "b"), "c")))
	assert.False(t, ContainsZoom(doc.Str("zoom")))
	assert.False(t, ContainsZoom(Op("get", "zoom")))
	assert.False(t, ContainsZoom(SelectionCase(doc.Str("#fff"), doc.Str("#000"))))
}

func TestEvalMatchAndStep(t *testing.T) {
	m := Op("match", Get("class"), []any{"park", "garden"}, "green", "grey")
	got, err := Eval(m, Feature{Properties: map[string]any{"class": "garden"}})
	require.NoError(t, err)
	assert.Equal(t, "green", got)

	s := Op("step", Zoom(), "a", 10, "b", 14, "c")
	got, err = Eval(s, Feature{Zoom: 12})
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestEvalErrors(t *testing.T) {
	_, err := Eval(Op("frobnicate", 1), Feature{})
	assert.ErrorIs(t, err, ErrUnknownOperator)

	_, err = Eval(doc.ParseString("$base.water.color"), Feature{})
	assert.ErrorIs(t, err, ErrPlaceholder)

	_, err = Eval(Op("var", "nope"), Feature{})
	assert.Error(t, err)
}
