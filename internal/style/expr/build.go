// Package expr builds and evaluates rendering-engine expressions.
//
// Expressions are doc.Sequence values whose first element is the operator
// name, matching the MapLibre style expression wire form.
package expr

import (
	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// Op builds ["name", args...]. Plain Go values are converted with doc.FromAny.
func Op(name string, args ...any) doc.Sequence {
	seq := make(doc.Sequence, 0, len(args)+1)
	seq = append(seq, doc.Str(name))
	for _, a := range args {
		seq = append(seq, doc.FromAny(a))
	}
	return seq
}

// Get is ["get", field].
func Get(field string) doc.Sequence { return Op("get", field) }

// Var is ["var", name].
func Var(name string) doc.Sequence { return Op("var", name) }

// Zoom is ["zoom"].
func Zoom() doc.Sequence { return Op("zoom") }

// Extract builds the expression that pulls the string value of key out of a
// column holding serialized JSON:
//
//	let str = to-string(get column), key = "\"key\":\""
//	let idx = index-of(key, str)
//	idx >= 0 ? slice(str, idx+len(key), index-of("\"", str, idx+len(key))) : fallback
//
// A nil fallback yields the empty string.
func Extract(column, key string, fallback doc.Node) doc.Sequence {
	return extract(Op("to-string", Get(column)), doc.Str(`"`+key+`":"`), fallback)
}

func extract(source doc.Node, needle doc.Node, fallback doc.Node) doc.Sequence {
	if fallback == nil {
		fallback = doc.Str("")
	}
	start := Op("+", Var("idx"), Op("length", Var("key")))
	return Op("let",
		"str", source,
		"key", needle,
		Op("let",
			"idx", Op("index-of", Var("key"), Var("str")),
			Op("case",
				Op(">=", Var("idx"), 0),
				Op("let",
					"start", start,
					Op("slice", Var("str"), Var("start"),
						Op("index-of", `"`, Var("str"), Var("start")))),
				fallback)))
}

// MultilingualTag is the language code meaning "each feature's own name".
const MultilingualTag = "mul"

// LocalizedName picks the label for language out of the serialized "names"
// column, falling back to fallbackField. The multilingual tag (or an empty
// language) reads fallbackField directly.
func LocalizedName(language, fallbackField string) doc.Sequence {
	if language == "" || language == MultilingualTag {
		return Get(fallbackField)
	}
	return Extract("names", language, Get(fallbackField))
}

// SelectedState is the feature-state flag SelectionCase reads.
const SelectedState = "selected"

// SelectionCase wraps color so features whose feature-state marks them
// selected draw with highlight instead.
func SelectionCase(color, highlight doc.Node) doc.Sequence {
	return Op("case",
		Op("boolean", Op("feature-state", SelectedState), false),
		highlight,
		color)
}

// ZoomInterpolate is a linear interpolation over zoom; stops alternate
// zoom, value.
func ZoomInterpolate(stops ...any) doc.Sequence {
	args := []any{Op("linear"), Zoom()}
	return Op("interpolate", append(args, stops...)...)
}

// IsExpression reports whether n is shaped like an expression.
func IsExpression(n doc.Node) bool {
	seq, ok := n.(doc.Sequence)
	if !ok {
		return false
	}
	_, ok = seq.Op()
	return ok
}

// ContainsZoom reports whether a ["zoom"] node appears anywhere in n. Values
// that do must stay at the top level of a paint property.
func ContainsZoom(n doc.Node) bool {
	found := false
	doc.Walk(n, func(c doc.Node) bool {
		if found {
			return false
		}
		if seq, ok := c.(doc.Sequence); ok && len(seq) == 1 {
			if op, ok := seq.Op(); ok && op == "zoom" {
				found = true
				return false
			}
		}
		return true
	})
	return found
}
