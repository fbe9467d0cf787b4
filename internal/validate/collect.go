package validate

import (
	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// PlaceholderColor replaces token references in StripTokenRefs.
const PlaceholderColor = "rgba(0,0,0,1)"

// StripTokenRefs returns a copy of n with every reference and extract
// placeholder replaced by PlaceholderColor, so raw templates can be checked
// by tools that know nothing about tokens.
func StripTokenRefs(n doc.Node) doc.Node {
	switch t := n.(type) {
	case doc.Reference, doc.Extract:
		return doc.Str(PlaceholderColor)
	case doc.Sequence:
		out := make(doc.Sequence, len(t))
		for i, v := range t {
			out[i] = StripTokenRefs(v)
		}
		return out
	case *doc.Mapping:
		out := doc.NewMapping()
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			out.Set(k, StripTokenRefs(v))
		}
		return out
	}
	return n
}

// FieldRefs adds to set every field read with ["get", field] anywhere in n.
func FieldRefs(n doc.Node, set map[string]struct{}) {
	doc.Walk(n, func(v doc.Node) bool {
		seq, ok := v.(doc.Sequence)
		if !ok {
			return true
		}
		if field, ok := getField(seq); ok {
			set[field] = struct{}{}
		}
		return true
	})
}

// FilterValues adds to set the string literals compared against field in
// filter: ==/!= against ["get", field], match labels and
// ["in", ["get", field], ["literal", [...]]], descending through all, any,
// none, ! and nested comparisons.
func FilterValues(filter doc.Node, field string, set map[string]struct{}) {
	seq, ok := filter.(doc.Sequence)
	if !ok {
		return
	}
	op, _ := seq.Op()
	reads := len(seq) > 1 && readsField(seq[1], field)

	switch op {
	case "==", "!=":
		if reads && len(seq) > 2 {
			addText(seq[2], set)
		}
	case "match":
		if reads {
			// labels sit at 2, 4, ...; the last element is the default
			for i := 2; i < len(seq)-1; i += 2 {
				switch label := seq[i].(type) {
				case doc.Literal:
					addText(label, set)
				case doc.Sequence:
					for _, v := range label {
						addText(v, set)
					}
				}
			}
		}
	case "in":
		if reads && len(seq) > 2 {
			if lit, ok := seq[2].(doc.Sequence); ok && len(lit) == 2 {
				if litOp, _ := lit.Op(); litOp == "literal" {
					if vals, ok := lit[1].(doc.Sequence); ok {
						for _, v := range vals {
							addText(v, set)
						}
					}
				}
			}
		}
	}

	for _, item := range seq[1:] {
		child, ok := item.(doc.Sequence)
		if !ok {
			continue
		}
		if childOp, _ := child.Op(); filterOps[childOp] {
			FilterValues(child, field, set)
		}
	}
}

var filterOps = map[string]bool{
	"all": true, "any": true, "none": true, "!": true,
	"match": true, "==": true, "!=": true, "in": true,
}

func getField(seq doc.Sequence) (string, bool) {
	if op, _ := seq.Op(); op != "get" || len(seq) < 2 {
		return "", false
	}
	lit, ok := seq[1].(doc.Literal)
	if !ok {
		return "", false
	}
	return lit.Text()
}

func readsField(n doc.Node, field string) bool {
	seq, ok := n.(doc.Sequence)
	if !ok {
		return false
	}
	f, ok := getField(seq)
	return ok && f == field
}

func addText(n doc.Node, set map[string]struct{}) {
	if lit, ok := n.(doc.Literal); ok {
		if s, ok := lit.Text(); ok {
			set[s] = struct{}{}
		}
	}
}
