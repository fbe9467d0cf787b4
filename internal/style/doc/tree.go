package doc

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Parse decodes YAML or JSON text into a Node, keeping mapping key order.
func Parse(data []byte) (Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 {
		return Null(), nil
	}
	return FromYAML(&root)
}

// FromYAML converts a decoded yaml.Node into a Node.
func FromYAML(n *yaml.Node) (Node, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return FromYAML(n.Content[0])
	case yaml.AliasNode:
		return FromYAML(n.Alias)
	case yaml.MappingNode:
		m := NewMapping()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := FromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m.Set(n.Content[i].Value, v)
		}
		return m, nil
	case yaml.SequenceNode:
		seq := make(Sequence, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := FromYAML(c)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return FromAny(v), nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

// Clone returns a deep copy of n.
func Clone(n Node) Node {
	switch t := n.(type) {
	case *Mapping:
		if t == nil {
			return (*Mapping)(nil)
		}
		m := &Mapping{keys: make([]string, len(t.keys)), values: make(map[string]Node, len(t.values))}
		copy(m.keys, t.keys)
		for k, v := range t.values {
			m.values[k] = Clone(v)
		}
		return m
	case Sequence:
		if t == nil {
			return Sequence(nil)
		}
		out := make(Sequence, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case Reference:
		segs := make([]string, len(t.Segments))
		copy(segs, t.Segments)
		return Reference{Segments: segs}
	}
	return n
}

// CloneMapping is Clone for a mapping root; nil stays nil.
func CloneMapping(m *Mapping) *Mapping {
	if m == nil {
		return nil
	}
	return Clone(m).(*Mapping)
}

// Equal reports structural equality. Mapping key order is ignored.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return isNull(a) && isNull(b)
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Literal:
		return x.Value == b.(Literal).Value
	case Sequence:
		y := b.(Sequence)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Mapping:
		y := b.(*Mapping)
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.Keys() {
			yv, ok := y.Get(k)
			if !ok {
				return false
			}
			xv, _ := x.Get(k)
			if !Equal(xv, yv) {
				return false
			}
		}
		return true
	case Reference:
		return x.Raw() == b.(Reference).Raw()
	case Extract:
		return x == b.(Extract)
	}
	return false
}

func isNull(n Node) bool {
	if n == nil {
		return true
	}
	lit, ok := n.(Literal)
	return ok && lit.Value == nil
}

// Lookup follows path through mappings (by key) and sequences (by index).
func Lookup(n Node, path []string) (Node, bool) {
	cur := n
	for _, seg := range path {
		switch t := cur.(type) {
		case *Mapping:
			v, ok := t.Get(seg)
			if !ok {
				return nil, false
			}
			cur = v
		case Sequence:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// Walk visits n and every descendant depth-first. Returning false from fn
// skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch t := n.(type) {
	case *Mapping:
		if t == nil {
			return
		}
		for _, k := range t.keys {
			Walk(t.values[k], fn)
		}
	case Sequence:
		for _, e := range t {
			Walk(e, fn)
		}
	}
}

// Placeholders returns the raw text of every Reference and Extract left in n.
func Placeholders(n Node) []string {
	var out []string
	Walk(n, func(c Node) bool {
		switch t := c.(type) {
		case Reference:
			out = append(out, t.Raw())
		case Extract:
			out = append(out, t.Raw())
		}
		return true
	})
	return out
}
