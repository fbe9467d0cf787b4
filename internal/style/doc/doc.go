// Package doc is the typed document model shared by token trees, layer
// templates and rendering-engine expressions.
//
// Raw style data decodes into a tree of five node kinds: [Literal],
// [*Mapping], [Sequence], [Reference] ("$ns.path") and [Extract]
// ("$extract:column.key"). Resolvers pattern-match on these kinds instead of
// inspecting untyped values at runtime.
package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the variant of a Node.
type Kind int

const (
	KindLiteral Kind = iota
	KindMapping
	KindSequence
	KindReference
	KindExtract
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	case KindReference:
		return "reference"
	case KindExtract:
		return "extract"
	}
	return "unknown"
}

// Node is one value in a document tree. The set of implementations is closed.
type Node interface {
	Kind() Kind
	sealed()
}

// Literal is a scalar: string, float64, bool or nil.
type Literal struct {
	Value any
}

func (Literal) Kind() Kind { return KindLiteral }
func (Literal) sealed()    {}

// Text returns the literal as a string and whether it was one.
func (l Literal) Text() (string, bool) {
	s, ok := l.Value.(string)
	return s, ok
}

// Number returns the literal as a float64 and whether it was one.
func (l Literal) Number() (float64, bool) {
	f, ok := l.Value.(float64)
	return f, ok
}

func (l Literal) MarshalJSON() ([]byte, error) { return json.Marshal(l.Value) }

// Str, Num, Bool and Null are literal constructors.
func Str(s string) Literal  { return Literal{Value: s} }
func Num(f float64) Literal { return Literal{Value: f} }
func Bool(b bool) Literal   { return Literal{Value: b} }
func Null() Literal         { return Literal{} }

// Sequence is an ordered list of nodes. Rendering-engine expressions are
// sequences whose first element is an operator string.
type Sequence []Node

func (Sequence) Kind() Kind { return KindSequence }
func (Sequence) sealed()    {}

// Op returns the operator name when the sequence is shaped like an
// expression.
func (s Sequence) Op() (string, bool) {
	if len(s) == 0 {
		return "", false
	}
	lit, ok := s[0].(Literal)
	if !ok {
		return "", false
	}
	return lit.Text()
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Node(s))
}

// Reference is a "$namespace.path" placeholder.
type Reference struct {
	Segments []string
}

func (Reference) Kind() Kind { return KindReference }
func (Reference) sealed()    {}

// Namespace is the first path segment.
func (r Reference) Namespace() string {
	if len(r.Segments) == 0 {
		return ""
	}
	return r.Segments[0]
}

// Path is everything after the namespace.
func (r Reference) Path() []string {
	if len(r.Segments) < 2 {
		return nil
	}
	return r.Segments[1:]
}

// Raw is the original "$..." text.
func (r Reference) Raw() string { return "$" + strings.Join(r.Segments, ".") }

func (r Reference) MarshalJSON() ([]byte, error) { return json.Marshal(r.Raw()) }

// Extract is a "$extract:column.key" placeholder for a sub-field of a
// serialized composite column.
type Extract struct {
	Column string
	Key    string
}

func (Extract) Kind() Kind { return KindExtract }
func (Extract) sealed()    {}

// Raw is the original "$extract:..." text.
func (e Extract) Raw() string { return "$extract:" + e.Column + "." + e.Key }

func (e Extract) MarshalJSON() ([]byte, error) { return json.Marshal(e.Raw()) }

// Mapping is an insertion-ordered string-keyed map.
type Mapping struct {
	keys   []string
	values map[string]Node
}

func (*Mapping) Kind() Kind { return KindMapping }
func (*Mapping) sealed()    {}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[string]Node)}
}

// Set stores v under k, keeping the original position of an existing key.
func (m *Mapping) Set(k string, v Node) *Mapping {
	if m.values == nil {
		m.values = make(map[string]Node)
	}
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
	return m
}

// Get returns the node stored under k.
func (m *Mapping) Get(k string) (Node, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[k]
	return v, ok
}

// Delete removes k.
func (m *Mapping) Delete(k string) {
	if _, ok := m.values[k]; !ok {
		return
	}
	delete(m.values, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len is the number of entries.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if m != nil {
		for i, k := range m.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := json.Marshal(m.values[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// legacyRefs are "$"-prefixed strings with meaning to the rendering engine's
// legacy filter syntax; they are never placeholders.
var legacyRefs = map[string]bool{"$type": true, "$id": true}

// ParseString classifies a raw string into a Literal, Reference or Extract.
func ParseString(s string) Node {
	if !strings.HasPrefix(s, "$") || len(s) == 1 || legacyRefs[s] {
		return Str(s)
	}
	body := s[1:]
	if rest, ok := strings.CutPrefix(body, "extract:"); ok {
		col, key, found := strings.Cut(rest, ".")
		if found && col != "" && key != "" {
			return Extract{Column: col, Key: key}
		}
		return Str(s)
	}
	return Reference{Segments: strings.Split(body, ".")}
}

// FromAny converts a decoded JSON/YAML value into a Node. Maps without an
// inherent order are stored with sorted keys.
func FromAny(v any) Node {
	switch t := v.(type) {
	case nil:
		return Null()
	case Node:
		return t
	case string:
		return ParseString(t)
	case bool:
		return Bool(t)
	case float64:
		return Num(t)
	case float32:
		return Num(float64(t))
	case int:
		return Num(float64(t))
	case int64:
		return Num(float64(t))
	case int32:
		return Num(float64(t))
	case uint64:
		return Num(float64(t))
	case json.Number:
		f, _ := t.Float64()
		return Num(f)
	case []any:
		seq := make(Sequence, len(t))
		for i, e := range t {
			seq[i] = FromAny(e)
		}
		return seq
	case []string:
		seq := make(Sequence, len(t))
		for i, e := range t {
			seq[i] = Str(e)
		}
		return seq
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapping()
		for _, k := range keys {
			m.Set(k, FromAny(t[k]))
		}
		return m
	}
	return Str(fmt.Sprint(v))
}

// ToAny converts a Node into plain Go values (map[string]any, []any,
// scalars). Placeholders become their raw "$" text.
func ToAny(n Node) any {
	switch t := n.(type) {
	case nil:
		return nil
	case Literal:
		return t.Value
	case Sequence:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case *Mapping:
		out := make(map[string]any, t.Len())
		for _, k := range t.keys {
			out[k] = ToAny(t.values[k])
		}
		return out
	case Reference:
		return t.Raw()
	case Extract:
		return t.Raw()
	}
	return nil
}
