package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

var (
	ErrUnknownOperator = errors.New("expr: unknown operator")
	ErrArity           = errors.New("expr: wrong number of arguments")
	ErrType            = errors.New("expr: type mismatch")
	ErrPlaceholder     = errors.New("expr: unresolved placeholder")
)

// Feature is what an expression is evaluated against.
type Feature struct {
	Properties map[string]any
	State      map[string]any
	Zoom       float64
}

// Eval evaluates n for a single feature. It covers the operators the style
// engine emits; anything else fails with ErrUnknownOperator. String offsets
// count runes.
func Eval(n doc.Node, f Feature) (any, error) {
	e := &evaluator{f: f}
	return e.eval(n, nil)
}

type scope struct {
	name   string
	value  any
	parent *scope
}

func (s *scope) lookup(name string) (any, bool) {
	for c := s; c != nil; c = c.parent {
		if c.name == name {
			return c.value, true
		}
	}
	return nil, false
}

type evaluator struct {
	f Feature
}

func (e *evaluator) eval(n doc.Node, env *scope) (any, error) {
	switch t := n.(type) {
	case nil:
		return nil, nil
	case doc.Literal:
		return t.Value, nil
	case *doc.Mapping:
		return doc.ToAny(t), nil
	case doc.Reference:
		return nil, fmt.Errorf("%w: %s", ErrPlaceholder, t.Raw())
	case doc.Extract:
		return nil, fmt.Errorf("%w: %s", ErrPlaceholder, t.Raw())
	case doc.Sequence:
		op, ok := t.Op()
		if !ok {
			return nil, fmt.Errorf("%w: sequence without operator", ErrUnknownOperator)
		}
		return e.call(op, t[1:], env)
	}
	return nil, fmt.Errorf("%w: node %T", ErrType, n)
}

func (e *evaluator) args(args doc.Sequence, env *scope) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := e.eval(a, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func arity(op string, args doc.Sequence, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return fmt.Errorf("%w: %s takes %d..%d, got %d", ErrArity, op, min, max, len(args))
	}
	return nil
}

func (e *evaluator) call(op string, args doc.Sequence, env *scope) (any, error) {
	switch op {
	case "literal":
		if err := arity(op, args, 1, 1); err != nil {
			return nil, err
		}
		return doc.ToAny(args[0]), nil

	case "let":
		if len(args) < 3 || len(args)%2 == 0 {
			return nil, fmt.Errorf("%w: let needs name/value pairs and a body", ErrArity)
		}
		inner := env
		for i := 0; i+1 < len(args); i += 2 {
			name, ok := textOf(args[i])
			if !ok {
				return nil, fmt.Errorf("%w: let binding name", ErrType)
			}
			v, err := e.eval(args[i+1], inner)
			if err != nil {
				return nil, err
			}
			inner = &scope{name: name, value: v, parent: inner}
		}
		return e.eval(args[len(args)-1], inner)

	case "var":
		if err := arity(op, args, 1, 1); err != nil {
			return nil, err
		}
		name, _ := textOf(args[0])
		v, ok := env.lookup(name)
		if !ok {
			return nil, fmt.Errorf("expr: unbound variable %q", name)
		}
		return v, nil

	case "get", "has":
		if err := arity(op, args, 1, 1); err != nil {
			return nil, err
		}
		key, err := e.eval(args[0], env)
		if err != nil {
			return nil, err
		}
		name, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s key", ErrType, op)
		}
		v, present := e.f.Properties[name]
		if op == "has" {
			return present, nil
		}
		return normalize(v), nil

	case "feature-state":
		if err := arity(op, args, 1, 1); err != nil {
			return nil, err
		}
		name, _ := textOf(args[0])
		return normalize(e.f.State[name]), nil

	case "zoom":
		return e.f.Zoom, nil

	case "case":
		if len(args) < 3 || len(args)%2 == 0 {
			return nil, fmt.Errorf("%w: case needs condition/output pairs and a fallback", ErrArity)
		}
		for i := 0; i+1 < len(args); i += 2 {
			c, err := e.eval(args[i], env)
			if err != nil {
				return nil, err
			}
			if c == true {
				return e.eval(args[i+1], env)
			}
		}
		return e.eval(args[len(args)-1], env)

	case "match":
		return e.match(args, env)

	case "coalesce":
		for _, a := range args {
			v, err := e.eval(a, env)
			if err != nil {
				return nil, err
			}
			if v != nil {
				return v, nil
			}
		}
		return nil, nil

	case "interpolate":
		return e.interpolate(args, env)

	case "step":
		return e.step(args, env)
	}

	vals, err := e.args(args, env)
	if err != nil {
		return nil, err
	}
	return apply(op, vals)
}

func apply(op string, vals []any) (any, error) {
	switch op {
	case "to-string":
		if len(vals) != 1 {
			return nil, fmt.Errorf("%w: to-string", ErrArity)
		}
		return toString(vals[0]), nil

	case "to-number":
		for _, v := range vals {
			if f, ok := toNumber(v); ok {
				return f, nil
			}
		}
		return nil, fmt.Errorf("%w: to-number", ErrType)

	case "boolean":
		for _, v := range vals {
			if b, ok := v.(bool); ok {
				return b, nil
			}
		}
		return nil, fmt.Errorf("%w: boolean", ErrType)

	case "!":
		b, ok := single[bool](vals)
		if !ok {
			return nil, fmt.Errorf("%w: !", ErrType)
		}
		return !b, nil

	case "all", "any":
		want := op == "any"
		for _, v := range vals {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrType, op)
			}
			if b == want {
				return want, nil
			}
		}
		return !want, nil

	case "concat":
		var out string
		for _, v := range vals {
			out += toString(v)
		}
		return out, nil

	case "length":
		switch v, _ := single[any](vals); t := v.(type) {
		case string:
			return float64(utf8.RuneCountInString(t)), nil
		case []any:
			return float64(len(t)), nil
		}
		return nil, fmt.Errorf("%w: length", ErrType)

	case "index-of":
		return indexOf(vals)

	case "slice":
		return slice(vals)

	case "+", "*":
		acc := 0.0
		if op == "*" {
			acc = 1
		}
		for _, v := range vals {
			f, ok := toNumber(v)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrType, op)
			}
			if op == "+" {
				acc += f
			} else {
				acc *= f
			}
		}
		return acc, nil

	case "-", "/", "%":
		if len(vals) != 2 {
			if op == "-" && len(vals) == 1 {
				f, ok := toNumber(vals[0])
				if !ok {
					return nil, fmt.Errorf("%w: -", ErrType)
				}
				return -f, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrArity, op)
		}
		a, aok := toNumber(vals[0])
		b, bok := toNumber(vals[1])
		if !aok || !bok {
			return nil, fmt.Errorf("%w: %s", ErrType, op)
		}
		switch op {
		case "-":
			return a - b, nil
		case "/":
			return a / b, nil
		}
		return math.Mod(a, b), nil

	case "==", "!=":
		if len(vals) != 2 {
			return nil, fmt.Errorf("%w: %s", ErrArity, op)
		}
		eq := equalValues(vals[0], vals[1])
		return eq == (op == "=="), nil

	case "<", "<=", ">", ">=":
		if len(vals) != 2 {
			return nil, fmt.Errorf("%w: %s", ErrArity, op)
		}
		return compare(op, vals[0], vals[1])
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
}

func (e *evaluator) match(args doc.Sequence, env *scope) (any, error) {
	if len(args) < 2 || len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: match", ErrArity)
	}
	input, err := e.eval(args[0], env)
	if err != nil {
		return nil, err
	}
	for i := 1; i+1 < len(args); i += 2 {
		labels := []any{doc.ToAny(args[i])}
		if seq, ok := args[i].(doc.Sequence); ok {
			labels = doc.ToAny(seq).([]any)
		}
		for _, l := range labels {
			if equalValues(input, normalize(l)) {
				return e.eval(args[i+1], env)
			}
		}
	}
	return e.eval(args[len(args)-1], env)
}

// stops reads a flat input/output list starting at args[from].
func (e *evaluator) stops(args doc.Sequence, from int, env *scope) ([]float64, []any, error) {
	var ins []float64
	var outs []any
	for i := from; i+1 < len(args); i += 2 {
		in, err := e.eval(args[i], env)
		if err != nil {
			return nil, nil, err
		}
		f, ok := toNumber(in)
		if !ok {
			return nil, nil, fmt.Errorf("%w: stop input", ErrType)
		}
		out, err := e.eval(args[i+1], env)
		if err != nil {
			return nil, nil, err
		}
		ins = append(ins, f)
		outs = append(outs, out)
	}
	return ins, outs, nil
}

func (e *evaluator) interpolate(args doc.Sequence, env *scope) (any, error) {
	if len(args) < 4 || len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: interpolate", ErrArity)
	}
	kind, ok := args[0].(doc.Sequence)
	if op, _ := kind.Op(); !ok || op != "linear" {
		return nil, fmt.Errorf("%w: only linear interpolation is supported", ErrUnknownOperator)
	}
	x, err := e.eval(args[1], env)
	if err != nil {
		return nil, err
	}
	xf, ok := toNumber(x)
	if !ok {
		return nil, fmt.Errorf("%w: interpolate input", ErrType)
	}
	ins, outs, err := e.stops(args, 2, env)
	if err != nil {
		return nil, err
	}
	if xf <= ins[0] {
		return outs[0], nil
	}
	last := len(ins) - 1
	if xf >= ins[last] {
		return outs[last], nil
	}
	for i := 0; i < last; i++ {
		if xf >= ins[i] && xf < ins[i+1] {
			a, aok := toNumber(outs[i])
			b, bok := toNumber(outs[i+1])
			if !aok || !bok {
				return outs[i], nil
			}
			t := (xf - ins[i]) / (ins[i+1] - ins[i])
			return a + t*(b-a), nil
		}
	}
	return outs[last], nil
}

func (e *evaluator) step(args doc.Sequence, env *scope) (any, error) {
	if len(args) < 2 || len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: step", ErrArity)
	}
	x, err := e.eval(args[0], env)
	if err != nil {
		return nil, err
	}
	xf, ok := toNumber(x)
	if !ok {
		return nil, fmt.Errorf("%w: step input", ErrType)
	}
	out, err := e.eval(args[1], env)
	if err != nil {
		return nil, err
	}
	ins, outs, err := e.stops(args, 2, env)
	if err != nil {
		return nil, err
	}
	for i, in := range ins {
		if xf < in {
			break
		}
		out = outs[i]
	}
	return out, nil
}

func textOf(n doc.Node) (string, bool) {
	lit, ok := n.(doc.Literal)
	if !ok {
		return "", false
	}
	return lit.Text()
}

func single[T any](vals []any) (T, bool) {
	var zero T
	if len(vals) != 1 {
		return zero, false
	}
	v, ok := vals[0].(T)
	return v, ok
}

// normalize maps feature property values onto the evaluator's value space.
func normalize(v any) any {
	switch v.(type) {
	case string, bool, nil:
		return v
	}
	if f, ok := toNumber(v); ok {
		return f
	}
	return v
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func equalValues(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af == bf
	}
	switch a.(type) {
	case string, bool, nil:
		return a == b
	}
	return false
}

func compare(op string, a, b any) (bool, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrType, op)
		}
		return cmpResult(op, stringsCompare(as, bs)), nil
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if !aok || !bok {
		return false, fmt.Errorf("%w: %s", ErrType, op)
	}
	switch {
	case af < bf:
		return cmpResult(op, -1), nil
	case af > bf:
		return cmpResult(op, 1), nil
	}
	return cmpResult(op, 0), nil
}

func stringsCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpResult(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	}
	return c >= 0
}

func indexOf(vals []any) (any, error) {
	if len(vals) < 2 || len(vals) > 3 {
		return nil, fmt.Errorf("%w: index-of", ErrArity)
	}
	needle := toString(vals[0])
	hay, ok := vals[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: index-of haystack", ErrType)
	}
	runes := []rune(hay)
	from := 0
	if len(vals) == 3 {
		f, ok := toNumber(vals[2])
		if !ok {
			return nil, fmt.Errorf("%w: index-of start", ErrType)
		}
		from = clamp(int(f), len(runes))
	}
	nr := []rune(needle)
	for i := from; i+len(nr) <= len(runes); i++ {
		if string(runes[i:i+len(nr)]) == needle {
			return float64(i), nil
		}
	}
	return -1.0, nil
}

func slice(vals []any) (any, error) {
	if len(vals) < 2 || len(vals) > 3 {
		return nil, fmt.Errorf("%w: slice", ErrArity)
	}
	s, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: slice input", ErrType)
	}
	runes := []rune(s)
	start, ok := toNumber(vals[1])
	if !ok {
		return nil, fmt.Errorf("%w: slice start", ErrType)
	}
	end := float64(len(runes))
	if len(vals) == 3 {
		if end, ok = toNumber(vals[2]); !ok {
			return nil, fmt.Errorf("%w: slice end", ErrType)
		}
	}
	i, j := clamp(int(start), len(runes)), clamp(int(end), len(runes))
	if j < i {
		return "", nil
	}
	return string(runes[i:j]), nil
}

// clamp applies JavaScript slice index rules: negatives count from the end.
func clamp(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			return 0
		}
	}
	if i > n {
		return n
	}
	return i
}
