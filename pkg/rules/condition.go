package rules

import "math"

// Evaluate tests value against the condition. It is total: a nil value,
// mismatched types, a malformed condition value or an unknown operator all
// yield false.
func (c Condition) Evaluate(value any) bool {
	if value == nil {
		return false
	}
	switch c.Operator {
	case OpEq:
		return equal(value, c.Value)
	case OpGt:
		return compare(value, c.Value, func(a, b float64) bool { return a > b })
	case OpGte:
		return compare(value, c.Value, func(a, b float64) bool { return a >= b })
	case OpLt:
		return compare(value, c.Value, func(a, b float64) bool { return a < b })
	case OpLte:
		return compare(value, c.Value, func(a, b float64) bool { return a <= b })
	case OpBetween:
		return between(value, c.Value)
	case OpIn:
		return member(value, c.Value)
	default:
		return false
	}
}

func compare(actual, target any, cmp func(a, b float64) bool) bool {
	a, ok := asNumber(actual)
	if !ok {
		return false
	}
	b, ok := asNumber(target)
	if !ok {
		return false
	}
	return cmp(a, b)
}

func between(actual, bounds any) bool {
	v, ok := asNumber(actual)
	if !ok {
		return false
	}
	lo, hi, ok := asRange(bounds)
	if !ok {
		return false
	}
	return v >= lo && v <= hi
}

func member(actual, set any) bool {
	items, ok := asList(set)
	if !ok {
		return false
	}
	for _, item := range items {
		if equal(actual, item) {
			return true
		}
	}
	return false
}

// equal is type-sensitive: numbers only equal numbers, strings only strings.
func equal(a, b any) bool {
	if x, ok := asNumber(a); ok {
		y, ok := asNumber(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	default:
		return false
	}
}

func asNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case [2]float64:
		return []any{l[0], l[1]}, true
	default:
		return nil, false
	}
}

func asRange(v any) (lo, hi float64, ok bool) {
	items, ok := asList(v)
	if !ok || len(items) != 2 {
		return 0, 0, false
	}
	lo, okLo := asNumber(items[0])
	hi, okHi := asNumber(items[1])
	if !okLo || !okHi {
		return 0, 0, false
	}
	return lo, hi, true
}

// normalizeValue converts YAML/JSON decoded condition values into the
// canonical forms Evaluate works with: numbers become float64 and lists
// become []any.
func normalizeValue(v any) any {
	if n, ok := asNumber(v); ok {
		return n
	}
	if items, ok := asList(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}
