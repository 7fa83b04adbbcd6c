package value

import (
	"cmp"
	"slices"
)

// rank orders value categories the way SQLite orders storage classes.
func rank(v Value) int {
	switch v.(type) {
	case nil, Null:
		return 0
	case Bool:
		return 1
	case Int, Float:
		return 2
	case String:
		return 3
	default:
		return 4
	}
}

// Compare returns -1, 0 or +1 ordering a before, equal to, or after b.
// Values of different categories order by category; numbers compare
// numerically across Int and Float; strings compare bytewise.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Int:
		if bv, ok := b.(Int); ok {
			return cmp.Compare(av, bv)
		}
		return cmp.Compare(float64(av), float64(b.(Float)))
	case Float:
		if bv, ok := b.(Int); ok {
			return cmp.Compare(float64(av), float64(bv))
		}
		return cmp.Compare(av, b.(Float))
	case String:
		return cmp.Compare(av, b.(String))
	default:
		return 0
	}
}

// Equal reports whether a and b are equal under Compare.
// Null equals only Null.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// CloneMap returns a shallow copy of an attribute map. Values are immutable.
func CloneMap(m map[string]Value) map[string]Value {
	if m == nil {
		return map[string]Value{}
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
