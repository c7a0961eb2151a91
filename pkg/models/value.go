package models

// Content values form a tree: scalars (number, bool, string), lists, and
// nested map[string]interface{} trees. Sets are carried as lists. The
// helpers below are the single place that walks that shape; merge, diff,
// and resolution code dispatches through them.

// IsTree reports whether v is a nested tree node
func IsTree(v interface{}) bool {
	return AsTree(v) != nil
}

// AsTree returns v as a tree node, or nil if it is not one
func AsTree(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case JSONMap:
		return map[string]interface{}(m)
	default:
		return nil
	}
}

// NumericValue extracts a float64 from any numeric scalar
func NumericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// DeepCopyValue returns a deep copy of a content value
func DeepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		copied := make(map[string]interface{}, len(val))
		for k, child := range val {
			copied[k] = DeepCopyValue(child)
		}
		return copied
	case JSONMap:
		copied := make(map[string]interface{}, len(val))
		for k, child := range val {
			copied[k] = DeepCopyValue(child)
		}
		return copied
	case []interface{}:
		copied := make([]interface{}, len(val))
		for i, child := range val {
			copied[i] = DeepCopyValue(child)
		}
		return copied
	default:
		return val
	}
}

// ValueEqual reports structural equality of two content values. Numeric
// scalars compare by value regardless of Go type, so a proposal built with
// ints matches the same proposal after a JSON round trip.
func ValueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if na, ok := NumericValue(a); ok {
		nb, ok := NumericValue(b)
		return ok && na == nb
	}

	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv := AsTree(b)
		if bv == nil || len(av) != len(bv) {
			return false
		}
		for k, childA := range av {
			childB, exists := bv[k]
			if !exists || !ValueEqual(childA, childB) {
				return false
			}
		}
		return true
	case JSONMap:
		return ValueEqual(map[string]interface{}(av), b)
	default:
		return a == b
	}
}
