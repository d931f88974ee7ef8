package store

import (
	"cmp"
	"slices"
	"time"
)

// rank orders value types the way Firestore orders mixed-type fields, with
// pending server timestamps after every committed instant.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case time.Time:
		return 3
	case pendingTimestamp, serverTimestamp:
		return 4
	case string:
		return 5
	default:
		return 6
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Compare orders two field values.
func Compare(a, b any) int {
	if ra, rb := rank(a), rank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int, int32, int64, float32, float64:
		return cmp.Compare(toFloat(x), toFloat(b))
	case time.Time:
		return x.Compare(b.(time.Time))
	case string:
		return cmp.Compare(x, b.(string))
	}
	return 0
}

// Contains reports whether an array field value holds v.
func Contains(array any, v any) bool {
	switch arr := array.(type) {
	case []any:
		return slices.ContainsFunc(arr, func(e any) bool { return rank(e) == rank(v) && Compare(e, v) == 0 })
	case []string:
		s, ok := v.(string)
		return ok && slices.Contains(arr, s)
	}
	return false
}

// Normalize converts typed slices and maps to their []any / map[string]any
// forms so every backend hands back the same shapes.
func Normalize(v any) any {
	switch x := v.(type) {
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case Fields:
		return Normalize(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out
	case ArrayUnion:
		return x
	}
	return v
}

// Clone deep-copies fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return Fields(Normalize(map[string]any(f)).(map[string]any))
}
