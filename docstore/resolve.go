package docstore

import (
	"reflect"
	"time"
)

// =============================================================================
// SENTINEL RESOLUTION - shared by store implementations
// =============================================================================

// Resolve applies patch on top of base (shallow field merge; pass nil base
// for a replace), resolving ServerTimestamp, ArrayUnion and ArrayRemove
// against the existing field values using now. Neither input is mutated.
func Resolve(base, patch Document, now time.Time) Document {
	out := DeepCopy(base)
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		out[k] = resolveValue(v, out[k], now)
	}
	return out
}

func resolveValue(v, existing any, now time.Time) any {
	if IsServerTimestamp(v) {
		return now
	}
	if values, ok := AsArrayUnion(v); ok {
		arr, _ := existing.([]any)
		out := append([]any{}, arr...)
		for _, val := range values {
			if !containsValue(out, val) {
				out = append(out, resolveValue(val, nil, now))
			}
		}
		return out
	}
	if values, ok := AsArrayRemove(v); ok {
		arr, _ := existing.([]any)
		out := []any{}
		for _, cur := range arr {
			if !containsValue(values, cur) {
				out = append(out, cur)
			}
		}
		return out
	}
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		sub, _ := existing.(map[string]any)
		for k, val := range tv {
			out[k] = resolveValue(val, sub[k], now)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = resolveValue(val, nil, now)
		}
		return out
	default:
		return v
	}
}

func containsValue(arr []any, v any) bool {
	for _, cur := range arr {
		if reflect.DeepEqual(cur, v) {
			return true
		}
	}
	return false
}

// DeepCopy returns a private copy of doc (nil in, nil out).
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}
