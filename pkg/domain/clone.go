package domain

import (
	"encoding/json"
	"maps"
	"slices"
)

// cloneValue deep copies the value shapes an attribute map carries: decoded
// JSON objects and arrays, the string lists and date part maps hosts submit
// for csv and date keys, raw JSON, and nested attribute maps. Scalars and
// any other type are returned as is.
func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		if typed == nil {
			return typed
		}
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = cloneValue(v)
		}
		return out
	case []any:
		if typed == nil {
			return typed
		}
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = cloneValue(v)
		}
		return out
	case []map[string]any:
		if typed == nil {
			return typed
		}
		out := make([]map[string]any, len(typed))
		for i, m := range typed {
			out[i], _ = cloneValue(m).(map[string]any)
		}
		return out
	case []string:
		return slices.Clone(typed)
	case map[string]string:
		return maps.Clone(typed)
	case json.RawMessage:
		return slices.Clone(typed)
	case *Attributes:
		return typed.Clone()
	default:
		return value
	}
}
