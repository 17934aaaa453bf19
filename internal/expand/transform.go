package expand

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Transform is one encoding step of the pipeline. Encode must return value
// unchanged when its precondition does not hold; Decode is the inverse step
// applied on read and may be the identity.
type Transform interface {
	Name() string
	Encode(key string, value any) any
	Decode(key string, stored any) any
}

// stringify renders a scalar the way the side table stores it when no JSON
// encoding applies: true becomes "1", false and nil become "".
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return ""
	case json.Number:
		return v.String()
	}
	if s, ok := formatNumber(value); ok {
		return s
	}
	return fmt.Sprint(value)
}

// formatNumber renders Go numeric kinds as decimal strings.
func formatNumber(value any) (string, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true
	default:
		return "", false
	}
}

func isNumber(value any) bool {
	if _, ok := value.(json.Number); ok {
		return true
	}
	_, ok := formatNumber(value)
	return ok
}

// sequence flattens slices and arrays into []any. Maps are not sequences.
func sequence(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range rv.Len() {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func trimmed(value any) string {
	return strings.TrimSpace(stringify(value))
}
