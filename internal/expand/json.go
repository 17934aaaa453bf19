package expand

import (
	"encoding/json"
)

const (
	literalTrue  = "true"
	literalFalse = "false"
	literalNull  = "null"
)

// JSONTransform encodes booleans, nil and structured values into JSON
// strings and reverses that on read. Strings and numbers are stored as-is.
type JSONTransform struct{}

func (JSONTransform) Name() string { return "json" }

// Encode maps value to its storage string. Values encoding/json cannot
// marshal are returned unchanged.
func (JSONTransform) Encode(_ string, value any) any {
	switch v := value.(type) {
	case nil:
		return literalNull
	case bool:
		if v {
			return literalTrue
		}
		return literalFalse
	case string:
		return v
	}
	if s, ok := formatNumber(value); ok {
		return s
	}
	if n, ok := value.(json.Number); ok {
		return n.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	return string(data)
}

// Decode restores literals and JSON documents. Strings that only look like
// JSON, and documents that parse to null, are returned unchanged.
func (JSONTransform) Decode(_ string, stored any) any {
	s, ok := stored.(string)
	if !ok || s == "" {
		return stored
	}
	switch s {
	case literalTrue:
		return true
	case literalFalse:
		return false
	case literalNull:
		return nil
	}
	if s[0] != '{' && s[0] != '[' {
		return s
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil || decoded == nil {
		return s
	}
	return decoded
}
