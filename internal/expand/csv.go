package expand

import (
	"strings"

	"expandable/pkg/domain"
)

// CSVTransform joins sequences stored under csv keys into a comma separated
// string so the side table can be searched with set functions. Elements are
// stringified and trimmed; booleans and nil lose their type.
type CSVTransform struct {
	cfg domain.EncodingConfig
}

// NewCSVTransform constructs the transform for cfg's csv keys.
func NewCSVTransform(cfg domain.EncodingConfig) CSVTransform {
	return CSVTransform{cfg: cfg}
}

func (CSVTransform) Name() string { return "csv" }

// Encode joins value when it is a sequence and key is a csv key.
func (t CSVTransform) Encode(key string, value any) any {
	if !t.cfg.IsCSVKey(key) {
		return value
	}
	elems, ok := sequence(value)
	if !ok {
		return value
	}
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = trimmed(e)
	}
	return strings.Join(parts, ",")
}

// Decode is the identity: csv values are read back as the joined string.
func (CSVTransform) Decode(_ string, stored any) any { return stored }
