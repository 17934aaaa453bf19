package domain

import "maps"

// DefaultDateFormat is the strftime pattern used when a date key has no
// usable output format.
const DefaultDateFormat = "%Y-%m-%d"

// EncodingOptions is the mutable input used to build an EncodingConfig.
// JSONEncoding is a pointer so that an unset value keeps the default (true).
type EncodingOptions struct {
	JSONEncoding   *bool
	RestrictedKeys []string
	CSVKeys        []string
	DateKeys       map[string]string
}

// EncodingConfig holds the per-host-type encoding settings. It is immutable
// once constructed; accessors return copies.
type EncodingConfig struct {
	jsonEnabled bool
	restricted  KeySet
	csv         KeySet
	dates       map[string]string
}

// NewEncodingConfig copies opts into an immutable configuration.
func NewEncodingConfig(opts EncodingOptions) EncodingConfig {
	cfg := EncodingConfig{
		jsonEnabled: true,
		restricted:  NewKeySet(opts.RestrictedKeys...),
		csv:         NewKeySet(opts.CSVKeys...),
		dates:       maps.Clone(opts.DateKeys),
	}
	if opts.JSONEncoding != nil {
		cfg.jsonEnabled = *opts.JSONEncoding
	}
	if cfg.dates == nil {
		cfg.dates = map[string]string{}
	}
	return cfg
}

// DefaultEncodingConfig returns the configuration with every default applied.
func DefaultEncodingConfig() EncodingConfig {
	return NewEncodingConfig(EncodingOptions{})
}

// JSONEnabled reports whether values are JSON encoded on write and decoded on read.
func (c EncodingConfig) JSONEnabled() bool { return c.jsonEnabled }

// IsRestricted reports whether key must never be persisted as an extra attribute.
func (c EncodingConfig) IsRestricted(key string) bool { return c.restricted.Has(key) }

// RestrictedKeys returns a copy of the restricted set.
func (c EncodingConfig) RestrictedKeys() KeySet { return maps.Clone(c.restricted) }

// IsCSVKey reports whether sequences stored under key are joined as CSV.
func (c EncodingConfig) IsCSVKey(key string) bool { return c.csv.Has(key) }

// HasCSVKeys reports whether any csv key is configured.
func (c EncodingConfig) HasCSVKeys() bool { return len(c.csv) > 0 }

// DateFormat returns the configured output pattern for key.
func (c EncodingConfig) DateFormat(key string) (string, bool) {
	f, ok := c.dates[key]
	return f, ok
}

// HasDateKeys reports whether any date key is configured.
func (c EncodingConfig) HasDateKeys() bool { return len(c.dates) > 0 }

// OverlappingKeys returns keys configured both as csv and date keys, which
// the pipeline order would otherwise silently resolve.
func (c EncodingConfig) OverlappingKeys() []string {
	var out []string
	for _, k := range c.csv.Sorted() {
		if _, ok := c.dates[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Bool returns a pointer to b, for EncodingOptions literals.
func Bool(b bool) *bool { return &b }
