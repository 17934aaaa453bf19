package expand

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"expandable/pkg/domain"
)

const canonicalDateLayout = "2006-01-02"

// strftime conversions accepted in configured date formats.
const dateConversions = "aAbBCdDeFgGHIjklmMnpPrRStTuUVwWxXyYzZ%"

// DateTransform turns a structured {year, month, day} value into a date
// string for keys configured with an output format. Missing parts default
// to the current date.
type DateTransform struct {
	cfg domain.EncodingConfig
	now func() time.Time
}

// NewDateTransform constructs the transform; now defaults to time.Now.
func NewDateTransform(cfg domain.EncodingConfig, now func() time.Time) DateTransform {
	if now == nil {
		now = time.Now
	}
	return DateTransform{cfg: cfg, now: now}
}

func (DateTransform) Name() string { return "date" }

// Encode formats value when it is a date map and key has a date format.
// Input that cannot form a valid calendar date is returned unchanged.
func (t DateTransform) Encode(key string, value any) any {
	parts, ok := dateParts(value)
	if !ok {
		return value
	}
	format, ok := t.cfg.DateFormat(key)
	if !ok {
		return value
	}
	if !ValidDateFormat(format) {
		format = domain.DefaultDateFormat
	}

	today := t.now()
	year, okY := datePart(parts, "year", today.Year())
	month, okM := datePart(parts, "month", int(today.Month()))
	day, okD := datePart(parts, "day", today.Day())
	if !okY || !okM || !okD {
		return value
	}
	canonical := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	parsed, err := time.Parse(canonicalDateLayout, canonical)
	if err != nil {
		return value
	}
	return strftime.Format(format, parsed)
}

// Decode is the identity: formatted dates are read back as strings.
func (DateTransform) Decode(_ string, stored any) any { return stored }

// ValidDateFormat reports whether format is a strftime pattern with at least
// one conversion and only known conversions.
func ValidDateFormat(format string) bool {
	conversions := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 >= len(format) || !strings.ContainsRune(dateConversions, rune(format[i+1])) {
			return false
		}
		conversions++
		i++
	}
	return conversions > 0
}

func dateParts(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, hasDateKey(v)
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, hasDateKey(out)
	case *domain.Attributes:
		m := v.Map()
		return m, hasDateKey(m)
	default:
		return nil, false
	}
}

func hasDateKey(m map[string]any) bool {
	for _, k := range []string{"year", "month", "day"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// datePart reads one component; absent or empty components take def.
func datePart(parts map[string]any, name string, def int) (int, bool) {
	raw, ok := parts[name]
	if !ok || raw == nil {
		return def, true
	}
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return def, true
		}
		n, err := strconv.Atoi(s)
		return n, err == nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}
