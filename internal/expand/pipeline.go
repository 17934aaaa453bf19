package expand

import (
	"fmt"
	"time"

	"expandable/pkg/domain"
)

// Pipeline applies the configured transforms in order on write and in
// reverse order on read.
type Pipeline struct {
	transforms []Transform
}

// NewPipeline composes the transforms enabled by cfg, in the fixed order
// date, csv, json. now feeds date defaults and may be nil.
func NewPipeline(cfg domain.EncodingConfig, now func() time.Time) *Pipeline {
	var transforms []Transform
	if cfg.HasDateKeys() {
		transforms = append(transforms, NewDateTransform(cfg, now))
	}
	if cfg.HasCSVKeys() {
		transforms = append(transforms, NewCSVTransform(cfg))
	}
	if cfg.JSONEnabled() {
		transforms = append(transforms, JSONTransform{})
	}
	return &Pipeline{transforms: transforms}
}

// NewPipelineOf composes an explicit transform list.
func NewPipelineOf(transforms ...Transform) *Pipeline {
	return &Pipeline{transforms: transforms}
}

// Names lists the transforms in application order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.transforms))
	for i, t := range p.transforms {
		names[i] = t.Name()
	}
	return names
}

// Encode reduces value to the string stored in the side table. Scalars left
// over by the transforms are stringified; structured values that no
// transform handled fail with domain.ErrUnencodable.
func (p *Pipeline) Encode(key string, value any) (string, error) {
	for _, t := range p.transforms {
		value = t.Encode(key, value)
	}
	switch v := value.(type) {
	case nil, bool, string:
		return stringify(v), nil
	}
	if isNumber(value) {
		return stringify(value), nil
	}
	return "", fmt.Errorf("%w: %q holds %T", domain.ErrUnencodable, key, value)
}

// Decode restores a stored string through the transforms in reverse order.
func (p *Pipeline) Decode(key, stored string) any {
	var value any = stored
	for i := len(p.transforms) - 1; i >= 0; i-- {
		value = p.transforms[i].Decode(key, value)
	}
	return value
}
