// Package expand implements the entity-attribute-value engine that lets a
// fixed-schema host record carry an open set of extra attributes. Extra
// attributes are split off the record on write, encoded to strings,
// validated as side rows and reconciled against the side table; on read the
// stored rows are decoded and merged back into the record.
package expand

import "expandable/pkg/domain"

// Classify returns the extra attributes of attrs: every entry that is not a
// schema, association or restricted key, in the input's order. A nil schema
// means the host type has no schema descriptor; classification is then a
// no-op and the result is empty. Values are deep copied.
func Classify(attrs *domain.Attributes, schema, associations, restricted domain.KeySet) *domain.Attributes {
	extra := domain.NewAttributes()
	if schema == nil || attrs.Len() == 0 {
		return extra
	}
	for key, value := range attrs.All() {
		if schema.Has(key) || associations.Has(key) || restricted.Has(key) {
			continue
		}
		extra.Set(key, value)
	}
	return extra.Clone()
}
