// Package domain defines the public types shared by the attribute engine,
// its storage backends and the host integration: ordered attribute maps,
// host records, persisted attribute rows, the per-host-type encoding
// configuration and the collaborator interfaces the engine consumes.
package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// SystemErrorKey is the reserved validation key used for errors that cannot
// be attributed to a named attribute.
const SystemErrorKey = "_expandable"

// MaxKeyLength mirrors the width of the side table's key column.
const MaxKeyLength = 128

// HostRecord is a fixed-schema record owned by the host mapping layer. Its
// attribute map carries both schema-known and extra attributes on input.
type HostRecord struct {
	Type       string      `json:"type"`
	ID         string      `json:"id"`
	Attributes *Attributes `json:"attributes"`
}

// NewHostRecord constructs a record with an initialised attribute map.
func NewHostRecord(hostType, id string, pairs ...Attribute) *HostRecord {
	return &HostRecord{Type: hostType, ID: id, Attributes: NewAttributes(pairs...)}
}

// AttributeRow is the persisted (owner, key, value) unit of the side table.
// For a given OwnerID, Key is unique.
type AttributeRow struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// RowKey identifies a row by its uniqueness constraint.
type RowKey struct {
	OwnerID string
	Key     string
}

// UniqueKey returns the (owner, key) pair of the row.
func (r AttributeRow) UniqueKey() RowKey {
	return RowKey{OwnerID: r.OwnerID, Key: r.Key}
}

// IsBlankKey reports whether key has no usable attribute name.
func IsBlankKey(key string) bool {
	return strings.TrimSpace(key) == ""
}

// KeySet is an immutable-by-convention set of attribute names.
type KeySet map[string]struct{}

// NewKeySet builds a set from the provided names.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports membership; a nil set contains nothing.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Sorted returns the members in lexical order.
func (s KeySet) Sorted() []string {
	keys := slices.Collect(maps.Keys(s))
	slices.Sort(keys)
	return keys
}

// Union returns a new set containing the members of s and other.
func (s KeySet) Union(other KeySet) KeySet {
	out := make(KeySet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}
