package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
)

// Attribute is a single named value used to seed an Attributes map.
type Attribute struct {
	Key   string
	Value any
}

// Attributes is an insertion-ordered attribute map. Classification and
// merge both depend on the iteration order of the caller's input, so the
// order in which keys were first set is retained across Set, Clone and the
// JSON round trip.
type Attributes struct {
	keys   []string
	values map[string]any
}

// NewAttributes builds an ordered map from the provided pairs. Repeated keys
// keep their first position and their last value.
func NewAttributes(pairs ...Attribute) *Attributes {
	a := &Attributes{values: make(map[string]any, len(pairs))}
	for _, p := range pairs {
		a.Set(p.Key, p.Value)
	}
	return a
}

func (a *Attributes) ensureMap() {
	if a.values == nil {
		a.values = make(map[string]any)
	}
}

// Set stores value under key. Replacing an existing key keeps its position.
func (a *Attributes) Set(key string, value any) {
	a.ensureMap()
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Get returns the value stored for key.
func (a *Attributes) Get(key string) (any, bool) {
	if a == nil || a.values == nil {
		return nil, false
	}
	v, ok := a.values[key]
	return v, ok
}

// Has reports whether key is present.
func (a *Attributes) Has(key string) bool {
	_, ok := a.Get(key)
	return ok
}

// Delete removes key, preserving the order of the remaining keys.
func (a *Attributes) Delete(key string) {
	if a == nil || a.values == nil {
		return
	}
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	a.keys = slices.DeleteFunc(a.keys, func(k string) bool { return k == key })
}

// Keys returns the attribute names in insertion order.
func (a *Attributes) Keys() []string {
	if a == nil {
		return nil
	}
	return slices.Clone(a.keys)
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// All iterates the attributes in insertion order.
func (a *Attributes) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		if a == nil {
			return
		}
		for _, k := range a.keys {
			if !yield(k, a.values[k]) {
				return
			}
		}
	}
}

// Clone returns a deep copy; mutating nested maps or slices of the clone
// never reaches the original.
func (a *Attributes) Clone() *Attributes {
	if a == nil {
		return nil
	}
	out := &Attributes{
		keys:   slices.Clone(a.keys),
		values: make(map[string]any, len(a.values)),
	}
	for k, v := range a.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

// Map returns an unordered deep copy of the attributes.
func (a *Attributes) Map() map[string]any {
	out := make(map[string]any, a.Len())
	for k, v := range a.All() {
		out[k] = cloneValue(v)
	}
	return out
}

// MarshalJSON renders the attributes as a JSON object in insertion order.
func (a *Attributes) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(a.values[k])
		if err != nil {
			return nil, fmt.Errorf("attributes: marshal %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the document's key order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	a.keys = nil
	a.values = nil
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("attributes: expected JSON object")
	}
	a.ensureMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("attributes: unexpected token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("attributes: decode %q: %w", key, err)
		}
		a.Set(key, value)
	}
	_, err = dec.Token()
	return err
}
