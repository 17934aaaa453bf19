package domain

import (
	"maps"
	"slices"
)

// ValidationErrors maps a field name (or SystemErrorKey) to its ordered
// error messages. It doubles as the host record's own error collection.
type ValidationErrors map[string][]string

// Add appends messages under field. Empty message lists are ignored.
func (e ValidationErrors) Add(field string, messages ...string) {
	if len(messages) == 0 {
		return
	}
	e[field] = append(e[field], messages...)
}

// Merge appends every entry of other into e.
func (e ValidationErrors) Merge(other ValidationErrors) {
	for _, field := range other.Fields() {
		e.Add(field, other[field]...)
	}
}

// Fields returns the field names in lexical order.
func (e ValidationErrors) Fields() []string {
	fields := slices.Collect(maps.Keys(e))
	slices.Sort(fields)
	return fields
}

// Empty reports whether no field carries an error.
func (e ValidationErrors) Empty() bool {
	for _, msgs := range e {
		if len(msgs) > 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (e ValidationErrors) Clone() ValidationErrors {
	out := make(ValidationErrors, len(e))
	for k, v := range e {
		out[k] = slices.Clone(v)
	}
	return out
}

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock prevents the batch from being persisted.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but does not block persistence.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation against one attribute row.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Key      string
}

// Result aggregates violations from a rules evaluation.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Errors groups blocking violation messages by attribute key.
func (r Result) Errors() map[string][]string {
	out := make(map[string][]string)
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		out[v.Key] = append(out[v.Key], v.Message)
	}
	return out
}
