package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnencodable indicates a value cannot be reduced to a storage string
	// under the active encoding configuration.
	ErrUnencodable = errors.New("domain: value cannot be encoded for storage")
	// ErrPersistence wraps failures returned by a RowStore during reconcile.
	ErrPersistence = errors.New("domain: attribute row persistence failed")
	// ErrEmptyOwner indicates a write or read was attempted without an owner id.
	ErrEmptyOwner = errors.New("domain: owner id must not be empty")
	// ErrUnknownHostType indicates no engine is configured for a host type.
	ErrUnknownHostType = errors.New("domain: unknown host type")
	// ErrValidationFailed is returned by callers that need an error value for
	// a write rejected by validation.
	ErrValidationFailed = errors.New("domain: attribute validation failed")
)

// RowError attributes a persistence failure to a single (owner, key) row.
type RowError struct {
	OwnerID string
	Key     string
	Err     error
}

func (e RowError) Error() string {
	return fmt.Sprintf("attribute %q for owner %s: %v", e.Key, e.OwnerID, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }
