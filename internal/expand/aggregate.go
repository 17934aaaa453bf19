package expand

import (
	"context"
	"fmt"

	"expandable/pkg/domain"
)

// UnmappableKeyMessage is recorded under domain.SystemErrorKey when an error
// cannot be attributed to a named attribute.
const UnmappableKeyMessage = "attribute names must not be blank"

// Aggregate validates rows as one batch through validator and merges the
// per-key errors into hostErrs under each attribute's own name. Rows with a
// blank key, and errors the validator reports for keys that match no
// candidate row, collapse into a single entry under domain.SystemErrorKey.
// hostErrs must be non-nil. The result is true only when hostErrs is empty
// afterwards, so host errors recorded by the caller also fail the batch.
func Aggregate(ctx context.Context, hostErrs domain.ValidationErrors, rows []domain.AttributeRow, validator domain.RowValidator) (bool, error) {
	candidates := make(domain.KeySet, len(rows))
	unmappable := false
	for _, row := range rows {
		if domain.IsBlankKey(row.Key) {
			unmappable = true
			continue
		}
		candidates[row.Key] = struct{}{}
	}

	var reported map[string][]string
	if validator != nil && len(rows) > 0 {
		var err error
		reported, err = validator.ValidateRows(ctx, rows)
		if err != nil {
			return false, fmt.Errorf("validate attribute rows: %w", err)
		}
	}

	merged := make(domain.KeySet, len(reported))
	for _, row := range rows {
		if !candidates.Has(row.Key) || merged.Has(row.Key) {
			continue
		}
		merged[row.Key] = struct{}{}
		hostErrs.Add(row.Key, reported[row.Key]...)
	}
	for key, msgs := range reported {
		if len(msgs) > 0 && !candidates.Has(key) {
			unmappable = true
		}
	}
	if unmappable && len(hostErrs[domain.SystemErrorKey]) == 0 {
		hostErrs.Add(domain.SystemErrorKey, UnmappableKeyMessage)
	}
	return hostErrs.Empty(), nil
}
