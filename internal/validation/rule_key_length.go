package validation

import (
	"context"
	"fmt"
	"unicode/utf8"

	"expandable/pkg/domain"
)

// NewKeyLengthRule returns the rule rejecting attribute names longer than max
// characters, the width of the key column.
func NewKeyLengthRule(max int) domain.Rule {
	return keyLengthRule{max: max}
}

type keyLengthRule struct {
	max int
}

func (keyLengthRule) Name() string { return "key_length" }

func (r keyLengthRule) Evaluate(_ context.Context, rows []domain.AttributeRow) (domain.Result, error) {
	res := domain.Result{}
	for _, row := range rows {
		if n := utf8.RuneCountInString(row.Key); n > r.max {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "key_length",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("attribute name is too long (%d/%d characters)", n, r.max),
				Key:      row.Key,
			})
		}
	}
	return res, nil
}
