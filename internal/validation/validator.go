// Package validation implements the side validator the engine consults for
// candidate attribute rows: a rules engine over built-in and configured
// expression rules.
package validation

import (
	"context"
	"fmt"

	"expandable/internal/observability"
	"expandable/pkg/domain"
)

// Compile-time contract assertion ensuring Validator satisfies the domain interface.
var _ domain.RowValidator = (*Validator)(nil)

// Validator runs a rules engine over candidate rows and reports blocking
// violations keyed by attribute name. Warnings are logged only.
type Validator struct {
	engine *domain.RulesEngine
	logger observability.Logger
}

// NewValidator wraps engine. A nil engine gets the default rule set.
func NewValidator(engine *domain.RulesEngine, logger observability.Logger) *Validator {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Validator{engine: engine, logger: logger}
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine(NewKeyLengthRule(domain.MaxKeyLength))
}

// Rules returns the names of the registered rules.
func (v *Validator) Rules() []string { return v.engine.Rules() }

// ValidateRows implements domain.RowValidator.
func (v *Validator) ValidateRows(ctx context.Context, rows []domain.AttributeRow) (map[string][]string, error) {
	res, err := v.engine.Evaluate(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("evaluate rules: %w", err)
	}
	for _, violation := range res.Violations {
		if violation.Severity == domain.SeverityWarn {
			v.logger.Warn("attribute rule warning",
				observability.String("rule", violation.Rule),
				observability.String("key", violation.Key),
				observability.String("message", violation.Message))
		}
	}
	return res.Errors(), nil
}
