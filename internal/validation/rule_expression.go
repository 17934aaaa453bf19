package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"expandable/pkg/domain"
)

// ExpressionRuleSpec describes a rule written as a CEL expression over one
// row. The expression sees key, value (the encoded string) and owner_id,
// and must evaluate to true for the row to pass.
type ExpressionRuleSpec struct {
	Name       string
	Keys       []string
	Expression string
	Message    string
	Severity   domain.Severity
}

type expressionRule struct {
	spec    ExpressionRuleSpec
	keys    domain.KeySet
	program cel.Program
}

func newExpressionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("value", cel.StringType),
		cel.Variable("owner_id", cel.StringType),
	)
}

// NewExpressionRule compiles spec. Rules without keys apply to every row.
func NewExpressionRule(spec ExpressionRuleSpec) (domain.Rule, error) {
	if spec.Name == "" {
		return nil, errors.New("validation: rule name is required")
	}
	if spec.Expression == "" {
		return nil, fmt.Errorf("validation: rule %s has no expression", spec.Name)
	}
	if spec.Severity == "" {
		spec.Severity = domain.SeverityBlock
	}
	if spec.Severity != domain.SeverityBlock && spec.Severity != domain.SeverityWarn {
		return nil, fmt.Errorf("validation: rule %s has unknown severity %q", spec.Name, spec.Severity)
	}
	if spec.Message == "" {
		spec.Message = "is invalid"
	}
	env, err := newExpressionEnv()
	if err != nil {
		return nil, fmt.Errorf("validation: create expression environment: %w", err)
	}
	ast, issues := env.Compile(spec.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("validation: rule %s: invalid expression: %w", spec.Name, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("validation: rule %s: expression yields %s, want bool", spec.Name, out)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("validation: rule %s: build program: %w", spec.Name, err)
	}
	var keys domain.KeySet
	if len(spec.Keys) > 0 {
		keys = domain.NewKeySet(spec.Keys...)
	}
	return &expressionRule{spec: spec, keys: keys, program: program}, nil
}

func (r *expressionRule) Name() string { return r.spec.Name }

func (r *expressionRule) Evaluate(ctx context.Context, rows []domain.AttributeRow) (domain.Result, error) {
	res := domain.Result{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return domain.Result{}, err
		}
		if r.keys != nil && !r.keys.Has(row.Key) {
			continue
		}
		out, _, err := r.program.Eval(map[string]any{
			"key":      row.Key,
			"value":    row.Value,
			"owner_id": row.OwnerID,
		})
		if err != nil {
			return domain.Result{}, fmt.Errorf("rule %s on %q: %w", r.spec.Name, row.Key, err)
		}
		passed, ok := out.Value().(bool)
		if !ok {
			return domain.Result{}, fmt.Errorf("rule %s on %q: expression yielded %T", r.spec.Name, row.Key, out.Value())
		}
		if passed {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.spec.Name,
			Severity: r.spec.Severity,
			Message:  r.spec.Message,
			Key:      row.Key,
		})
	}
	return res, nil
}
