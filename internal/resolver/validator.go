package resolver

import (
	"errors"
	"fmt"
	"strings"

	"enrollsync/pkg/cel"
	apperrors "enrollsync/pkg/errors"
)

// ValidateRule checks the shape of rule and that its expression compiles to
// a boolean. Failures are validation errors.
func ValidateRule(evaluator *cel.Evaluator, rule Rule) error {
	var errs []error

	if strings.TrimSpace(rule.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !rule.Kind.Valid() {
		errs = append(errs, fmt.Errorf("unknown kind %q", rule.Kind))
	}
	if rule.Size < 1 || rule.Size > MaxRuleSize {
		errs = append(errs, fmt.Errorf("size must be between 1 and %d", MaxRuleSize))
	}
	if strings.TrimSpace(rule.Expression) == "" {
		errs = append(errs, errors.New("expression is required"))
	} else if err := evaluator.ValidateExpression(rule.Expression); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return apperrors.ErrValidation.WithCause(errors.Join(errs...)).WithDetail("message", errors.Join(errs...).Error())
}
