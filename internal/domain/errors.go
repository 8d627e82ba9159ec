package domain

import (
	"errors"
	"fmt"
)

// Configuration errors. Evaluating an unknown or inactive rule, or naming a
// formula the rule does not define, is a configuration problem rather than a
// data problem, and is reported separately from evaluation failures.
var (
	ErrRuleNotFound   = errors.New("rule not found")
	ErrRuleInactive   = errors.New("rule is inactive")
	ErrUnknownFormula = errors.New("unknown formula")
	ErrInvalidRule    = errors.New("invalid rule")
)

// ValidationError reports a missing or mistyped required parameter.
// The pipeline fails fast on the first violation; no partial computation
// is performed.
type ValidationError struct {
	ParameterCode string
	Reason        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for parameter %q: %s", e.ParameterCode, e.Reason)
}
