package engine

import (
	"fmt"
	"strings"

	"github.com/assurtech-ci/tarif/internal/domain"
)

// parseOverlay parses an authored "KEY=VALUE;KEY=VALUE" configuration
// string into an ordered key-value list. Empty segments are tolerated
// (trailing semicolons are common in authored data); a segment without
// "=" is a rule configuration error.
func parseOverlay(config string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, segment := range strings.Split(config, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, found := strings.Cut(segment, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("%w: malformed overlay segment %q", domain.ErrInvalidRule, segment)
		}
		pairs[key] = strings.TrimSpace(value)
	}
	return pairs, nil
}

// selectExpression picks the expression to evaluate: the named formula's
// override when present and non-empty, the base formula otherwise.
func selectExpression(rule *domain.CalcRule, selectedFormulaCode string) (string, *domain.Formula, error) {
	if selectedFormulaCode == "" {
		return rule.BaseFormula, nil, nil
	}
	formula, ok := rule.FindFormula(selectedFormulaCode)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q on rule %s", domain.ErrUnknownFormula, selectedFormulaCode, rule.ID)
	}
	if strings.TrimSpace(formula.Expression) != "" {
		return formula.Expression, formula, nil
	}
	return rule.BaseFormula, formula, nil
}
