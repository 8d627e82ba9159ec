package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/dsl"
)

// Date layouts accepted for date parameters, tried in order.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// coerceParameter converts a caller-supplied string into a typed value per
// the parameter's declared type.
func coerceParameter(p *domain.Parameter, raw string) (dsl.Value, error) {
	switch p.Type {
	case domain.ParamNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return dsl.Value{}, &domain.ValidationError{
				ParameterCode: p.Code,
				Reason:        fmt.Sprintf("expected a number, got %q", raw),
			}
		}
		return dsl.Number(n), nil

	case domain.ParamBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "oui":
			return dsl.Bool(true), nil
		case "false", "0", "non":
			return dsl.Bool(false), nil
		}
		return dsl.Value{}, &domain.ValidationError{
			ParameterCode: p.Code,
			Reason:        fmt.Sprintf("expected a boolean, got %q", raw),
		}

	case domain.ParamDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
				return dsl.Date(t), nil
			}
		}
		return dsl.Value{}, &domain.ValidationError{
			ParameterCode: p.Code,
			Reason:        fmt.Sprintf("expected a date (YYYY-MM-DD), got %q", raw),
		}

	case domain.ParamSelect:
		for _, opt := range p.Options {
			if raw == opt {
				return dsl.String(raw), nil
			}
		}
		return dsl.Value{}, &domain.ValidationError{
			ParameterCode: p.Code,
			Reason:        fmt.Sprintf("%q is not one of the allowed options", raw),
		}

	case domain.ParamText:
		return dsl.String(raw), nil
	}

	return dsl.Value{}, &domain.ValidationError{
		ParameterCode: p.Code,
		Reason:        fmt.Sprintf("unknown parameter type %q", p.Type),
	}
}

// detectValue guesses the type of a value whose parameter code is not
// declared on the rule: numeric strings become numbers, everything else
// stays a string. Overlay keys are checked against declared parameters at
// validation time, so this only applies to request-supplied extras and to
// rules stored before that check existed.
func detectValue(raw string) dsl.Value {
	if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return dsl.Number(n)
	}
	return dsl.String(raw)
}
