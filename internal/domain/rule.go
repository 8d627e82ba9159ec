package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RuleType distinguishes life from non-life products.
type RuleType string

const (
	RuleTypeVie    RuleType = "vie"
	RuleTypeNonVie RuleType = "non-vie"
)

// ParameterType is the declared input type of a rule parameter.
type ParameterType string

const (
	ParamText    ParameterType = "text"
	ParamNumber  ParameterType = "number"
	ParamSelect  ParameterType = "select"
	ParamDate    ParameterType = "date"
	ParamBoolean ParameterType = "boolean"
)

// TableType identifies how a rate table is resolved.
type TableType string

const (
	TableKeyValue TableType = "key_value"
	TableBrackets TableType = "brackets"
)

// ChargeKind determines how a charge is applied to the net premium.
type ChargeKind string

const (
	// ChargeRate adds primeNette * value/100.
	ChargeRate ChargeKind = "RATE"
	// ChargeFlat adds the value as-is.
	ChargeFlat ChargeKind = "FLAT"
	// ChargeFormula evaluates the value as a DSL expression with
	// prime_nette bound, and adds the result.
	ChargeFormula ChargeKind = "FORMULA"
)

// Charge categories, in application order.
const (
	ChargeCategoryTechnique  = "TECHNIQUE"
	ChargeCategoryChargement = "CHARGEMENT"
	ChargeCategoryFrais      = "FRAIS"
)

// CalcRule is a persisted pricing rule configuration.
// The engine treats it as an immutable snapshot for the duration of one
// evaluation; concurrent evaluations never share mutable rule state.
type CalcRule struct {
	ID            string   `json:"id"`
	TenantID      string   `json:"tenantId,omitempty"`
	Type          RuleType `json:"type"`
	UsageCategory string   `json:"usageCategory,omitempty"`
	Name          string   `json:"name"`
	Version       int      `json:"version"`
	IsActive      bool     `json:"isActive"`

	Parameters []Parameter `json:"parameters"`
	Formulas   []Formula   `json:"formulas,omitempty"`

	// BaseFormula is the fallback expression when no formula-specific
	// override is selected.
	BaseFormula string `json:"baseFormula"`

	Tables   []Table   `json:"tables,omitempty"`
	Taxes    []Tax     `json:"taxes,omitempty"`
	Fees     []Fee     `json:"fees,omitempty"`
	Charges  []Charge  `json:"charges,omitempty"`
	Packages []Package `json:"packages,omitempty"`
	Options  []Option  `json:"options,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Parameter declares a named input to the rule's formulas.
type Parameter struct {
	Code     string        `json:"code"`
	Label    string        `json:"label"`
	Type     ParameterType `json:"type"`
	Options  []string      `json:"options,omitempty"` // for select
	Required bool          `json:"required"`
	Category string        `json:"category,omitempty"`

	// Value is an optional static default, bound when neither the request
	// nor a package/option overlay supplies the parameter.
	Value string `json:"value,omitempty"`
}

// Formula is a named pricing variant with its guarantees.
type Formula struct {
	Code       string      `json:"code"`
	Name       string      `json:"name"`
	Guarantees []Guarantee `json:"guarantees,omitempty"`

	// Expression overrides the rule's base formula when non-empty.
	Expression string `json:"formula,omitempty"`
}

// Guarantee is a coverage item attached to a formula.
type Guarantee struct {
	Code              string  `json:"code"`
	Label             string  `json:"label"`
	Limit             float64 `json:"limit,omitempty"`
	WaitingPeriodDays int     `json:"waitingPeriodDays,omitempty"`
	IsRequired        bool    `json:"isRequired"`
}

// Table is a rate table referenced by LOOKUP or BRACKET calls.
// Exactly one of KeyValue/Brackets is populated, depending on Type.
type Table struct {
	Code     string             `json:"code"`
	Type     TableType          `json:"type"`
	KeyValue map[string]float64 `json:"keyValue,omitempty"`
	Brackets []Bracket          `json:"brackets,omitempty"`
}

// Bracket is a half-open interval [Min, Max) mapped to a value.
type Bracket struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Value float64 `json:"value"`
}

// Tax is a percentage applied to the adjusted net premium.
type Tax struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Rate     float64 `json:"rate"` // percent
	IsActive bool    `json:"isActive"`
}

// Fee is a flat amount added after taxes, optionally gated by a boolean
// DSL expression evaluated against the same bindings as the formula.
type Fee struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Condition string  `json:"condition,omitempty"`
}

// Charge is a loading factor applied to the net premium before taxes.
type Charge struct {
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Kind         ChargeKind `json:"kind"`
	Value        string     `json:"value"` // number for RATE/FLAT, expression for FORMULA
	Category     string     `json:"category"`
	DisplayOrder int        `json:"displayOrder"`
	IsActive     bool       `json:"isActive"`
}

// UnmarshalJSON defaults the active flag to true when the field is absent,
// so an authored charge applies unless it is explicitly deactivated.
func (c *Charge) UnmarshalJSON(data []byte) error {
	type plain Charge
	aux := struct {
		IsActive *bool `json:"isActive"`
		*plain
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.IsActive = aux.IsActive == nil || *aux.IsActive
	return nil
}

// Package is a named preset that pre-binds parameter values.
type Package struct {
	Code string `json:"code"`
	Name string `json:"name"`

	// Configuration is the authored "KEY=VALUE;KEY=VALUE" overlay string.
	Configuration string `json:"configuration"`

	IsActive     bool `json:"isActive"`
	DisplayOrder int  `json:"displayOrder"`
}

// Option is a smaller preset layered under packages.
type Option struct {
	Code string `json:"code"`
	Name string `json:"name"`

	// Parameters is the authored "KEY=VALUE;KEY=VALUE" overlay string.
	Parameters string `json:"parameters"`

	IsActive     bool `json:"isActive"`
	DisplayOrder int  `json:"displayOrder"`
}

// FindFormula returns the formula with the given code, if any.
func (r *CalcRule) FindFormula(code string) (*Formula, bool) {
	for i := range r.Formulas {
		if r.Formulas[i].Code == code {
			return &r.Formulas[i], true
		}
	}
	return nil, false
}

// FindParameter returns the parameter with the given code, if any.
func (r *CalcRule) FindParameter(code string) (*Parameter, bool) {
	for i := range r.Parameters {
		if r.Parameters[i].Code == code {
			return &r.Parameters[i], true
		}
	}
	return nil, false
}

// FindTable returns the table with the given code, if any.
func (r *CalcRule) FindTable(code string) (*Table, bool) {
	for i := range r.Tables {
		if r.Tables[i].Code == code {
			return &r.Tables[i], true
		}
	}
	return nil, false
}

// Validate checks structural invariants of a rule before it is persisted
// or loaded into the engine: unique codes, known enum values, and table
// shapes that can be resolved for any in-range input.
func (r *CalcRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidRule)
	}
	if r.Type != RuleTypeVie && r.Type != RuleTypeNonVie {
		return fmt.Errorf("%w: rule %s: type must be %q or %q", ErrInvalidRule, r.ID, RuleTypeVie, RuleTypeNonVie)
	}
	if strings.TrimSpace(r.BaseFormula) == "" {
		return fmt.Errorf("%w: rule %s: base formula is required", ErrInvalidRule, r.ID)
	}

	if err := uniqueCodes("parameter", paramCodes(r.Parameters)); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}
	for _, p := range r.Parameters {
		switch p.Type {
		case ParamText, ParamNumber, ParamSelect, ParamDate, ParamBoolean:
		default:
			return fmt.Errorf("%w: rule %s: parameter %s: unknown type %q", ErrInvalidRule, r.ID, p.Code, p.Type)
		}
		if p.Type == ParamSelect && len(p.Options) == 0 {
			return fmt.Errorf("%w: rule %s: parameter %s: select parameter needs options", ErrInvalidRule, r.ID, p.Code)
		}
	}

	formulaCodes := make([]string, 0, len(r.Formulas))
	for _, f := range r.Formulas {
		formulaCodes = append(formulaCodes, f.Code)
	}
	if err := uniqueCodes("formula", formulaCodes); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}

	tableCodes := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		tableCodes = append(tableCodes, t.Code)
		if err := t.validate(); err != nil {
			return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
		}
	}
	if err := uniqueCodes("table", tableCodes); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}

	taxCodes := make([]string, 0, len(r.Taxes))
	for _, t := range r.Taxes {
		taxCodes = append(taxCodes, t.Code)
	}
	if err := uniqueCodes("tax", taxCodes); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}

	feeCodes := make([]string, 0, len(r.Fees))
	for _, f := range r.Fees {
		feeCodes = append(feeCodes, f.Code)
	}
	if err := uniqueCodes("fee", feeCodes); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}

	for _, c := range r.Charges {
		switch c.Kind {
		case ChargeRate, ChargeFlat, ChargeFormula:
		default:
			return fmt.Errorf("%w: rule %s: charge %s: unknown kind %q", ErrInvalidRule, r.ID, c.Code, c.Kind)
		}
		switch c.Category {
		case ChargeCategoryTechnique, ChargeCategoryChargement, ChargeCategoryFrais:
		default:
			return fmt.Errorf("%w: rule %s: charge %s: unknown category %q", ErrInvalidRule, r.ID, c.Code, c.Category)
		}
	}

	return nil
}

func (t *Table) validate() error {
	switch t.Type {
	case TableKeyValue:
		if len(t.KeyValue) == 0 {
			return fmt.Errorf("table %s: key_value table has no entries", t.Code)
		}
	case TableBrackets:
		if len(t.Brackets) == 0 {
			return fmt.Errorf("table %s: brackets table has no intervals", t.Code)
		}
		for i, b := range t.Brackets {
			if b.Max <= b.Min {
				return fmt.Errorf("table %s: bracket %d: max %g must be greater than min %g", t.Code, i, b.Max, b.Min)
			}
			if i > 0 && b.Min < t.Brackets[i-1].Max {
				return fmt.Errorf("table %s: bracket %d overlaps previous interval", t.Code, i)
			}
		}
	default:
		return fmt.Errorf("table %s: unknown type %q", t.Code, t.Type)
	}
	return nil
}

func paramCodes(params []Parameter) []string {
	codes := make([]string, 0, len(params))
	for _, p := range params {
		codes = append(codes, p.Code)
	}
	return codes
}

func uniqueCodes(kind string, codes []string) error {
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c == "" {
			return fmt.Errorf("%s code cannot be empty", kind)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate %s code %q", kind, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
