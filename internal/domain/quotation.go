package domain

import (
	"time"
)

// QuoteRequest is the input to one pricing evaluation.
type QuoteRequest struct {
	CalcRuleID string `json:"calcRuleId"`

	// Parameters are the caller-supplied values, as strings; they are
	// coerced to the declared parameter types before evaluation.
	Parameters map[string]string `json:"parameters"`

	// SelectedFormulaCode picks a formula variant; empty means the rule's
	// base formula.
	SelectedFormulaCode string `json:"selectedFormulaCode,omitempty"`

	// PackageCode and OptionCodes select overlays whose KEY=VALUE pairs
	// pre-bind parameters before evaluation.
	PackageCode string   `json:"packageCode,omitempty"`
	OptionCodes []string `json:"optionCodes,omitempty"`
}

// TaxLine is one tax applied to the adjusted net premium.
type TaxLine struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// FeeLine is one fee included in the total due.
type FeeLine struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// ChargeLine is one loading applied to the net premium.
type ChargeLine struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// Quotation is the complete premium breakdown for one evaluation.
// Amounts are raw numbers; currency formatting belongs to the caller.
type Quotation struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	RuleID      string    `json:"ruleId"`
	RuleVersion int       `json:"ruleVersion"`
	FormulaCode string    `json:"formulaCode,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	PrimeNette  float64      `json:"primeNette"`
	Charges     []ChargeLine `json:"charges,omitempty"`
	AdjustedNet float64      `json:"primeNetteAjustee"`

	Taxes      []TaxLine `json:"taxes"`
	TotalTaxes float64   `json:"totalTaxes"`
	PrimeTTC   float64   `json:"primeTTC"`

	Fees      []FeeLine `json:"fees"`
	TotalFees float64   `json:"totalFees"`
	TotalDue  float64   `json:"totalAPayer"`

	// Guarantees of the selected formula, echoed so the caller can render
	// coverage next to the price.
	Guarantees []Guarantee `json:"guarantees,omitempty"`

	Metadata QuotationMetadata `json:"metadata"`
}

// QuotationMetadata carries processing information.
type QuotationMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	EvalMs        int64  `json:"evalMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion,omitempty"`
}
