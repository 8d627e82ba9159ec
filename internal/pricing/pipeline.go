// Package pricing turns a raw net premium into a full premium breakdown:
// charges (loadings), then taxes, then fees, then totals.
package pricing

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/dsl"
)

// Policy holds the pricing behaviors the rule source leaves open.
type Policy struct {
	// RoundUnit is the monetary rounding unit applied to reported figures
	// only, never to intermediate sub-totals. 1 rounds to the whole unit;
	// 0 disables rounding.
	RoundUnit float64

	// LookupDefault substitutes for key_value lookup misses when set.
	LookupDefault *float64
}

// ParseFunc parses a DSL expression; the engine injects its cached parser
// so charge and fee expressions share the AST cache.
type ParseFunc func(expression string) (dsl.Node, error)

// Pricer applies charges, taxes, and fees to a net premium.
type Pricer struct {
	policy Policy
	parse  ParseFunc
}

// NewPricer creates a pricer with the given policy. When parse is nil,
// expressions are parsed uncached.
func NewPricer(policy Policy, parse ParseFunc) *Pricer {
	if parse == nil {
		parse = dsl.Parse
	}
	return &Pricer{policy: policy, parse: parse}
}

// Breakdown is the monetary result of the pipeline. Totals are sums of the
// reported (rounded) components, so the published invariants hold exactly:
// primeTTC == adjustedNet + totalTaxes and totalDue == primeTTC + totalFees.
type Breakdown struct {
	PrimeNette  float64
	Charges     []domain.ChargeLine
	AdjustedNet float64
	Taxes       []domain.TaxLine
	TotalTaxes  float64
	PrimeTTC    float64
	Fees        []domain.FeeLine
	TotalFees   float64
	TotalDue    float64
}

// Price runs the ordered pipeline steps over a raw formula result.
// env carries the same parameter bindings used for the formula, so fee
// conditions and charge expressions see the merged request context.
func (p *Pricer) Price(rule *domain.CalcRule, primeNette float64, env *dsl.Env) (*Breakdown, error) {
	b := &Breakdown{PrimeNette: p.round(primeNette)}

	adjusted, lines, err := p.applyCharges(rule, primeNette, env)
	if err != nil {
		return nil, err
	}
	b.Charges = lines
	b.AdjustedNet = p.round(adjusted)

	for _, tax := range rule.Taxes {
		if !tax.IsActive {
			continue
		}
		amount := p.round(tax.Rate / 100 * adjusted)
		b.Taxes = append(b.Taxes, domain.TaxLine{
			Code:   tax.Code,
			Name:   tax.Name,
			Rate:   tax.Rate,
			Amount: amount,
		})
		b.TotalTaxes += amount
	}
	b.PrimeTTC = b.AdjustedNet + b.TotalTaxes

	for _, fee := range rule.Fees {
		include, err := p.feeApplies(&fee, env)
		if err != nil {
			return nil, err
		}
		if !include {
			continue
		}
		amount := p.round(fee.Amount)
		b.Fees = append(b.Fees, domain.FeeLine{Code: fee.Code, Name: fee.Name, Amount: amount})
		b.TotalFees += amount
	}
	b.TotalDue = b.PrimeTTC + b.TotalFees

	return b, nil
}

// applyCharges accumulates active loadings onto the net premium, ordered by
// displayOrder, then category (TECHNIQUE, CHARGEMENT, FRAIS), then code.
func (p *Pricer) applyCharges(rule *domain.CalcRule, primeNette float64, env *dsl.Env) (float64, []domain.ChargeLine, error) {
	charges := make([]domain.Charge, 0, len(rule.Charges))
	for _, c := range rule.Charges {
		if c.IsActive {
			charges = append(charges, c)
		}
	}
	sort.SliceStable(charges, func(i, j int) bool {
		if charges[i].DisplayOrder != charges[j].DisplayOrder {
			return charges[i].DisplayOrder < charges[j].DisplayOrder
		}
		if ri, rj := categoryRank(charges[i].Category), categoryRank(charges[j].Category); ri != rj {
			return ri < rj
		}
		return charges[i].Code < charges[j].Code
	})

	adjusted := primeNette
	var lines []domain.ChargeLine

	for _, c := range charges {
		var amount float64
		switch c.Kind {
		case domain.ChargeRate:
			rate, err := strconv.ParseFloat(c.Value, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: charge %s: rate %q is not numeric", domain.ErrInvalidRule, c.Code, c.Value)
			}
			amount = primeNette * rate / 100

		case domain.ChargeFlat:
			flat, err := strconv.ParseFloat(c.Value, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: charge %s: amount %q is not numeric", domain.ErrInvalidRule, c.Code, c.Value)
			}
			amount = flat

		case domain.ChargeFormula:
			node, err := p.parse(c.Value)
			if err != nil {
				return 0, nil, err
			}
			chargeEnv := withBinding(env, "prime_nette", dsl.Number(primeNette))
			amount, err = dsl.Evaluate(node, chargeEnv)
			if err != nil {
				return 0, nil, err
			}

		default:
			return 0, nil, fmt.Errorf("%w: charge %s: unknown kind %q", domain.ErrInvalidRule, c.Code, c.Kind)
		}

		adjusted += amount
		lines = append(lines, domain.ChargeLine{
			Code:     c.Code,
			Name:     c.Name,
			Category: c.Category,
			Amount:   p.round(amount),
		})
	}

	return adjusted, lines, nil
}

// feeApplies evaluates a fee's optional condition; absent conditions
// always include the fee.
func (p *Pricer) feeApplies(fee *domain.Fee, env *dsl.Env) (bool, error) {
	if fee.Condition == "" {
		return true, nil
	}
	node, err := p.parse(fee.Condition)
	if err != nil {
		return false, err
	}
	return dsl.EvaluateBool(node, env)
}

// round applies half-up rounding at the policy's unit.
func (p *Pricer) round(v float64) float64 {
	if p.policy.RoundUnit <= 0 {
		return v
	}
	return math.Floor(v/p.policy.RoundUnit+0.5) * p.policy.RoundUnit
}

func categoryRank(category string) int {
	switch category {
	case domain.ChargeCategoryTechnique:
		return 0
	case domain.ChargeCategoryChargement:
		return 1
	case domain.ChargeCategoryFrais:
		return 2
	}
	return 3
}

// withBinding copies the environment with one extra binding, leaving the
// caller's bindings untouched.
func withBinding(env *dsl.Env, name string, v dsl.Value) *dsl.Env {
	bindings := make(map[string]dsl.Value, len(env.Bindings)+1)
	for k, val := range env.Bindings {
		bindings[k] = val
	}
	bindings[name] = v
	return &dsl.Env{Bindings: bindings, Tables: env.Tables}
}
