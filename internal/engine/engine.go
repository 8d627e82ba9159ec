// Package engine evaluates pricing rules: it binds and validates request
// parameters, merges package/option overlays, parses formulas through an
// explicit AST cache, and composes the pricing pipeline into a quotation.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/dsl"
	"github.com/assurtech-ci/tarif/internal/pricing"
)

// Engine is the pricing evaluation engine. The only mutable state is the
// parsed-expression and overlay caches, both guarded for concurrent
// read/insert; evaluations themselves are pure and run in parallel
// without locking.
type Engine struct {
	mu       sync.RWMutex
	asts     map[string]dsl.Node          // (ruleID, content hash) -> parsed AST
	overlays map[string]map[string]string // (ruleID, content hash) -> parsed overlay

	policy  pricing.Policy
	version string
}

// NewEngine creates a pricing engine. The cache is owned by this engine
// instance, not a process-wide singleton; callers invalidate entries when
// a rule is edited.
func NewEngine(policy pricing.Policy, version string) *Engine {
	return &Engine{
		asts:     make(map[string]dsl.Node),
		overlays: make(map[string]map[string]string),
		policy:   policy,
		version:  version,
	}
}

// cacheKey keys cached artifacts by rule and content hash, so identical
// expressions across requests share one parse and rule edits only drop
// their own rule's entries.
func cacheKey(ruleID, content string) string {
	sum := sha256.Sum256([]byte(content))
	return ruleID + ":" + hex.EncodeToString(sum[:8])
}

// parseCached parses an expression through the cache.
func (e *Engine) parseCached(ruleID, expression string) (dsl.Node, error) {
	key := cacheKey(ruleID, expression)

	e.mu.RLock()
	node, ok := e.asts[key]
	e.mu.RUnlock()
	if ok {
		return node, nil
	}

	node, err := dsl.Parse(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.asts[key] = node
	e.mu.Unlock()
	return node, nil
}

// overlayCached parses a KEY=VALUE;... configuration through the cache.
func (e *Engine) overlayCached(ruleID, config string) (map[string]string, error) {
	key := cacheKey(ruleID, config)

	e.mu.RLock()
	pairs, ok := e.overlays[key]
	e.mu.RUnlock()
	if ok {
		return pairs, nil
	}

	pairs, err := parseOverlay(config)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.overlays[key] = pairs
	e.mu.Unlock()
	return pairs, nil
}

// parserFor returns a parse function bound to one rule's cache namespace,
// injected into the pricing pipeline for charge and fee expressions.
func (e *Engine) parserFor(ruleID string) pricing.ParseFunc {
	return func(expression string) (dsl.Node, error) {
		return e.parseCached(ruleID, expression)
	}
}

// InvalidateRule drops all cached artifacts for a rule after an edit.
func (e *Engine) InvalidateRule(ruleID string) {
	prefix := ruleID + ":"

	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.asts {
		if strings.HasPrefix(key, prefix) {
			delete(e.asts, key)
		}
	}
	for key := range e.overlays {
		if strings.HasPrefix(key, prefix) {
			delete(e.overlays, key)
		}
	}
}

// CachedCount returns the number of cached parsed expressions.
func (e *Engine) CachedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.asts)
}

// ValidateRule checks a rule beyond its structural invariants: every
// authored expression (base formula, formula overrides, charge formulas,
// fee conditions) must parse, and overlays must be well-formed with every
// key referencing a declared parameter. Used
// before a rule is persisted so authoring mistakes surface immediately.
func (e *Engine) ValidateRule(rule *domain.CalcRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	if _, err := dsl.Parse(rule.BaseFormula); err != nil {
		return fmt.Errorf("base formula: %w", err)
	}
	for _, f := range rule.Formulas {
		if strings.TrimSpace(f.Expression) == "" {
			continue
		}
		if _, err := dsl.Parse(f.Expression); err != nil {
			return fmt.Errorf("formula %s: %w", f.Code, err)
		}
	}
	for _, c := range rule.Charges {
		if c.Kind == domain.ChargeFormula {
			if _, err := dsl.Parse(c.Value); err != nil {
				return fmt.Errorf("charge %s: %w", c.Code, err)
			}
			continue
		}
		if _, err := strconv.ParseFloat(c.Value, 64); err != nil {
			return fmt.Errorf("%w: charge %s: value %q is not a number", domain.ErrInvalidRule, c.Code, c.Value)
		}
	}
	for _, f := range rule.Fees {
		if f.Condition == "" {
			continue
		}
		if _, err := dsl.Parse(f.Condition); err != nil {
			return fmt.Errorf("fee %s condition: %w", f.Code, err)
		}
	}
	for _, p := range rule.Packages {
		pairs, err := parseOverlay(p.Configuration)
		if err != nil {
			return fmt.Errorf("%w: package %s: %v", domain.ErrInvalidRule, p.Code, err)
		}
		for key := range pairs {
			if _, declared := rule.FindParameter(key); !declared {
				return fmt.Errorf("%w: package %s: unknown parameter %q", domain.ErrInvalidRule, p.Code, key)
			}
		}
	}
	for _, o := range rule.Options {
		pairs, err := parseOverlay(o.Parameters)
		if err != nil {
			return fmt.Errorf("%w: option %s: %v", domain.ErrInvalidRule, o.Code, err)
		}
		for key := range pairs {
			if _, declared := rule.FindParameter(key); !declared {
				return fmt.Errorf("%w: option %s: unknown parameter %q", domain.ErrInvalidRule, o.Code, key)
			}
		}
	}

	return nil
}

// Quote runs one full evaluation over an immutable rule snapshot. The
// context is only consulted before work begins; evaluation itself is
// bounded and needs no mid-flight cancellation.
func (e *Engine) Quote(ctx context.Context, rule *domain.CalcRule, req *domain.QuoteRequest) (*domain.Quotation, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleInactive, rule.ID)
	}

	expression, formula, err := selectExpression(rule, req.SelectedFormulaCode)
	if err != nil {
		return nil, err
	}

	bindings, err := e.buildBindings(rule, req)
	if err != nil {
		return nil, err
	}
	if err := validateRequired(rule, bindings); err != nil {
		return nil, err
	}

	node, err := e.parseCached(rule.ID, expression)
	if err != nil {
		return nil, err
	}

	env := &dsl.Env{
		Bindings: bindings,
		Tables:   dsl.NewRuleTables(rule, e.policy.LookupDefault),
	}

	evalStart := time.Now()
	primeNette, err := dsl.Evaluate(node, env)
	if err != nil {
		return nil, err
	}

	pricer := pricing.NewPricer(e.policy, e.parserFor(rule.ID))
	breakdown, err := pricer.Price(rule, primeNette, env)
	if err != nil {
		return nil, err
	}
	evalMs := time.Since(evalStart).Milliseconds()

	q := &domain.Quotation{
		ID:          uuid.New().String(),
		TenantID:    rule.TenantID,
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		FormulaCode: req.SelectedFormulaCode,
		Timestamp:   time.Now().UTC(),

		PrimeNette:  breakdown.PrimeNette,
		Charges:     breakdown.Charges,
		AdjustedNet: breakdown.AdjustedNet,
		Taxes:       breakdown.Taxes,
		TotalTaxes:  breakdown.TotalTaxes,
		PrimeTTC:    breakdown.PrimeTTC,
		Fees:        breakdown.Fees,
		TotalFees:   breakdown.TotalFees,
		TotalDue:    breakdown.TotalDue,
	}
	if formula != nil {
		q.Guarantees = formula.Guarantees
	}
	q.Metadata.EvalMs = evalMs
	q.Metadata.TotalMs = time.Since(start).Milliseconds()
	q.Metadata.EngineVersion = e.version

	return q, nil
}

// buildBindings merges parameter values in increasing precedence:
// parameter static defaults, then option overlays, then the package
// overlay, then request-supplied values. Later layers win.
func (e *Engine) buildBindings(rule *domain.CalcRule, req *domain.QuoteRequest) (map[string]dsl.Value, error) {
	bindings := make(map[string]dsl.Value, len(rule.Parameters)+len(req.Parameters))

	bind := func(code, raw string) error {
		if p, declared := rule.FindParameter(code); declared {
			v, err := coerceParameter(p, raw)
			if err != nil {
				return err
			}
			bindings[code] = v
			return nil
		}
		bindings[code] = detectValue(raw)
		return nil
	}

	for _, p := range rule.Parameters {
		if p.Value == "" {
			continue
		}
		if err := bind(p.Code, p.Value); err != nil {
			return nil, err
		}
	}

	for _, code := range req.OptionCodes {
		option, ok := findOption(rule, code)
		if !ok {
			return nil, &domain.ValidationError{ParameterCode: code, Reason: "unknown option code"}
		}
		if !option.IsActive {
			continue
		}
		pairs, err := e.overlayCached(rule.ID, option.Parameters)
		if err != nil {
			return nil, err
		}
		for key, raw := range pairs {
			if err := bind(key, raw); err != nil {
				return nil, err
			}
		}
	}

	if req.PackageCode != "" {
		pkg, ok := findPackage(rule, req.PackageCode)
		if !ok {
			return nil, &domain.ValidationError{ParameterCode: req.PackageCode, Reason: "unknown package code"}
		}
		if pkg.IsActive {
			pairs, err := e.overlayCached(rule.ID, pkg.Configuration)
			if err != nil {
				return nil, err
			}
			for key, raw := range pairs {
				if err := bind(key, raw); err != nil {
					return nil, err
				}
			}
		}
	}

	for code, raw := range req.Parameters {
		if err := bind(code, raw); err != nil {
			return nil, err
		}
	}

	return bindings, nil
}

// validateRequired fails fast when a required parameter has no bound value.
func validateRequired(rule *domain.CalcRule, bindings map[string]dsl.Value) error {
	for _, p := range rule.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := bindings[p.Code]; !ok {
			return &domain.ValidationError{ParameterCode: p.Code, Reason: "required parameter is missing"}
		}
	}
	return nil
}

func findPackage(rule *domain.CalcRule, code string) (*domain.Package, bool) {
	for i := range rule.Packages {
		if rule.Packages[i].Code == code {
			return &rule.Packages[i], true
		}
	}
	return nil, false
}

func findOption(rule *domain.CalcRule, code string) (*domain.Option, bool) {
	for i := range rule.Options {
		if rule.Options[i].Code == code {
			return &rule.Options[i], true
		}
	}
	return nil, false
}
