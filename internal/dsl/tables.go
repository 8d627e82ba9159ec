package dsl

import (
	"github.com/assurtech-ci/tarif/internal/domain"
)

// RuleTables resolves table references against one rule's rate tables.
// It is built once per evaluation from an immutable rule snapshot.
type RuleTables struct {
	tables map[string]*domain.Table

	// lookupDefault, when set, substitutes for a missing key_value entry
	// instead of failing. Off by default.
	lookupDefault *float64
}

// NewRuleTables indexes a rule's tables for resolution.
func NewRuleTables(rule *domain.CalcRule, lookupDefault *float64) *RuleTables {
	tables := make(map[string]*domain.Table, len(rule.Tables))
	for i := range rule.Tables {
		tables[rule.Tables[i].Code] = &rule.Tables[i]
	}
	return &RuleTables{tables: tables, lookupDefault: lookupDefault}
}

// KeyValue resolves an exact match of the string-coerced input against the
// table keys. No partial or fuzzy matching.
func (r *RuleTables) KeyValue(value Value, tableCode string) (float64, error) {
	key := value.Key()

	table, ok := r.tables[tableCode]
	if !ok || table.Type != domain.TableKeyValue {
		return 0, &EvalError{Kind: LookupMiss, Value: key, TableCode: tableCode, Message: "unknown key_value table"}
	}

	out, found := table.KeyValue[key]
	if !found {
		if r.lookupDefault != nil {
			return *r.lookupDefault, nil
		}
		return 0, &EvalError{Kind: LookupMiss, Value: key, TableCode: tableCode}
	}
	return out, nil
}

// Bracket returns the value of the first interval [min, max) containing
// the input. Inputs below the first min or at/above the last max fail.
func (r *RuleTables) Bracket(value float64, tableCode string) (float64, error) {
	table, ok := r.tables[tableCode]
	if !ok || table.Type != domain.TableBrackets {
		return 0, &EvalError{Kind: OutOfRange, Value: Number(value).Key(), TableCode: tableCode, Message: "unknown brackets table"}
	}

	for _, b := range table.Brackets {
		if value >= b.Min && value < b.Max {
			return b.Value, nil
		}
	}
	return 0, &EvalError{Kind: OutOfRange, Value: Number(value).Key(), TableCode: tableCode}
}
