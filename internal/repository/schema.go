package repository

// Schema definitions for the tarif database.
// Compatible with both SQLite and PostgreSQL.

// calc_rules is versioned: every save writes (id, tenant_id, version) and
// reads resolve the highest version. Deactivation is a soft delete.
const schemaCalcRules = `
CREATE TABLE IF NOT EXISTS calc_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    type TEXT NOT NULL,
    usage_category TEXT,
    name TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    base_formula TEXT NOT NULL,
    parameters TEXT NOT NULL,
    formulas TEXT,
    tables_json TEXT,
    taxes TEXT,
    fees TEXT,
    charges TEXT,
    packages TEXT,
    options TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_calc_rules_tenant ON calc_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_calc_rules_active ON calc_rules(tenant_id, is_active);
`

const schemaQuotations = `
CREATE TABLE IF NOT EXISTS quotations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_version INTEGER NOT NULL,
    formula_code TEXT,
    timestamp TIMESTAMP NOT NULL,
    prime_nette REAL NOT NULL,
    adjusted_net REAL NOT NULL,
    total_taxes REAL NOT NULL,
    prime_ttc REAL NOT NULL,
    total_fees REAL NOT NULL,
    total_due REAL NOT NULL,
    charges TEXT,
    taxes TEXT,
    fees TEXT,
    guarantees TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotations_tenant ON quotations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_quotations_rule ON quotations(tenant_id, rule_id);
CREATE INDEX IF NOT EXISTS idx_quotations_timestamp ON quotations(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCalcRules,
		schemaQuotations,
	}
}
