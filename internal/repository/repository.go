// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assurtech-ci/tarif/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule stores a calculation rule version with tenant isolation.
// Saving the same (id, version) again replaces its content.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.CalcRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	parameters, _ := json.Marshal(rule.Parameters)
	formulas, _ := json.Marshal(rule.Formulas)
	tables, _ := json.Marshal(rule.Tables)
	taxes, _ := json.Marshal(rule.Taxes)
	fees, _ := json.Marshal(rule.Fees)
	charges, _ := json.Marshal(rule.Charges)
	packages, _ := json.Marshal(rule.Packages)
	options, _ := json.Marshal(rule.Options)

	active := 0
	if rule.IsActive {
		active = 1
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO calc_rules (
			id, tenant_id, version, type, usage_category, name, is_active,
			base_formula, parameters, formulas, tables_json, taxes, fees,
			charges, packages, options, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			type = excluded.type,
			usage_category = excluded.usage_category,
			name = excluded.name,
			is_active = excluded.is_active,
			base_formula = excluded.base_formula,
			parameters = excluded.parameters,
			formulas = excluded.formulas,
			tables_json = excluded.tables_json,
			taxes = excluded.taxes,
			fees = excluded.fees,
			charges = excluded.charges,
			packages = excluded.packages,
			options = excluded.options,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Version, rule.Type, rule.UsageCategory,
		rule.Name, active, rule.BaseFormula,
		string(parameters), string(formulas), string(tables), string(taxes),
		string(fees), string(charges), string(packages), string(options),
		createdAt, now,
	)
	return err
}

const ruleColumns = `id, tenant_id, version, type, usage_category, name, is_active,
	   base_formula, parameters, formulas, tables_json, taxes, fees,
	   charges, packages, options, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*domain.CalcRule, error) {
	var rule domain.CalcRule
	var active int
	var parameters, formulas, tables, taxes, fees, charges, packages, options string

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Version, &rule.Type, &rule.UsageCategory,
		&rule.Name, &active, &rule.BaseFormula,
		&parameters, &formulas, &tables, &taxes,
		&fees, &charges, &packages, &options,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.IsActive = active == 1
	for _, field := range []struct {
		raw  string
		dest any
	}{
		{parameters, &rule.Parameters},
		{formulas, &rule.Formulas},
		{tables, &rule.Tables},
		{taxes, &rule.Taxes},
		{fees, &rule.Fees},
		{charges, &rule.Charges},
		{packages, &rule.Packages},
		{options, &rule.Options},
	} {
		if field.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, fmt.Errorf("failed to parse rule %s: %w", rule.ID, err)
		}
	}

	return &rule, nil
}

// GetRule retrieves a rule's latest version with tenant isolation.
// Inactive rules are returned too; the engine decides whether an inactive
// rule may be evaluated.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.CalcRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM calc_rules
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, ruleID)
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules retrieves each rule's latest version for a tenant.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.CalcRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM calc_rules AS cr
		WHERE tenant_id = ?
		  AND version = (
			SELECT MAX(version) FROM calc_rules
			WHERE id = cr.id AND tenant_id = cr.tenant_id
		  )
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CalcRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteRule soft-deletes all versions of a rule by clearing is_active.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE calc_rules
		SET is_active = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRuleNotFound, ruleID)
	}

	return nil
}

// SaveQuotation stores a quotation result with tenant isolation.
func (r *SQLRepository) SaveQuotation(ctx context.Context, tenantID string, q *domain.Quotation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	charges, _ := json.Marshal(q.Charges)
	taxes, _ := json.Marshal(q.Taxes)
	fees, _ := json.Marshal(q.Fees)
	guarantees, _ := json.Marshal(q.Guarantees)
	metadata, _ := json.Marshal(q.Metadata)

	query := `
		INSERT INTO quotations (
			id, tenant_id, rule_id, rule_version, formula_code, timestamp,
			prime_nette, adjusted_net, total_taxes, prime_ttc, total_fees,
			total_due, charges, taxes, fees, guarantees, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		q.ID, tenantID, q.RuleID, q.RuleVersion, q.FormulaCode, q.Timestamp,
		q.PrimeNette, q.AdjustedNet, q.TotalTaxes, q.PrimeTTC, q.TotalFees,
		q.TotalDue, string(charges), string(taxes), string(fees),
		string(guarantees), string(metadata),
	)
	return err
}

// GetQuotation retrieves a quotation by ID with tenant isolation.
func (r *SQLRepository) GetQuotation(ctx context.Context, tenantID string, quotationID string) (*domain.Quotation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, rule_id, rule_version, formula_code, timestamp,
			   prime_nette, adjusted_net, total_taxes, prime_ttc, total_fees,
			   total_due, charges, taxes, fees, guarantees, metadata
		FROM quotations
		WHERE tenant_id = ? AND id = ?
	`

	var q domain.Quotation
	var charges, taxes, fees, guarantees, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, quotationID).Scan(
		&q.ID, &q.TenantID, &q.RuleID, &q.RuleVersion, &q.FormulaCode, &q.Timestamp,
		&q.PrimeNette, &q.AdjustedNet, &q.TotalTaxes, &q.PrimeTTC, &q.TotalFees,
		&q.TotalDue, &charges, &taxes, &fees, &guarantees, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(charges), &q.Charges)
	json.Unmarshal([]byte(taxes), &q.Taxes)
	json.Unmarshal([]byte(fees), &q.Fees)
	json.Unmarshal([]byte(guarantees), &q.Guarantees)
	json.Unmarshal([]byte(metadata), &q.Metadata)

	return &q, nil
}

// CountQuotations counts quotations for a rule since the given time,
// feeding per-rule usage statistics.
func (r *SQLRepository) CountQuotations(ctx context.Context, tenantID string, ruleID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM quotations
		WHERE tenant_id = ? AND rule_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
