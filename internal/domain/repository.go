// Package domain defines the core interfaces and types for the pricing engine.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Calculation rule operations. GetRule returns the latest version of
	// the rule; callers enforce the active flag.
	SaveRule(ctx context.Context, tenantID string, rule *CalcRule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*CalcRule, error)
	ListRules(ctx context.Context, tenantID string) ([]*CalcRule, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Quotation results
	SaveQuotation(ctx context.Context, tenantID string, q *Quotation) error
	GetQuotation(ctx context.Context, tenantID string, quotationID string) (*Quotation, error)
	CountQuotations(ctx context.Context, tenantID string, ruleID string, since time.Time) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
