// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	SaveTransactions(ctx context.Context, tenantID string, txs []*Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, tenantID string) ([]*Transaction, error)

	// Analysis run operations
	SaveRun(ctx context.Context, tenantID string, run *AnalysisRun) error
	GetRun(ctx context.Context, tenantID string, runID string) (*AnalysisRun, error)
	ListRuns(ctx context.Context, tenantID string) ([]*AnalysisRun, error)

	// Result table operations
	SaveScores(ctx context.Context, tenantID string, runID string, scores []*CustomerScore) error
	GetScores(ctx context.Context, tenantID string, runID string) ([]*CustomerScore, error)

	// Segment rule operations
	SaveSegmentRule(ctx context.Context, tenantID string, rule *SegmentRule) error
	ListSegmentRules(ctx context.Context, tenantID string) ([]*SegmentRule, error)
	DeleteSegmentRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
