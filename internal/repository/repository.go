// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
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

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, customer_id, amount, category, date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.CustomerID,
		tx.Amount, tx.Category,
		tx.Date, tx.CreatedAt,
	)
	return err
}

// SaveTransactions stores a batch of transactions in a single database
// transaction, so a batch either lands fully or not at all.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []*domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(txs) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO transactions (
			id, tenant_id, customer_id, amount, category, date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	stmt, err := dbTx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			tx.ID, tenantID, tx.CustomerID,
			tx.Amount, tx.Category,
			tx.Date, tx.CreatedAt,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, customer_id, amount, category, date, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.CustomerID,
		&tx.Amount, &tx.Category,
		&tx.Date, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// ListTransactions retrieves all transactions for a tenant ordered by date.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, customer_id, amount, category, date, created_at
		FROM transactions
		WHERE tenant_id = ?
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.CustomerID,
			&tx.Amount, &tx.Category,
			&tx.Date, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveRun upserts an analysis run record with tenant isolation.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.AnalysisRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var modelParams []byte
	if run.ModelParams != nil {
		modelParams, _ = json.Marshal(run.ModelParams)
	}
	metadata, _ := json.Marshal(run.Metadata)

	var finishedAt any
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt
	}

	query := `
		INSERT INTO analysis_runs (
			id, tenant_id, status, analysis_date, customer_count,
			transaction_count, model_params, error, metadata,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			analysis_date = excluded.analysis_date,
			customer_count = excluded.customer_count,
			transaction_count = excluded.transaction_count,
			model_params = excluded.model_params,
			error = excluded.error,
			metadata = excluded.metadata,
			finished_at = excluded.finished_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.Status, run.AnalysisDate,
		run.CustomerCount, run.TransactionCount,
		string(modelParams), run.Error, string(metadata),
		run.StartedAt, finishedAt,
	)
	return err
}

// GetRun retrieves an analysis run by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.AnalysisRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, status, analysis_date, customer_count,
			   transaction_count, model_params, error, metadata,
			   started_at, finished_at
		FROM analysis_runs
		WHERE tenant_id = ? AND id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns retrieves all analysis runs for a tenant, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string) ([]*domain.AnalysisRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, status, analysis_date, customer_count,
			   transaction_count, model_params, error, metadata,
			   started_at, finished_at
		FROM analysis_runs
		WHERE tenant_id = ?
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	var modelParams, errMsg sql.NullString
	var metadata string
	var finishedAt sql.NullTime

	if err := row.Scan(
		&run.ID, &run.TenantID, &run.Status, &run.AnalysisDate,
		&run.CustomerCount, &run.TransactionCount,
		&modelParams, &errMsg, &metadata,
		&run.StartedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	if modelParams.Valid && modelParams.String != "" {
		var p domain.ModelParams
		if err := json.Unmarshal([]byte(modelParams.String), &p); err == nil {
			run.ModelParams = &p
		}
	}
	run.Error = errMsg.String
	json.Unmarshal([]byte(metadata), &run.Metadata)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}

	return &run, nil
}

// SaveScores stores the full score table for a run in a single database
// transaction with tenant isolation.
func (r *SQLRepository) SaveScores(ctx context.Context, tenantID string, runID string, scores []*domain.CustomerScore) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO customer_scores (
			run_id, tenant_id, customer_id,
			recency, frequency, monetary_sum, monetary_avg, t,
			r_score, f_score, m_score, rfm_score, segment,
			predicted_transactions, clv, clv_segment
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	stmt, err := dbTx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range scores {
		if _, err := stmt.ExecContext(ctx,
			runID, tenantID, s.CustomerID,
			s.Recency, s.Frequency, s.MonetarySum, s.MonetaryAvg, s.T,
			s.RScore, s.FScore, s.MScore, s.RFMScore, s.Segment,
			s.PredictedTransactions, s.CLV, s.CLVSegment,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetScores retrieves the score table for a run ordered by customer ID.
func (r *SQLRepository) GetScores(ctx context.Context, tenantID string, runID string) ([]*domain.CustomerScore, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT customer_id,
			   recency, frequency, monetary_sum, monetary_avg, t,
			   r_score, f_score, m_score, rfm_score, segment,
			   predicted_transactions, clv, clv_segment
		FROM customer_scores
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY customer_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []*domain.CustomerScore
	for rows.Next() {
		var s domain.CustomerScore
		if err := rows.Scan(
			&s.CustomerID,
			&s.Recency, &s.Frequency, &s.MonetarySum, &s.MonetaryAvg, &s.T,
			&s.RScore, &s.FScore, &s.MScore, &s.RFMScore, &s.Segment,
			&s.PredictedTransactions, &s.CLV, &s.CLVSegment,
		); err != nil {
			return nil, err
		}
		scores = append(scores, &s)
	}

	return scores, rows.Err()
}

// SaveSegmentRule upserts a segment rule with tenant isolation.
func (r *SQLRepository) SaveSegmentRule(ctx context.Context, tenantID string, rule *domain.SegmentRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO segment_rules (
			id, tenant_id, label, expression, priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			label = excluded.label,
			expression = excluded.expression,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Label, rule.Expression,
		rule.Priority, enabled, now, now,
	)
	return err
}

// ListSegmentRules retrieves all segment rules for a tenant in priority order.
func (r *SQLRepository) ListSegmentRules(ctx context.Context, tenantID string) ([]*domain.SegmentRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, label, expression, priority, enabled, created_at, updated_at
		FROM segment_rules
		WHERE tenant_id = ?
		ORDER BY priority, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.SegmentRule
	for rows.Next() {
		var rule domain.SegmentRule
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Label, &rule.Expression,
			&rule.Priority, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		configs = append(configs, &rule)
	}

	return configs, rows.Err()
}

// DeleteSegmentRule removes a segment rule with tenant isolation.
func (r *SQLRepository) DeleteSegmentRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM segment_rules WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
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
