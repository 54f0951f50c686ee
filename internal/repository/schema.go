package repository

// Schema definitions for the Heron database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id BIGINT NOT NULL,
    amount REAL NOT NULL,
    category TEXT,
    date TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(tenant_id, date);
`

const schemaAnalysisRuns = `
CREATE TABLE IF NOT EXISTS analysis_runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    status TEXT NOT NULL,
    analysis_date TIMESTAMP NOT NULL,
    customer_count INTEGER NOT NULL DEFAULT 0,
    transaction_count INTEGER NOT NULL DEFAULT 0,
    model_params TEXT,
    error TEXT,
    metadata TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_tenant ON analysis_runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_status ON analysis_runs(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_started ON analysis_runs(tenant_id, started_at);
`

const schemaCustomerScores = `
CREATE TABLE IF NOT EXISTS customer_scores (
    run_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_id BIGINT NOT NULL,
    recency INTEGER NOT NULL,
    frequency INTEGER NOT NULL,
    monetary_sum REAL NOT NULL,
    monetary_avg REAL NOT NULL,
    t INTEGER NOT NULL,
    r_score INTEGER NOT NULL,
    f_score INTEGER NOT NULL,
    m_score INTEGER NOT NULL,
    rfm_score TEXT NOT NULL,
    segment TEXT NOT NULL,
    predicted_transactions REAL NOT NULL,
    clv REAL NOT NULL,
    clv_segment TEXT NOT NULL,
    PRIMARY KEY (run_id, tenant_id, customer_id)
);

CREATE INDEX IF NOT EXISTS idx_customer_scores_run ON customer_scores(tenant_id, run_id);
CREATE INDEX IF NOT EXISTS idx_customer_scores_segment ON customer_scores(tenant_id, run_id, segment);
`

const schemaSegmentRules = `
CREATE TABLE IF NOT EXISTS segment_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    label TEXT NOT NULL,
    expression TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_segment_rules_tenant ON segment_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_segment_rules_enabled ON segment_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAnalysisRuns,
		schemaCustomerScores,
		schemaSegmentRules,
	}
}
