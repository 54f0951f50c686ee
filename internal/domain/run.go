package domain

import (
	"time"
)

// AnalysisRun records one execution of the batch scoring pipeline.
type AnalysisRun struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Status is one of the Run* constants below.
	Status string `json:"status"`

	// AnalysisDate anchors recency and T. Defaults to the most recent
	// transaction date plus one day when not supplied.
	AnalysisDate time.Time `json:"analysisDate"`

	CustomerCount    int `json:"customerCount"`
	TransactionCount int `json:"transactionCount"`

	// Fitted model parameters, kept for audit.
	ModelParams *ModelParams `json:"modelParams,omitempty"`

	// Error holds the failure diagnostic for failed runs.
	Error string `json:"error,omitempty"`

	Metadata RunMetadata `json:"metadata"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Run status constants.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunMetadata contains per-stage processing information.
type RunMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	RFMMs         int64  `json:"rfmMs"`
	ScoreMs       int64  `json:"scoreMs"`
	SegmentMs     int64  `json:"segmentMs"`
	FitMs         int64  `json:"fitMs"`
	PredictMs     int64  `json:"predictMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// ModelParams holds the converged parameters of both statistical models.
// All values are strictly positive for a successful fit.
type ModelParams struct {
	// BG/NBD purchase-frequency model.
	R     float64 `json:"r"`
	Alpha float64 `json:"alpha"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`

	// Gamma-Gamma monetary-value model.
	P float64 `json:"p"`
	Q float64 `json:"q"`
	V float64 `json:"v"`
}

// RunRequest is the API request payload for starting an analysis run.
type RunRequest struct {
	// AnalysisDate overrides the default anchor (max date + 1 day).
	AnalysisDate *time.Time `json:"analysisDate,omitempty"`

	// Async requests background execution via the event bus.
	Async bool `json:"async,omitempty"`
}
