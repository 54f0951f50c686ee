package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/cohort"
	"github.com/opensource-finance/heron/internal/datagen"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
)

type testEnv struct {
	server *Server
	repo   domain.Repository
	cache  domain.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "heron-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	analysisCfg := domain.AnalysisConfig{
		PenalizerCoef:     0.001,
		ProjectionPeriods: 12,
		DiscountRate:      0.01,
		UseQuartiles:      true,
	}
	runner := pipeline.NewRunner(repo, lru, eventBus, analysisCfg)

	ruleEngine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	srv := NewServer(domain.ServerConfig{}, repo, lru, eventBus, runner, cohort.NewService(repo), ruleEngine, "test")
	return &testEnv{server: srv, repo: repo, cache: lru}
}

// doJSON issues a request with the tenant header and an optional JSON body.
func (e *testEnv) doJSON(t *testing.T, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func txRequest(customerID int64, amount float64, date time.Time) domain.TransactionRequest {
	return domain.TransactionRequest{
		CustomerID: customerID,
		Amount:     amount,
		Category:   "electronics",
		Date:       date,
	}
}

// seedAndRun ingests a synthetic population and runs the pipeline, returning
// the completed run ID.
func (e *testEnv) seedAndRun(t *testing.T, tenantID string) string {
	t.Helper()

	cfg := datagen.DefaultConfig()
	cfg.Customers = 150
	txs := datagen.Generate(cfg)

	reqs := make([]domain.TransactionRequest, len(txs))
	for i, tx := range txs {
		reqs[i] = domain.TransactionRequest{
			CustomerID: tx.CustomerID,
			Amount:     tx.Amount,
			Category:   tx.Category,
			Date:       tx.Date,
		}
	}

	rec := e.doJSON(t, http.MethodPost, "/transactions/batch", tenantID, map[string]any{
		"transactions": reqs,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("batch ingest failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = e.doJSON(t, http.MethodPost, "/runs", tenantID, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("run failed: %d %s", rec.Code, rec.Body.String())
	}

	var run domain.AnalysisRun
	decodeBody(t, rec, &run)
	if run.ID == "" {
		t.Fatal("expected run ID in response")
	}
	return run.ID
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}
	if health["version"] != "test" {
		t.Errorf("expected version test, got %s", health["version"])
	}

	rec = env.doJSON(t, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/transactions/some-id", "/runs", "/cohorts", "/segment-rules"} {
		rec := env.doJSON(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400 without tenant header, got %d", path, rec.Code)
		}
	}
}

func TestIngestTransaction(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rec := env.doJSON(t, http.MethodPost, "/transactions", tenantID, txRequest(42, 129.95, date))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var tx domain.Transaction
	decodeBody(t, rec, &tx)
	if tx.ID == "" {
		t.Error("expected generated transaction ID")
	}
	if tx.CustomerID != 42 || tx.Amount != 129.95 {
		t.Errorf("unexpected transaction %+v", tx)
	}

	// Round-trip through GET
	rec = env.doJSON(t, http.MethodGet, "/transactions/"+tx.ID, tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var fetched domain.Transaction
	decodeBody(t, rec, &fetched)
	if fetched.ID != tx.ID || fetched.CustomerID != 42 {
		t.Errorf("unexpected fetched transaction %+v", fetched)
	}
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		body any
	}{
		{"NegativeAmount", txRequest(1, -5, date)},
		{"ZeroAmount", txRequest(1, 0, date)},
		{"MissingDate", domain.TransactionRequest{CustomerID: 1, Amount: 10}},
		{"NegativeCustomer", txRequest(-1, 10, date)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPost, "/transactions", tenantID, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	// Malformed JSON
	req := httptest.NewRequest(http.MethodPost, "/transactions", strings.NewReader("{not json"))
	req.Header.Set(TenantIDHeader, tenantID)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestIngestBatch(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rec := env.doJSON(t, http.MethodPost, "/transactions/batch", tenantID, map[string]any{
		"transactions": []domain.TransactionRequest{
			txRequest(1, 100, date),
			txRequest(2, 200, date.AddDate(0, 0, 1)),
			txRequest(3, 300, date.AddDate(0, 0, 2)),
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]int
	decodeBody(t, rec, &resp)
	if resp["count"] != 3 {
		t.Errorf("expected count 3, got %d", resp["count"])
	}
}

func TestIngestBatchRejectsInvalidRow(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rec := env.doJSON(t, http.MethodPost, "/transactions/batch", tenantID, map[string]any{
		"transactions": []domain.TransactionRequest{
			txRequest(1, 100, date),
			txRequest(2, -1, date), // invalid
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "transaction 1") {
		t.Errorf("expected error to name the offending row, got %s", rec.Body.String())
	}

	// All-or-nothing: nothing was saved.
	txs, err := env.repo.ListTransactions(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected no transactions saved, got %d", len(txs))
	}
}

func TestIngestBatchEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/transactions/batch", "tenant-001", map[string]any{
		"transactions": []domain.TransactionRequest{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", rec.Code)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/transactions/no-such-id", "tenant-001", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestTransactionTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rec := env.doJSON(t, http.MethodPost, "/transactions", "tenant-001", txRequest(1, 50, date))
	var tx domain.Transaction
	decodeBody(t, rec, &tx)

	rec = env.doJSON(t, http.MethodGet, "/transactions/"+tx.ID, "tenant-002", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for other tenant, got %d", rec.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	runID := env.seedAndRun(t, tenantID)

	// GET /runs/{id}
	rec := env.doJSON(t, http.MethodGet, "/runs/"+runID, tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var run domain.AnalysisRun
	decodeBody(t, rec, &run)
	if run.Status != domain.RunCompleted {
		t.Errorf("expected completed, got %s", run.Status)
	}
	if run.CustomerCount != 150 {
		t.Errorf("expected 150 customers, got %d", run.CustomerCount)
	}
	if run.ModelParams == nil {
		t.Error("expected fitted model parameters on the run")
	}

	// GET /runs
	rec = env.doJSON(t, http.MethodGet, "/runs", tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Runs  []*domain.AnalysisRun `json:"runs"`
		Count int                   `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 || len(list.Runs) != 1 {
		t.Errorf("expected 1 run, got %d", list.Count)
	}

	// GET /runs/{id}/scores
	rec = env.doJSON(t, http.MethodGet, fmt.Sprintf("/runs/%s/scores", runID), tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var scoresResp struct {
		Scores []*domain.CustomerScore `json:"scores"`
		Count  int                     `json:"count"`
	}
	decodeBody(t, rec, &scoresResp)
	if scoresResp.Count != 150 {
		t.Errorf("expected 150 scores, got %d", scoresResp.Count)
	}
	for _, s := range scoresResp.Scores[:5] {
		if s.Segment == "" || s.RFMScore == "" {
			t.Errorf("customer %d missing segment labels: %+v", s.CustomerID, s)
		}
	}
}

func TestRunNoDataFails(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/runs", "tenant-empty", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for run without transactions, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunAsyncAccepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/runs", "tenant-001", domain.RunRequest{Async: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != "accepted" {
		t.Errorf("expected accepted status, got %s", resp["status"])
	}
}

func TestGetRunNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/runs/no-such-run", "tenant-001", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetSummaryCaching(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	runID := env.seedAndRun(t, tenantID)

	path := fmt.Sprintf("/runs/%s/summary", runID)

	type summaryResp struct {
		Summary []domain.CLVSummaryRow `json:"summary"`
		Cached  bool                   `json:"cached"`
	}

	// The pipeline warms the summary cache at run completion, so the very
	// first request is already a hit.
	rec := env.doJSON(t, http.MethodGet, path, tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var warm summaryResp
	decodeBody(t, rec, &warm)
	if !warm.Cached {
		t.Error("expected run completion to pre-warm the summary cache")
	}
	if len(warm.Summary) == 0 {
		t.Fatal("expected summary rows")
	}
	if warm.Summary[0].Segment != domain.CLVSegmentTop {
		t.Errorf("expected top tier first, got %s", warm.Summary[0].Segment)
	}

	// Evicting the entry forces a recompute from the score table.
	if err := env.cache.Delete(context.Background(), tenantID, "summary:"+runID); err != nil {
		t.Fatalf("failed to evict summary: %v", err)
	}

	rec = env.doJSON(t, http.MethodGet, path, tenantID, nil)
	var cold summaryResp
	decodeBody(t, rec, &cold)
	if cold.Cached {
		t.Error("expected recompute after eviction to be uncached")
	}
	if len(cold.Summary) != len(warm.Summary) {
		t.Errorf("recomputed summary differs: %d vs %d rows", len(cold.Summary), len(warm.Summary))
	}

	// The recompute writes the entry back.
	rec = env.doJSON(t, http.MethodGet, path, tenantID, nil)
	var rewarmed summaryResp
	decodeBody(t, rec, &rewarmed)
	if !rewarmed.Cached {
		t.Error("expected summary to be cached again after recompute")
	}
}

func TestExportScoresCSV(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	runID := env.seedAndRun(t, tenantID)

	rec := env.doJSON(t, http.MethodGet, fmt.Sprintf("/runs/%s/export", runID), tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, runID) {
		t.Errorf("expected filename with run ID, got %s", cd)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 151 { // header + 150 customers
		t.Errorf("expected 151 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "customer_id,") {
		t.Errorf("unexpected header %s", lines[0])
	}
}

func TestGetReport(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"
	runID := env.seedAndRun(t, tenantID)

	rec := env.doJSON(t, http.MethodGet, fmt.Sprintf("/runs/%s/report", runID), tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# Customer Value Analysis",
		runID,
		"## Segment Distribution",
		"## Value Tiers",
		"## Top Customers by Predicted Value",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestGetCohorts(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	env.doJSON(t, http.MethodPost, "/transactions", tenantID, txRequest(1, 100, date))
	env.doJSON(t, http.MethodPost, "/transactions", tenantID, txRequest(1, 100, date.AddDate(0, 1, 0)))

	rec := env.doJSON(t, http.MethodGet, "/cohorts", tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Cohorts []cohort.Row `json:"cohorts"`
		Count   int          `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 1 {
		t.Fatalf("expected 1 cohort, got %d", resp.Count)
	}
	if resp.Cohorts[0].Month != "2024-01" {
		t.Errorf("expected cohort 2024-01, got %s", resp.Cohorts[0].Month)
	}
}

func TestSegmentRuleCRUD(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	// Create
	rec := env.doJSON(t, http.MethodPost, "/segment-rules", tenantID, CreateSegmentRuleRequest{
		Label:      "VIP",
		Expression: "monetary_avg > 500.0 && frequency >= 5",
		Priority:   10,
		Enabled:    true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var rule domain.SegmentRule
	decodeBody(t, rec, &rule)
	if rule.ID == "" {
		t.Error("expected generated rule ID")
	}

	// List
	rec = env.doJSON(t, http.MethodGet, "/segment-rules", tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Rules []*domain.SegmentRule `json:"rules"`
		Count int                   `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 rule, got %d", list.Count)
	}
	if list.Rules[0].Label != "VIP" {
		t.Errorf("expected VIP, got %s", list.Rules[0].Label)
	}

	// Other tenant sees nothing
	rec = env.doJSON(t, http.MethodGet, "/segment-rules", "tenant-002", nil)
	decodeBody(t, rec, &list)
	if list.Count != 0 {
		t.Errorf("expected 0 rules for other tenant, got %d", list.Count)
	}

	// Delete
	rec = env.doJSON(t, http.MethodDelete, "/segment-rules/"+rule.ID, tenantID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = env.doJSON(t, http.MethodDelete, "/segment-rules/"+rule.ID, tenantID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCreateSegmentRuleValidation(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	t.Run("MissingFields", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPost, "/segment-rules", tenantID, CreateSegmentRuleRequest{
			Label: "No Expression",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPost, "/segment-rules", tenantID, CreateSegmentRuleRequest{
			Label:      "Broken",
			Expression: "frequency >>> 2",
			Enabled:    true,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for invalid expression, got %d", rec.Code)
		}
	})

	t.Run("NonBooleanExpression", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPost, "/segment-rules", tenantID, CreateSegmentRuleRequest{
			Label:      "Arithmetic",
			Expression: "monetary_avg * 2.0",
			Enabled:    true,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for non-boolean expression, got %d", rec.Code)
		}
	})
}

func TestRunUsesStoredSegmentRules(t *testing.T) {
	env := newTestEnv(t)
	tenantID := "tenant-001"

	rec := env.doJSON(t, http.MethodPost, "/segment-rules", tenantID, CreateSegmentRuleRequest{
		Label:      "Everyone",
		Expression: "frequency >= 0",
		Priority:   1,
		Enabled:    true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("rule create failed: %d", rec.Code)
	}

	runID := env.seedAndRun(t, tenantID)

	rec = env.doJSON(t, http.MethodGet, fmt.Sprintf("/runs/%s/scores", runID), tenantID, nil)
	var resp struct {
		Scores []*domain.CustomerScore `json:"scores"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Scores) == 0 {
		t.Fatal("expected scores")
	}
	for _, s := range resp.Scores {
		if s.Segment != "Everyone" {
			t.Fatalf("expected rule override for customer %d, got %s", s.CustomerID, s.Segment)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/transactions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected origin echoed, got %s", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/health", "", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request ID header on response")
	}
}
