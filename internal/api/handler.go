package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/clv"
	"github.com/opensource-finance/heron/internal/cohort"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/export"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/report"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/worker"
)

const summaryTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	runner     *pipeline.Runner
	cohorts    *cohort.Service
	ruleEngine *rules.Engine
	version    string
}

// NewHandler creates a new API handler. The rule engine is used only to
// validate segment rule expressions on write; runs compile their own.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, runner *pipeline.Runner, cohorts *cohort.Service, ruleEngine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		runner:     runner,
		cohorts:    cohorts,
		ruleEngine: ruleEngine,
		version:    version,
	}
}

// IngestTransaction handles POST /transactions.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()
	tx.TenantID = tenantID

	if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save transaction", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	h.countIngested(ctx, tenantID, 1)
	h.publishIngested(ctx, tenantID, 1)

	writeJSON(w, http.StatusCreated, tx)
}

// BatchRequest is the request body for POST /transactions/batch.
type BatchRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

// IngestBatch handles POST /transactions/batch. The batch is all-or-nothing:
// a single invalid row rejects the whole request.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions must not be empty",
		})
		return
	}

	txs := make([]*domain.Transaction, len(req.Transactions))
	for i := range req.Transactions {
		if err := req.Transactions[i].Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("transaction %d: %s", i, err.Error()),
			})
			return
		}
		tx := req.Transactions[i].ToTransaction()
		tx.ID = uuid.New().String()
		tx.TenantID = tenantID
		txs[i] = tx
	}

	if err := h.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		slog.Error("failed to save transaction batch", "count", len(txs), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	h.countIngested(ctx, tenantID, len(txs))
	h.publishIngested(ctx, tenantID, len(txs))

	writeJSON(w, http.StatusCreated, map[string]any{
		"count": len(txs),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// StartRun handles POST /runs. Synchronous by default; with async=true and
// an event bus available, the run request is queued for a worker instead.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	if req.Async && h.bus != nil {
		msg := worker.RunRequestMessage{
			TenantID:     tenantID,
			AnalysisDate: req.AnalysisDate,
		}
		payload, _ := json.Marshal(msg)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicRunRequested, payload); err != nil {
			slog.Error("failed to queue run request", "tenant_id", tenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue run",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
		})
		return
	}

	run, err := h.runner.Run(ctx, tenantID, &req)
	if err != nil {
		// The failed run record is persisted; report it with the error.
		writeJSON(w, statusForRunError(err), map[string]any{
			"error": err.Error(),
			"run":   run,
		})
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

// statusForRunError maps pipeline errors to HTTP status codes. Bad or
// degenerate data is the caller's problem; anything else is ours.
func statusForRunError(err error) int {
	var inputErr *domain.InputError
	var degenerateErr *domain.DegenerateDistributionError
	switch {
	case errors.As(err, &inputErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &degenerateErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ListRuns retrieves all runs for a tenant.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	runs, err := h.repo.ListRuns(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get run", "id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// GetScores retrieves the score table for a run.
func (h *Handler) GetScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	scores, ok := h.loadScores(w, ctx, tenantID, runID)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scores": scores,
		"count":  len(scores),
	})
}

// GetSummary retrieves the value tier summary for a run, serving from
// cache when possible.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.cache != nil {
		if rows, err := h.cache.GetSummary(ctx, tenantID, runID); err == nil && rows != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"summary": rows,
				"cached":  true,
			})
			return
		}
	}

	scores, ok := h.loadScores(w, ctx, tenantID, runID)
	if !ok {
		return
	}

	rows := clv.Summarize(scores)
	if h.cache != nil {
		_ = h.cache.SetSummary(ctx, tenantID, runID, rows, summaryTTL)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": rows,
		"cached":  false,
	})
}

// ExportScores streams the score table as a CSV download.
func (h *Handler) ExportScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	scores, ok := h.loadScores(w, ctx, tenantID, runID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="heron-scores-%s.csv"`, runID))
	if err := export.WriteScores(w, scores); err != nil {
		slog.Error("failed to export scores", "run_id", runID, "error", err)
	}
}

// GetReport renders the markdown report for a completed run.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get run", "id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return
	}

	scores, ok := h.loadScores(w, ctx, tenantID, runID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if err := report.Write(w, run, scores, clv.Summarize(scores)); err != nil {
		slog.Error("failed to render report", "run_id", runID, "error", err)
	}
}

// GetCohorts returns the monthly cohort retention matrix.
func (h *Handler) GetCohorts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rows, err := h.cohorts.Retention(ctx, tenantID)
	if err != nil {
		slog.Error("failed to compute cohorts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute cohorts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cohorts": rows,
		"count":   len(rows),
	})
}

// ListSegmentRules returns the tenant's segment rules.
func (h *Handler) ListSegmentRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	configs, err := h.repo.ListSegmentRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list segment rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list segment rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": configs,
		"count": len(configs),
	})
}

// CreateSegmentRuleRequest is the request body for creating a segment rule.
type CreateSegmentRuleRequest struct {
	ID         string `json:"id,omitempty"`
	Label      string `json:"label"`
	Expression string `json:"expression"`
	Priority   int    `json:"priority"`
	Enabled    bool   `json:"enabled"`
}

// CreateSegmentRule validates and stores a segment rule. The expression is
// compiled before saving so a broken rule never reaches a run.
func (h *Handler) CreateSegmentRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateSegmentRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Label == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "label and expression are required",
		})
		return
	}

	rule := &domain.SegmentRule{
		ID:         req.ID,
		TenantID:   tenantID,
		Label:      req.Label,
		Expression: req.Expression,
		Priority:   req.Priority,
		Enabled:    req.Enabled,
	}

	if err := h.ruleEngine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveSegmentRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save segment rule", "label", rule.Label, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save segment rule",
		})
		return
	}

	slog.Info("segment rule created", "id", rule.ID, "label", rule.Label)
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteSegmentRule removes a segment rule.
func (h *Handler) DeleteSegmentRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	err := h.repo.DeleteSegmentRule(ctx, tenantID, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "segment rule not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to delete segment rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete segment rule",
		})
		return
	}

	slog.Info("segment rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// loadScores fetches a run's scores and writes the error response itself
// when the run is missing or the read fails.
func (h *Handler) loadScores(w http.ResponseWriter, ctx context.Context, tenantID, runID string) ([]*domain.CustomerScore, bool) {
	scores, err := h.repo.GetScores(ctx, tenantID, runID)
	if err != nil {
		slog.Error("failed to get scores", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get scores",
		})
		return nil, false
	}
	if len(scores) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no scores for run",
		})
		return nil, false
	}
	return scores, true
}

// countIngested tracks per-tenant ingest volume in a daily window.
func (h *Handler) countIngested(ctx context.Context, tenantID string, n int) {
	if h.cache == nil {
		return
	}
	for i := 0; i < n; i++ {
		if _, err := h.cache.IncrementCounter(ctx, tenantID, "ingest", 24*time.Hour); err != nil {
			slog.Warn("ingest counter failed", "tenant_id", tenantID, "error", err)
			return
		}
	}
}

func (h *Handler) publishIngested(ctx context.Context, tenantID string, n int) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"count": n})
	if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
		slog.Warn("failed to publish ingest event", "tenant_id", tenantID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
