// Package pipeline orchestrates the batch scoring workflow: load
// transactions, compute RFM metrics and scores, assign segments, fit the
// lifetime-value models and persist the per-customer results.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/heron/internal/clv"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rfm"
	"github.com/opensource-finance/heron/internal/rules"
)

// EngineVersion identifies the scoring engine in run metadata.
const EngineVersion = "heron-1.0"

const summaryTTL = 5 * time.Minute

// Runner executes analysis runs for a tenant. It is safe for concurrent
// use; each run builds its own model state.
type Runner struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	cfg    domain.AnalysisConfig
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRunner creates a pipeline runner backed by the given components. The
// cache and bus may be nil; summary caching and lifecycle events are then
// skipped.
func NewRunner(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.AnalysisConfig) *Runner {
	return &Runner{
		repo:   repo,
		cache:  cache,
		bus:    bus,
		cfg:    cfg,
		logger: slog.Default().With("component", "pipeline"),
		tracer: otel.Tracer("heron-pipeline"),
	}
}

// Run executes one analysis run over all of the tenant's transactions and
// persists the run record and score table. The returned run is also saved
// on failure, with Status failed and the diagnostic in Error.
func (r *Runner) Run(ctx context.Context, tenantID string, req *domain.RunRequest) (*domain.AnalysisRun, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	run := &domain.AnalysisRun{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Status:    domain.RunRunning,
		StartedAt: time.Now().UTC(),
		Metadata: domain.RunMetadata{
			TraceID:       span.SpanContext().TraceID().String(),
			EngineVersion: EngineVersion,
		},
	}

	if err := r.execute(ctx, run, req); err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now().UTC()
		run.Metadata.TotalMs = time.Since(run.StartedAt).Milliseconds()
		r.saveRun(ctx, run)
		r.publish(ctx, domain.TopicRunFailed, run)
		r.logger.Error("run failed", "tenant_id", tenantID, "run_id", run.ID, "error", err)
		return run, err
	}

	run.Status = domain.RunCompleted
	run.FinishedAt = time.Now().UTC()
	run.Metadata.TotalMs = time.Since(run.StartedAt).Milliseconds()
	r.saveRun(ctx, run)
	r.publish(ctx, domain.TopicRunCompleted, run)
	r.logger.Info("run completed",
		"tenant_id", tenantID,
		"run_id", run.ID,
		"customers", run.CustomerCount,
		"transactions", run.TransactionCount,
		"total_ms", run.Metadata.TotalMs)
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *domain.AnalysisRun, req *domain.RunRequest) error {
	transactions, err := r.repo.ListTransactions(ctx, run.TenantID)
	if err != nil {
		return err
	}
	run.TransactionCount = len(transactions)

	var analysisDate time.Time
	if req != nil && req.AnalysisDate != nil {
		analysisDate = *req.AnalysisDate
	}

	engine := rfm.NewEngine(r.cfg)

	// RFM metrics
	stage := time.Now()
	scores, resolvedDate, err := engine.Calculate(transactions, analysisDate)
	if err != nil {
		return err
	}
	run.AnalysisDate = resolvedDate
	run.CustomerCount = len(scores)
	run.Metadata.RFMMs = time.Since(stage).Milliseconds()

	// Ordinal scoring
	stage = time.Now()
	if err := engine.AddScores(scores); err != nil {
		return err
	}
	run.Metadata.ScoreMs = time.Since(stage).Milliseconds()

	// Behavioral segments, then tenant rule overrides
	stage = time.Now()
	engine.AssignSegments(scores)
	if err := r.applyRuleOverrides(ctx, run.TenantID, scores); err != nil {
		return err
	}
	run.Metadata.SegmentMs = time.Since(stage).Milliseconds()

	// Model fit
	estimator := clv.NewEstimator(r.cfg)
	stage = time.Now()
	if err := estimator.Fit(scores); err != nil {
		return err
	}
	run.ModelParams = estimator.Params()
	run.Metadata.FitMs = time.Since(stage).Milliseconds()

	// Value projection and tiers
	stage = time.Now()
	if err := estimator.Predict(scores); err != nil {
		return err
	}
	if err := estimator.AssignValueSegments(scores); err != nil {
		return err
	}
	run.Metadata.PredictMs = time.Since(stage).Milliseconds()

	if err := r.repo.SaveScores(ctx, run.TenantID, run.ID, scores); err != nil {
		return err
	}

	if r.cache != nil {
		summary := clv.Summarize(scores)
		if err := r.cache.SetSummary(ctx, run.TenantID, run.ID, summary, summaryTTL); err != nil {
			r.logger.Warn("summary cache write failed", "run_id", run.ID, "error", err)
		}
	}
	return nil
}

// applyRuleOverrides relabels segments using the tenant's enabled CEL
// rules. Rules are compiled fresh per run so concurrent tenants never
// share rule state.
func (r *Runner) applyRuleOverrides(ctx context.Context, tenantID string, scores []*domain.CustomerScore) error {
	configs, err := r.repo.ListSegmentRules(ctx, tenantID)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return nil
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.LoadRules(configs); err != nil {
		return err
	}
	if engine.RulesCount() == 0 {
		return nil
	}

	overridden := 0
	for _, s := range scores {
		if label, ok := engine.Match(s); ok {
			s.Segment = label
			overridden++
		}
	}
	if overridden > 0 {
		r.logger.Debug("segment overrides applied",
			"tenant_id", tenantID, "rules", engine.RulesCount(), "overridden", overridden)
	}
	return nil
}

func (r *Runner) saveRun(ctx context.Context, run *domain.AnalysisRun) {
	if err := r.repo.SaveRun(ctx, run.TenantID, run); err != nil {
		r.logger.Error("run save failed", "run_id", run.ID, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, topic string, run *domain.AnalysisRun) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, run.TenantID, topic, payload); err != nil {
		r.logger.Warn("event publish failed", "topic", topic, "run_id", run.ID, "error", err)
	}
}
