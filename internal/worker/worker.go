// Package worker provides async run execution for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
)

// RunRequestMessage is the payload of a heron.run.requested event.
type RunRequestMessage struct {
	TenantID     string     `json:"tenantId"`
	AnalysisDate *time.Time `json:"analysisDate,omitempty"`
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants this worker processes; empty means all.
	TenantIDs []string
}

// Worker consumes run requests from the event bus and drives the analysis
// pipeline. The API layer publishes a request for async runs; any node's
// worker may pick it up.
type Worker struct {
	bus    domain.EventBus
	runner *pipeline.Runner

	subs   []domain.Subscription
	inWork sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates an async worker over the given bus and runner.
func NewWorker(bus domain.EventBus, runner *pipeline.Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{bus: bus, runner: runner, ctx: ctx, cancel: cancel}
}

// Start subscribes to run requests for each configured tenant. With no
// tenant list it subscribes as domain.GlobalTenant, which both buses fan
// every tenant's requests into; each delivered message still names its
// real tenant.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.GlobalTenant}
	}

	for _, tenantID := range tenants {
		tenantID := tenantID
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRunRequested, func(ctx context.Context, msg *domain.Message) error {
			return w.execute(ctx, tenantID, msg)
		})
		if err != nil {
			if tenantID == domain.GlobalTenant {
				return err
			}
			slog.Error("failed to subscribe worker", "tenant_id", tenantID, "error", err)
			continue
		}
		w.subs = append(w.subs, sub)
	}

	slog.Info("workers started", "subscriptions", len(w.subs))
	return nil
}

// execute parses one run request and drives the pipeline for it.
func (w *Worker) execute(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req RunRequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request message", "message_id", msg.ID, "error", err)
		return err
	}

	// A global subscription takes the tenant from the envelope; an explicit
	// tenant in the payload wins either way.
	if tenantID == domain.GlobalTenant && msg.TenantID != "" {
		tenantID = msg.TenantID
	}
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	w.inWork.Add(1)
	defer w.inWork.Done()

	run, err := w.runner.Run(ctx, tenantID, &domain.RunRequest{AnalysisDate: req.AnalysisDate})
	if err != nil {
		// The runner persisted the failed run and published the failure
		// event; nothing to retry here.
		return err
	}

	slog.Info("run request processed",
		"tenant_id", tenantID,
		"run_id", run.ID,
		"customers", run.CustomerCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes everything and waits for in-flight runs to finish.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subs = nil

	w.inWork.Wait()
	slog.Info("workers stopped")
	return nil
}

// Stats describes the worker's active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subs))
	for i, sub := range w.subs {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subs), Topics: topics}
}
