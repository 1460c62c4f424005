package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docflow/docflow/pkg/approval"
	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/conditions"
	"github.com/docflow/docflow/pkg/config"
	"github.com/docflow/docflow/pkg/eventbus"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/docflow/docflow/pkg/otelhelper"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/services"
	"github.com/docflow/docflow/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// EngineConfig carries everything NewEngine wires together. Only Config and
// the collaborators are required.
type EngineConfig struct {
	Config        *config.Engine
	Collaborators protocol.Collaborators
	PluginsPath   string
	Tracer        trace.Tracer
	Recorder      *metrics.Recorder
	Publisher     eventbus.EventPublisher
	// ResumeApprovals re-arms the timers of stored pending approvals. Only
	// the process that owns approval timers should set it.
	ResumeApprovals bool
}

// NewEngine assembles the approval engine, action registry, executor, batch
// coordinator and metrics aggregator on top of store, and publishes the
// configured workflow definitions.
func NewEngine(ctx context.Context, logger *slog.Logger, store persistence.Persistence, cfg EngineConfig) (*services.Engine, error) {
	engineConfig := cfg.Config
	if engineConfig == nil {
		engineConfig = &config.Engine{}
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otelhelper.Noop()
	}

	var (
		executorOptions = []workflow.Option{
			workflow.WithTracer(tracer),
			workflow.WithRetryPolicy(engineConfig.RetryPolicy()),
		}
		batchOptions = []batch.Option{
			batch.WithTracer(tracer),
			batch.WithLimits(engineConfig.BatchLimits()),
		}
		approvalOptions = []approval.Option{
			approval.WithTracer(tracer),
		}
		definitionListeners []services.DefinitionListener
	)

	if cfg.Recorder != nil {
		executorOptions = append(executorOptions, workflow.WithListener(cfg.Recorder))
		batchOptions = append(batchOptions, batch.WithListener(cfg.Recorder))
		approvalOptions = append(approvalOptions, approval.WithListener(cfg.Recorder))
	}

	if cfg.Publisher != nil {
		lifecycle := eventbus.NewLifecyclePublisher(logger, cfg.Publisher)
		executorOptions = append(executorOptions, workflow.WithListener(lifecycle))
		batchOptions = append(batchOptions, batch.WithListener(lifecycle))
		approvalOptions = append(approvalOptions, approval.WithListener(lifecycle))
		definitionListeners = append(definitionListeners, lifecycle)
	}

	collaborators := cfg.Collaborators
	if collaborators.Content != nil {
		executorOptions = append(executorOptions, workflow.WithContentService(collaborators.Content))
	}

	approvals := approval.NewEngine(logger, store.ApprovalRepository(), collaborators.Notifications, approvalOptions...)
	collaborators.Approvals = approvals

	reg := NewRegistry(logger, collaborators, cfg.PluginsPath)
	evaluator := conditions.NewEvaluator(logger)

	executor := workflow.NewExecutor(
		logger,
		store.WorkflowRepository(),
		store.ExecutionRepository(),
		reg,
		evaluator,
		executorOptions...,
	)

	workflows := services.NewWorkflows(
		logger,
		workflow.NewRepository(store.WorkflowRepository(), nil),
		reg,
		evaluator,
		definitionListeners...,
	)

	engine := services.NewEngine(logger, services.Dependencies{
		Persistence: store,
		Workflows:   workflows,
		Executor:    executor,
		Batches:     batch.NewCoordinator(logger, executor, store.WorkflowRepository(), batchOptions...),
		Approvals:   approvals,
		Aggregator:  metrics.NewAggregator(logger, store.ExecutionRepository(), engineConfig.Estimates()),
		Registry:    reg,
		Retry:       engineConfig.RetryPolicy(),
	})

	if engineConfig.Definitions != "" {
		definitions, err := workflow.LoadDefinitions(engineConfig.Definitions)
		if err != nil {
			return nil, err
		}

		result, err := workflows.Publish(ctx, definitions)
		if err != nil {
			return nil, fmt.Errorf("failed to publish workflow definitions: %w", err)
		}

		logger.InfoContext(ctx, "Workflow definitions published",
			"path", engineConfig.Definitions,
			"defined", len(result.Defined),
			"updated", len(result.Updated),
			"unchanged", len(result.Unchanged))
	}

	if cfg.ResumeApprovals {
		resumed, err := approvals.Resume(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resume approvals: %w", err)
		}

		logger.InfoContext(ctx, "Pending approvals resumed", "count", resumed)
	}

	return engine, nil
}
