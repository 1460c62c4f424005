package eventbus

import (
	"context"
	"log/slog"

	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/events"
	"github.com/docflow/docflow/pkg/models"
)

// LifecyclePublisher turns executor, batch and approval notifications into
// events. Publish failures are logged and never reach the engine.
type LifecyclePublisher struct {
	logger    *slog.Logger
	publisher EventPublisher
}

func NewLifecyclePublisher(logger *slog.Logger, publisher EventPublisher) *LifecyclePublisher {
	return &LifecyclePublisher{
		logger:    logger.With("module", "lifecycle_publisher"),
		publisher: publisher,
	}
}

func (p *LifecyclePublisher) WorkflowDefined(ctx context.Context, workflow *models.Workflow) {
	p.publish(ctx, workflow.ID, &events.WorkflowDefined{
		BaseEvent: events.NewBaseEvent(events.WorkflowDefinedEvent, workflow.ID),
		Version:   workflow.Version,
		Enabled:   workflow.Enabled,
	})
}

func (p *LifecyclePublisher) ExecutionStarted(ctx context.Context, execution *models.Execution) {
	p.publish(ctx, execution.ID, &events.ExecutionStarted{
		BaseEvent:       events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID),
		ExecutionID:     execution.ID,
		WorkflowVersion: execution.WorkflowVersion,
		DocumentID:      execution.DocumentID,
		InitiatedBy:     execution.InitiatedBy,
	})
}

func (p *LifecyclePublisher) ExecutionFinished(ctx context.Context, execution *models.Execution) {
	p.publish(ctx, execution.ID, &events.ExecutionFinished{
		BaseEvent:       events.NewBaseEvent(events.ExecutionFinishedEvent, execution.WorkflowID),
		ExecutionID:     execution.ID,
		WorkflowVersion: execution.WorkflowVersion,
		DocumentID:      execution.DocumentID,
		Status:          execution.Status,
		Skipped:         execution.Skipped,
		StepsCompleted:  execution.CompletedSteps(),
		FailedStep:      execution.FailedStep,
		Error:           execution.Error,
		DurationMs:      execution.Duration.Milliseconds(),
	})
}

func (p *LifecyclePublisher) BatchFinished(ctx context.Context, result *batch.Result) {
	p.publish(ctx, result.ID, &events.BatchFinished{
		BaseEvent:  events.NewBaseEvent(events.BatchFinishedEvent, result.WorkflowID),
		BatchID:    result.ID,
		Successful: len(result.Successful),
		Failed:     len(result.Failed),
		TimedOut:   result.TimedOut,
		DurationMs: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	})
}

func (p *LifecyclePublisher) ApprovalFinished(ctx context.Context, approval *models.ApprovalWorkflow) {
	p.publish(ctx, approval.ID, &events.ApprovalFinished{
		BaseEvent:   events.NewBaseEvent(events.ApprovalFinishedEvent, ""),
		ApprovalID:  approval.ID,
		DocumentID:  approval.DocumentID,
		ExecutionID: approval.ExecutionID,
		Status:      approval.Status,
		Overridden:  approval.Overridden,
	})
}

func (p *LifecyclePublisher) publish(ctx context.Context, key string, event Event) {
	if err := p.publisher.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(),
			"key", key,
			"error", err)
	}
}
