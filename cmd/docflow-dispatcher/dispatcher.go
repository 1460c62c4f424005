package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docflow/docflow/pkg/eventbus"
	"github.com/docflow/docflow/pkg/events"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/services"
	"github.com/docflow/docflow/pkg/workflow"
)

// Dispatcher consumes document events and runs every enabled workflow with a
// matching trigger.
type Dispatcher struct {
	id      string
	engine  *services.Engine
	source  eventbus.EventSubscriber
	matcher *workflow.TriggerMatcher
	logger  *slog.Logger
}

func NewDispatcher(id string, engine *services.Engine, source eventbus.EventSubscriber, logger *slog.Logger) *Dispatcher {
	logger = logger.With("module", "dispatcher")

	return &Dispatcher{
		id:      id,
		engine:  engine,
		source:  source,
		matcher: workflow.NewTriggerMatcher(logger),
		logger:  logger,
	}
}

// Start subscribes to document events and blocks until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Starting dispatcher", "dispatcher_id", d.id)

	err := d.source.Handle(events.DocumentChangedEvent, func(ctx context.Context, event any) error {
		changed, ok := event.(*events.DocumentChanged)
		if !ok {
			return fmt.Errorf("%w: unexpected payload %T", events.ErrInvalidEventData, event)
		}

		_, err := d.Dispatch(ctx, changed)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to register document event handler: %w", err)
	}

	if err := d.source.Subscribe(ctx); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "Subscribed to document events, waiting for events...")

	<-ctx.Done()
	d.logger.Info("Dispatcher context cancelled, stopping...")

	return nil
}

// Dispatch runs the workflows matched by event, highest priority first, and
// returns their executions. Invalid events are dropped. Only failures to
// read the workflow catalogue are returned, so the event is redelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, event *events.DocumentChanged) ([]*models.Execution, error) {
	logger := d.logger.With(
		"event_id", event.ID,
		"kind", event.Event.Kind,
		"document_id", event.Event.DocumentID,
	)

	if err := event.Validate(); err != nil {
		logger.WarnContext(ctx, "Dropping invalid document event", "error", err)

		return nil, nil
	}

	workflows, err := d.engine.Workflows.Enabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled workflows: %w", err)
	}

	matches := d.matcher.MatchWorkflows(event.Event, workflows)
	logger.InfoContext(ctx, "Document event matched workflows", "count", len(matches))

	executions := make([]*models.Execution, 0, len(matches))

	for _, match := range matches {
		execution, err := d.engine.ExecuteWorkflow(ctx, services.ExecuteRequest{
			WorkflowID:  match.Workflow.ID,
			Version:     match.Workflow.Version,
			DocumentID:  event.Event.DocumentID,
			Metadata:    event.Event.Metadata,
			Variables:   eventVariables(event.Event),
			InitiatedBy: event.Event.Actor,
			Trigger:     match.Trigger.Kind,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return executions, err
			}

			logger.ErrorContext(ctx, "Failed to execute matched workflow",
				"workflow_id", match.Workflow.ID,
				"error", err)

			continue
		}

		logger.InfoContext(ctx, "Workflow executed",
			"workflow_id", match.Workflow.ID,
			"execution_id", execution.ID,
			"status", execution.Status,
			"skipped", execution.Skipped)

		executions = append(executions, execution)
	}

	return executions, nil
}

func eventVariables(event models.DocumentEvent) map[string]any {
	changed := make([]any, len(event.ChangedFields))
	for i, field := range event.ChangedFields {
		changed[i] = field
	}

	return map[string]any{
		"event": map[string]any{
			"kind":           string(event.Kind),
			"library":        event.Library,
			"path":           event.Path,
			"changed_fields": changed,
		},
	}
}
