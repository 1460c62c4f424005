package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docflow/docflow/pkg/conditions"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/registry"
	"github.com/docflow/docflow/pkg/workflow"
)

// DefinitionListener is told about every stored workflow version.
type DefinitionListener interface {
	WorkflowDefined(ctx context.Context, workflow *models.Workflow)
}

// Workflows defines and versions workflows. Every stored version passed the
// full validation: struct tags, trigger cron, condition shape and compiled
// expressions, action references and per-kind params schemas.
type Workflows struct {
	logger     *slog.Logger
	repository *workflow.Repository
	registry   *registry.Registry
	evaluator  *conditions.Evaluator
	listeners  []DefinitionListener
}

func NewWorkflows(
	logger *slog.Logger,
	repository *workflow.Repository,
	registry *registry.Registry,
	evaluator *conditions.Evaluator,
	listeners ...DefinitionListener,
) *Workflows {
	return &Workflows{
		logger:     logger.With("module", "workflow_service"),
		repository: repository,
		registry:   registry,
		evaluator:  evaluator,
		listeners:  listeners,
	}
}

// Define validates the definition and stores it as version 1.
func (w *Workflows) Define(ctx context.Context, definition *models.Workflow) (*models.Workflow, error) {
	if definition == nil {
		return nil, ErrWorkflowNil
	}

	candidate := definition.Clone()
	if err := w.Validate(candidate); err != nil {
		return nil, err
	}

	stored, err := w.repository.Create(ctx, candidate)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow defined",
		"workflow_id", stored.ID,
		"workflow_name", stored.Name,
		"actions", len(stored.Actions))
	w.defined(ctx, stored)

	return stored, nil
}

// Update stores the patched latest version as a new version. Prior versions
// stay readable with GetVersion.
func (w *Workflows) Update(ctx context.Context, id string, patch models.WorkflowPatch) (*models.Workflow, error) {
	if patch.IsEmpty() {
		return nil, models.NewEngineError("Update", id, ErrEmptyPatch)
	}

	stored, err := w.repository.NewVersion(ctx, id, func(latest *models.Workflow) (*models.Workflow, error) {
		next := patch.Apply(latest)
		if err := w.Validate(next); err != nil {
			return nil, err
		}

		return next, nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", id, "version", stored.Version)
	w.defined(ctx, stored)

	return stored, nil
}

// SetEnabled stores a new version with the enabled flag changed. Setting the
// current value is a no-op returning the latest version.
func (w *Workflows) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Workflow, error) {
	latest, err := w.repository.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if latest.Enabled == enabled {
		return latest, nil
	}

	return w.Update(ctx, id, models.WorkflowPatch{Enabled: &enabled})
}

func (w *Workflows) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return w.repository.FetchByID(ctx, id)
}

func (w *Workflows) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	if version < 1 {
		return nil, &models.EngineError{Op: "GetVersion", ID: id, Message: "version must be positive", Err: models.ErrInvalidRequest}
	}

	return w.repository.FetchVersion(ctx, id, version)
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Limit     int
	Offset    int
	Category  models.Category
	Enabled   *bool
	SortBy    string
	SortOrder string
}

// List returns the latest version of each workflow with filtering, sorting
// and pagination.
func (w *Workflows) List(ctx context.Context, req ListWorkflowsRequest) (*persistence.WorkflowListResult, error) {
	opts := persistence.ListWorkflowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		Category:  req.Category,
		Enabled:   req.Enabled,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}

	if err := opts.Normalize(); err != nil {
		return nil, NewValidationError("ListWorkflows", "INVALID_SORT", fmt.Sprintf("sort_by %q, sort_order %q", req.SortBy, req.SortOrder), err)
	}

	return w.repository.FetchAll(ctx, opts)
}

// Enabled returns the latest version of every enabled workflow.
func (w *Workflows) Enabled(ctx context.Context) ([]*models.Workflow, error) {
	return w.repository.FetchEnabled(ctx)
}

// Delete removes every version. Finished executions keep their history.
func (w *Workflows) Delete(ctx context.Context, id string) error {
	if err := w.repository.Delete(ctx, id); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id)

	return nil
}

// Validate runs every definition check and reports all issues at once.
func (w *Workflows) Validate(definition *models.Workflow) error {
	if err := definition.Validate(); err != nil {
		return err
	}

	var issues []string

	if w.evaluator != nil {
		if err := w.evaluator.Validate(definition.Conditions); err != nil {
			issues = append(issues, err.Error())
		}
	}

	if w.registry != nil {
		for _, action := range definition.Actions {
			if err := w.registry.ValidateParams(action); err != nil {
				issues = append(issues, err.Error())
			}
		}
	}

	if len(issues) > 0 {
		return models.NewInvalidWorkflowError("Validate", definition.ID, strings.Join(issues, "; "))
	}

	return nil
}

func (w *Workflows) defined(ctx context.Context, stored *models.Workflow) {
	for _, l := range w.listeners {
		l.WorkflowDefined(ctx, stored)
	}
}
