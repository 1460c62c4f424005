package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// maxVersionAttempts bounds how often a concurrent update is retried.
const maxVersionAttempts = 3

// Repository manages workflow versions on top of the persistence layer.
// It never rewrites a stored version.
type Repository struct {
	workflows persistence.WorkflowRepository
	clock     clockwork.Clock
}

func NewRepository(workflows persistence.WorkflowRepository, clock clockwork.Clock) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Repository{
		workflows: workflows,
		clock:     clock,
	}
}

// Create stores workflow as version 1. An id is generated when empty.
func (r *Repository) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := r.clock.Now().UTC()
	workflow.Version = 1
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := r.workflows.SaveVersion(ctx, workflow); err != nil {
		if persistence.IsVersionConflict(err) {
			return nil, &models.EngineError{Op: "Define", ID: workflow.ID, Message: "workflow already exists", Err: models.ErrInvalidRequest}
		}

		return nil, err
	}

	return workflow, nil
}

// NewVersion derives the next version from the latest one. mutate receives a
// private copy and returns the workflow to store. Concurrent writers that
// lose the race re-read and try again.
func (r *Repository) NewVersion(
	ctx context.Context,
	id string,
	mutate func(latest *models.Workflow) (*models.Workflow, error),
) (*models.Workflow, error) {
	var lastErr error

	for range maxVersionAttempts {
		latest, err := r.workflows.Latest(ctx, id)
		if err != nil {
			return nil, err
		}

		next, err := mutate(latest.Clone())
		if err != nil {
			return nil, err
		}

		next.ID = latest.ID
		next.Version = latest.Version + 1
		next.CreatedAt = latest.CreatedAt
		next.UpdatedAt = r.clock.Now().UTC()

		err = r.workflows.SaveVersion(ctx, next)
		if err == nil {
			return next, nil
		}

		if !persistence.IsVersionConflict(err) {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("failed to store a new version of %s: %w", id, lastErr)
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.workflows.Latest(ctx, id)
}

func (r *Repository) FetchVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	return r.workflows.Version(ctx, id, version)
}

func (r *Repository) FetchAll(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	return r.workflows.List(ctx, opts)
}

// FetchEnabled returns the latest version of every enabled workflow.
func (r *Repository) FetchEnabled(ctx context.Context) ([]*models.Workflow, error) {
	enabled := true
	opts := persistence.ListWorkflowsOptions{
		Limit:     persistence.MaxListLimit,
		Enabled:   &enabled,
		SortBy:    "created_at",
		SortOrder: "asc",
	}

	var out []*models.Workflow

	for {
		page, err := r.workflows.List(ctx, opts)
		if err != nil {
			return nil, err
		}

		out = append(out, page.Workflows...)

		if !page.HasNextPage || len(page.Workflows) == 0 {
			return out, nil
		}

		opts.Offset += len(page.Workflows)
	}
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.workflows.Delete(ctx, id)
}

// Now returns the repository clock's current time.
func (r *Repository) Now() time.Time {
	return r.clock.Now().UTC()
}
