// Package memory provides an in-process persistence implementation, used by
// tests and single-process deployments.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

type Persistence struct {
	workflows  *WorkflowRepository
	executions *ExecutionRepository
	approvals  *ApprovalRepository
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  &WorkflowRepository{versions: make(map[string][]*models.Workflow)},
		executions: &ExecutionRepository{index: make(map[string]int)},
		approvals:  &ApprovalRepository{approvals: make(map[string]*models.ApprovalWorkflow)},
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository   { return p.workflows }
func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository { return p.executions }
func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository   { return p.approvals }

func (p *Persistence) HealthCheck(context.Context) error { return nil }

func (p *Persistence) Close(context.Context) error { return nil }

type WorkflowRepository struct {
	mu       sync.RWMutex
	versions map[string][]*models.Workflow
}

func (r *WorkflowRepository) SaveVersion(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range r.versions[workflow.ID] {
		if v.Version == workflow.Version {
			return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, persistence.ErrVersionConflict)
		}
	}

	versions := append(r.versions[workflow.ID], workflow.Clone())
	slices.SortFunc(versions, func(a, b *models.Workflow) int { return a.Version - b.Version })
	r.versions[workflow.ID] = versions

	return nil
}

func (r *WorkflowRepository) Latest(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[id]
	if len(versions) == 0 {
		return nil, persistence.NewWorkflowError("Latest", id, persistence.ErrWorkflowNotFound)
	}

	return versions[len(versions)-1].Clone(), nil
}

func (r *WorkflowRepository) Version(_ context.Context, id string, version int) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions[id] {
		if v.Version == version {
			return v.Clone(), nil
		}
	}

	return nil, persistence.NewWorkflowVersionError("Version", id, version, persistence.ErrWorkflowNotFound)
}

func (r *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	r.mu.RLock()

	workflows := make([]*models.Workflow, 0, len(r.versions))

	for _, versions := range r.versions {
		latest := versions[len(versions)-1]
		if opts.Matches(latest) {
			workflows = append(workflows, latest.Clone())
		}
	}

	r.mu.RUnlock()

	persistence.SortWorkflows(workflows, opts.SortBy, opts.SortOrder)

	return persistence.Paginate(workflows, opts), nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[id]; !ok {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.versions, id)

	return nil
}

// ExecutionRepository keeps executions in append order.
type ExecutionRepository struct {
	mu      sync.RWMutex
	records []*models.Execution
	index   map[string]int
}

func (r *ExecutionRepository) Append(_ context.Context, execution *models.Execution) error {
	cp, err := persistence.Clone(execution)
	if err != nil {
		return persistence.NewExecutionError("Append", execution.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[execution.ID]; ok {
		return persistence.NewExecutionError("Append", execution.ID, persistence.ErrExecutionExists)
	}

	r.index[execution.ID] = len(r.records)
	r.records = append(r.records, cp)

	return nil
}

func (r *ExecutionRepository) ByID(_ context.Context, id string) (*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
	}

	return persistence.Clone(r.records[i])
}

func (r *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	r.mu.RLock()

	out := make([]*models.Execution, 0)

	for _, e := range r.records {
		if !opts.Matches(e) {
			continue
		}

		cp, err := persistence.Clone(e)
		if err != nil {
			r.mu.RUnlock()

			return nil, err
		}

		out = append(out, cp)
	}

	r.mu.RUnlock()

	return persistence.SortExecutions(out, opts.Limit), nil
}

type ApprovalRepository struct {
	mu        sync.RWMutex
	approvals map[string]*models.ApprovalWorkflow
}

func (r *ApprovalRepository) Save(_ context.Context, approval *models.ApprovalWorkflow) error {
	cp, err := persistence.Clone(approval)
	if err != nil {
		return persistence.NewApprovalError("Save", approval.ID, err)
	}

	r.mu.Lock()
	r.approvals[approval.ID] = cp
	r.mu.Unlock()

	return nil
}

func (r *ApprovalRepository) ByID(_ context.Context, id string) (*models.ApprovalWorkflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.approvals[id]
	if !ok {
		return nil, persistence.NewApprovalError("ByID", id, persistence.ErrApprovalNotFound)
	}

	return persistence.Clone(a)
}

func (r *ApprovalRepository) Pending(_ context.Context) ([]*models.ApprovalWorkflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ApprovalWorkflow, 0)

	for _, a := range r.approvals {
		if a.Status != models.ApprovalPending {
			continue
		}

		cp, err := persistence.Clone(a)
		if err != nil {
			return nil, err
		}

		out = append(out, cp)
	}

	slices.SortFunc(out, func(a, b *models.ApprovalWorkflow) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return out, nil
}
