// Package persistence provides the storage abstraction for workflow versions,
// execution history and approval state.
package persistence

import (
	"context"
	"time"

	"github.com/docflow/docflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ApprovalRepository() ApprovalRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores every version of every workflow. Versions are
// immutable once saved.
type WorkflowRepository interface {
	// SaveVersion stores a new version. Saving an (id, version) pair that
	// already exists returns ErrVersionConflict.
	SaveVersion(ctx context.Context, workflow *models.Workflow) error

	// Latest returns the highest version of a workflow.
	Latest(ctx context.Context, id string) (*models.Workflow, error)

	// Version returns one specific version.
	Version(ctx context.Context, id string, version int) (*models.Workflow, error)

	// List returns the latest version of each workflow.
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)

	// Delete removes every version of a workflow.
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository is the append-only execution history.
type ExecutionRepository interface {
	// Append records a finished execution. Appending an id twice returns
	// ErrExecutionExists.
	Append(ctx context.Context, execution *models.Execution) error

	ByID(ctx context.Context, id string) (*models.Execution, error)

	// List returns executions ordered by start time, oldest first. An empty
	// WorkflowID lists every workflow.
	List(ctx context.Context, opts ListExecutionsOptions) ([]*models.Execution, error)
}

type ApprovalRepository interface {
	Save(ctx context.Context, approval *models.ApprovalWorkflow) error
	ByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error)

	// Pending returns every approval workflow still awaiting decisions.
	Pending(ctx context.Context) ([]*models.ApprovalWorkflow, error)
}

type ListWorkflowsOptions struct {
	Limit     int
	Offset    int
	Category  models.Category
	Enabled   *bool
	SortBy    string // "created_at", "updated_at", "name" or "priority"
	SortOrder string // "asc" or "desc"
}

type WorkflowListResult struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

type ListExecutionsOptions struct {
	WorkflowID string
	Since      time.Time
	// Limit keeps the most recent executions. Zero lists everything.
	Limit int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var allowedSorts = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"priority":   true,
}

// Normalize applies defaults and validates the sort parameters.
func (o *ListWorkflowsOptions) Normalize() error {
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if !allowedSorts[o.SortBy] {
		return ErrInvalidSortField
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return ErrInvalidSortOrder
	}

	return nil
}

// Matches reports whether a workflow passes the filters.
func (o ListWorkflowsOptions) Matches(w *models.Workflow) bool {
	if o.Category != "" && w.Category != o.Category {
		return false
	}

	if o.Enabled != nil && w.Enabled != *o.Enabled {
		return false
	}

	return true
}

// Matches reports whether an execution passes the filters.
func (o ListExecutionsOptions) Matches(e *models.Execution) bool {
	if o.WorkflowID != "" && e.WorkflowID != o.WorkflowID {
		return false
	}

	if !o.Since.IsZero() && e.StartTime.Before(o.Since) {
		return false
	}

	return true
}
