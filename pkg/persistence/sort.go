package persistence

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/docflow/docflow/pkg/models"
)

// SortWorkflows sorts in place by a validated field and order.
func SortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	slices.SortStableFunc(workflows, func(a, b *models.Workflow) int {
		var c int

		switch sortBy {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "updated_at":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		case "priority":
			c = a.Priority.Rank() - b.Priority.Rank()
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}

		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}

		if sortOrder == "desc" {
			return -c
		}

		return c
	})
}

// Paginate slices a sorted list.
func Paginate(workflows []*models.Workflow, opts ListWorkflowsOptions) *WorkflowListResult {
	total := len(workflows)

	if opts.Offset >= total {
		return &WorkflowListResult{Workflows: make([]*models.Workflow, 0), TotalCount: int64(total)}
	}

	end := min(opts.Offset+opts.Limit, total)

	return &WorkflowListResult{
		Workflows:   workflows[opts.Offset:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}
}

// SortExecutions orders by start time then id, and keeps the most recent
// limit entries when limit is positive.
func SortExecutions(executions []*models.Execution, limit int) []*models.Execution {
	slices.SortStableFunc(executions, func(a, b *models.Execution) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(executions) > limit {
		return executions[len(executions)-limit:]
	}

	return executions
}

// Clone deep-copies a stored record through its JSON form.
func Clone[T any](v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
