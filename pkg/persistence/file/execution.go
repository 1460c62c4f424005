package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

// ExecutionRepository stores each finished execution as executions/<id>.json.
// Files are created exclusively and never rewritten.
type ExecutionRepository struct {
	root string
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: filepath.Join(root, "executions")}
}

func (er *ExecutionRepository) Append(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Append", execution.ID, err)
	}

	err := createJSON(filepath.Join(er.root, execution.ID+".json"), execution)
	if errors.Is(err, os.ErrExist) {
		return persistence.NewExecutionError("Append", execution.ID, persistence.ErrExecutionExists)
	}

	if err != nil {
		return persistence.NewExecutionError("Append", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) ByID(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
	}

	var execution models.Execution

	err := readJSON(filepath.Join(er.root, id+".json"), &execution)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	files, err := jsonFiles(er.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	out := make([]*models.Execution, 0, len(files))

	for _, f := range files {
		var execution models.Execution
		if err := readJSON(f, &execution); err != nil {
			return nil, fmt.Errorf("failed to read execution %s: %w", filepath.Base(f), err)
		}

		if opts.Matches(&execution) {
			out = append(out, &execution)
		}
	}

	return persistence.SortExecutions(out, opts.Limit), nil
}
