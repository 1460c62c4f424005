package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

// WorkflowRepository stores each version as workflows/<id>/v<version>.json.
type WorkflowRepository struct {
	root string
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: filepath.Join(root, "workflows")}
}

func (wr *WorkflowRepository) versionPath(id string, version int) string {
	return filepath.Join(wr.root, id, "v"+strconv.Itoa(version)+".json")
}

// SaveVersion writes a new version file and fails if it already exists.
func (wr *WorkflowRepository) SaveVersion(_ context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("SaveVersion", workflow.ID, err)
	}

	err := createJSON(wr.versionPath(workflow.ID, workflow.Version), workflow)
	if errors.Is(err, os.ErrExist) {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, persistence.ErrVersionConflict)
	}

	if err != nil {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, err)
	}

	return nil
}

// versions returns the stored version numbers of a workflow in ascending order.
func (wr *WorkflowRepository) versions(id string) ([]int, error) {
	files, err := jsonFiles(filepath.Join(wr.root, id))
	if err != nil {
		return nil, err
	}

	out := make([]int, 0, len(files))

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".json")

		v, err := strconv.Atoi(strings.TrimPrefix(name, "v"))
		if err != nil {
			continue
		}

		out = append(out, v)
	}

	slices.Sort(out)

	return out, nil
}

func (wr *WorkflowRepository) Latest(ctx context.Context, id string) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("Latest", id, persistence.ErrWorkflowNotFound)
	}

	versions, err := wr.versions(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("Latest", id, err)
	}

	if len(versions) == 0 {
		return nil, persistence.NewWorkflowError("Latest", id, persistence.ErrWorkflowNotFound)
	}

	return wr.Version(ctx, id, versions[len(versions)-1])
}

func (wr *WorkflowRepository) Version(_ context.Context, id string, version int) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, persistence.ErrWorkflowNotFound)
	}

	var workflow models.Workflow

	err := readJSON(wr.versionPath(id, version), &workflow)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, err)
	}

	return &workflow, nil
}

// List loads the latest version of every workflow and filters, sorts and
// paginates in memory.
func (wr *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(wr.root)
	if errors.Is(err, os.ErrNotExist) {
		return persistence.Paginate(nil, opts), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list workflow directories: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		workflow, err := wr.Latest(ctx, entry.Name())
		if persistence.IsWorkflowNotFound(err) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", entry.Name(), err)
		}

		if opts.Matches(workflow) {
			workflows = append(workflows, workflow)
		}
	}

	persistence.SortWorkflows(workflows, opts.SortBy, opts.SortOrder)

	return persistence.Paginate(workflows, opts), nil
}

// Delete removes every version of a workflow.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	dir := filepath.Join(wr.root, id)

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	if err := os.RemoveAll(dir); err != nil {
		return persistence.NewWorkflowError("Delete", id, fmt.Errorf("failed to delete workflow: %w", err))
	}

	return nil
}
