package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

// ApprovalRepository stores each approval workflow as approvals/<id>.json.
type ApprovalRepository struct {
	root string
}

func NewApprovalRepository(root string) *ApprovalRepository {
	return &ApprovalRepository{root: filepath.Join(root, "approvals")}
}

func (ar *ApprovalRepository) Save(_ context.Context, approval *models.ApprovalWorkflow) error {
	if err := validateID(approval.ID); err != nil {
		return persistence.NewApprovalError("Save", approval.ID, err)
	}

	if err := writeJSON(filepath.Join(ar.root, approval.ID+".json"), approval); err != nil {
		return persistence.NewApprovalError("Save", approval.ID, err)
	}

	return nil
}

func (ar *ApprovalRepository) ByID(_ context.Context, id string) (*models.ApprovalWorkflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewApprovalError("ByID", id, persistence.ErrApprovalNotFound)
	}

	var approval models.ApprovalWorkflow

	err := readJSON(filepath.Join(ar.root, id+".json"), &approval)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewApprovalError("ByID", id, persistence.ErrApprovalNotFound)
	}

	if err != nil {
		return nil, persistence.NewApprovalError("ByID", id, err)
	}

	return &approval, nil
}

func (ar *ApprovalRepository) Pending(_ context.Context) ([]*models.ApprovalWorkflow, error) {
	files, err := jsonFiles(ar.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	out := make([]*models.ApprovalWorkflow, 0)

	for _, f := range files {
		var approval models.ApprovalWorkflow
		if err := readJSON(f, &approval); err != nil {
			return nil, fmt.Errorf("failed to read approval %s: %w", filepath.Base(f), err)
		}

		if approval.Status == models.ApprovalPending {
			out = append(out, &approval)
		}
	}

	slices.SortFunc(out, func(a, b *models.ApprovalWorkflow) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return out, nil
}
