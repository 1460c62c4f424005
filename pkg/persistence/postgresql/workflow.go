package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// SaveVersion inserts a new version row. The primary key rejects duplicates.
func (r *WorkflowRepository) SaveVersion(ctx context.Context, workflow *models.Workflow) error {
	definition, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, fmt.Errorf("failed to marshal workflow: %w", err))
	}

	query := `
		INSERT INTO workflow_versions (
			id
		  , version
		  , name
		  , category
		  , priority
		  , enabled
		  , owner
		  , definition
		  , created_at
		  , updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Version,
		workflow.Name,
		workflow.Category,
		workflow.Priority,
		workflow.Enabled,
		workflow.Owner,
		definition,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, persistence.ErrVersionConflict)
	}

	if err != nil {
		return persistence.NewWorkflowVersionError("SaveVersion", workflow.ID, workflow.Version, fmt.Errorf("failed to insert workflow: %w", err))
	}

	return nil
}

func (r *WorkflowRepository) Latest(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT definition
		FROM workflow_versions
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewWorkflowError("Latest", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("Latest", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) Version(ctx context.Context, id string, version int) (*models.Workflow, error) {
	query := `SELECT definition FROM workflow_versions WHERE id = $1 AND version = $2`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowVersionError("Version", id, version, err)
	}

	return workflow, nil
}

// List filters the latest versions in SQL and sorts and paginates in memory,
// since priority ordering is defined by the model.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if opts.Category != "" {
		args = append(args, opts.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}

	if opts.Enabled != nil {
		args = append(args, *opts.Enabled)
		conditions = append(conditions, fmt.Sprintf("enabled = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := `
		SELECT definition FROM (
			SELECT DISTINCT ON (id) id, category, enabled, definition
			FROM workflow_versions
			ORDER BY id, version DESC
		) latest
	` + where

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	persistence.SortWorkflows(workflows, opts.SortBy, opts.SortOrder)

	return persistence.Paginate(workflows, opts), nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_versions WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, fmt.Errorf("failed to delete workflow: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var definition []byte

	if err := row.Scan(&definition); err != nil {
		return nil, err
	}

	var workflow models.Workflow
	if err := json.Unmarshal(definition, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return &workflow, nil
}
