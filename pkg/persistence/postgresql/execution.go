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

// ExecutionRepository appends executions; rows are never updated.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Append(ctx context.Context, execution *models.Execution) error {
	record, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Append", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	query := `
		INSERT INTO executions (
			id
		  , workflow_id
		  , workflow_version
		  , document_id
		  , status
		  , start_time
		  , end_time
		  , record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowVersion,
		execution.DocumentID,
		execution.Status,
		execution.StartTime,
		execution.EndTime,
		record,
	)
	if isUniqueViolation(err) {
		return persistence.NewExecutionError("Append", execution.ID, persistence.ErrExecutionExists)
	}

	if err != nil {
		return persistence.NewExecutionError("Append", execution.ID, fmt.Errorf("failed to insert execution: %w", err))
	}

	return nil
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.Execution, error) {
	var record []byte

	err := r.db.QueryRowContext(ctx, `SELECT record FROM executions WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	var execution models.Execution
	if err := json.Unmarshal(record, &execution); err != nil {
		return nil, persistence.NewExecutionError("ByID", id, fmt.Errorf("failed to unmarshal execution: %w", err))
	}

	return &execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	if !opts.Since.IsZero() {
		args = append(args, opts.Since)
		conditions = append(conditions, fmt.Sprintf("start_time >= $%d", len(args)))
	}

	query := `SELECT record FROM executions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY start_time DESC, id DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	out := make([]*models.Execution, 0)

	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		var execution models.Execution
		if err := json.Unmarshal(record, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		out = append(out, &execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return persistence.SortExecutions(out, 0), nil
}
