package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

// Save upserts the approval state.
func (r *ApprovalRepository) Save(ctx context.Context, approval *models.ApprovalWorkflow) error {
	record, err := json.Marshal(approval)
	if err != nil {
		return persistence.NewApprovalError("Save", approval.ID, fmt.Errorf("failed to marshal approval: %w", err))
	}

	query := `
		INSERT INTO approvals (id, status, document_id, execution_id, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , record = EXCLUDED.record
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		approval.ID,
		approval.Status,
		approval.DocumentID,
		approval.ExecutionID,
		record,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	if err != nil {
		return persistence.NewApprovalError("Save", approval.ID, fmt.Errorf("failed to save approval: %w", err))
	}

	return nil
}

func (r *ApprovalRepository) ByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	var record []byte

	err := r.db.QueryRowContext(ctx, `SELECT record FROM approvals WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewApprovalError("ByID", id, persistence.ErrApprovalNotFound)
	}

	if err != nil {
		return nil, persistence.NewApprovalError("ByID", id, err)
	}

	var approval models.ApprovalWorkflow
	if err := json.Unmarshal(record, &approval); err != nil {
		return nil, persistence.NewApprovalError("ByID", id, fmt.Errorf("failed to unmarshal approval: %w", err))
	}

	return &approval, nil
}

func (r *ApprovalRepository) Pending(ctx context.Context) ([]*models.ApprovalWorkflow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT record FROM approvals WHERE status = $1 ORDER BY created_at`, models.ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	out := make([]*models.ApprovalWorkflow, 0)

	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		var approval models.ApprovalWorkflow
		if err := json.Unmarshal(record, &approval); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval: %w", err)
		}

		out = append(out, &approval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return out, nil
}
