package persistence

import (
	"errors"
	"fmt"

	"github.com/docflow/docflow/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow (or workflow version) was not found.
	ErrWorkflowNotFound = fmt.Errorf("workflow %w", models.ErrNotFound)

	// ErrExecutionNotFound indicates an execution was not found in the history.
	ErrExecutionNotFound = fmt.Errorf("execution %w", models.ErrNotFound)

	// ErrApprovalNotFound indicates an approval workflow was not found.
	ErrApprovalNotFound = fmt.Errorf("approval %w", models.ErrNotFound)

	// ErrVersionConflict indicates the workflow version was already stored.
	ErrVersionConflict = errors.New("workflow version already exists")

	// ErrExecutionExists indicates an execution id was appended twice.
	ErrExecutionExists = errors.New("execution already recorded")

	// ErrInvalidSortField indicates an unsupported sort field.
	ErrInvalidSortField = errors.New("invalid sort field")

	// ErrInvalidSortOrder indicates a sort order other than asc or desc.
	ErrInvalidSortOrder = errors.New("invalid sort order")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "Latest", "SaveVersion", "Delete")
	WorkflowID string // Workflow ID if applicable
	Version    int    // Workflow version if applicable
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	target := e.WorkflowID
	if e.Version > 0 {
		target = fmt.Sprintf("%s@v%d", e.WorkflowID, e.Version)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, target, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// NewWorkflowVersionError creates a new workflow error for a specific version.
func NewWorkflowVersionError(op, workflowID string, version int, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Version: version, Err: err}
}

// RecordError wraps execution and approval errors.
type RecordError struct {
	Op     string // Operation being performed
	Record string // "execution" or "approval"
	ID     string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Record, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, id string, err error) *RecordError {
	return &RecordError{Op: op, Record: "execution", ID: id, Err: err}
}

func NewApprovalError(op, id string, err error) *RecordError {
	return &RecordError{Op: op, Record: "approval", ID: id, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsApprovalNotFound checks if an error indicates an approval was not found.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}

// IsVersionConflict checks if an error indicates a version was saved twice.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
