package models

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, user-visible classification of an engine error.
type ErrorCode string

const (
	CodeInvalidWorkflow       ErrorCode = "INVALID_WORKFLOW"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeConditionEvaluation   ErrorCode = "CONDITION_EVALUATION_ERROR"
	CodeUnsupportedActionKind ErrorCode = "UNSUPPORTED_ACTION_KIND"
	CodeCollaborator          ErrorCode = "COLLABORATOR_ERROR"
	CodeBatchTimeout          ErrorCode = "BATCH_TIMEOUT"
	CodeCancelled             ErrorCode = "CANCELLED"
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	CodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	CodeInternal              ErrorCode = "INTERNAL_ERROR"
)

var (
	// ErrInvalidWorkflow indicates a definition failed validation. Nothing is stored.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrNotFound indicates an unknown workflow, execution, approval or document id.
	ErrNotFound = errors.New("not found")

	// ErrConditionEvaluation indicates a malformed condition. The condition evaluates to false.
	ErrConditionEvaluation = errors.New("condition evaluation error")

	// ErrUnsupportedActionKind indicates no handler is registered for an action kind.
	ErrUnsupportedActionKind = errors.New("unsupported action kind")

	// ErrCollaborator wraps any content, analysis or notification failure.
	ErrCollaborator = errors.New("collaborator error")

	// ErrBatchTimeout marks batch items that never started before the budget ran out.
	ErrBatchTimeout = errors.New("batch timeout")

	// ErrCancelled indicates an execution or approval was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidRequest indicates a malformed operation request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidTransition indicates a state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// EngineError wraps an engine failure with the operation and offending id.
type EngineError struct {
	Op      string // Operation being performed (e.g., "Define", "Execute", "Decide")
	ID      string // Offending id if applicable
	Message string // Additional context message
	Err     error  // Underlying error
}

func (e *EngineError) Error() string {
	target := ""
	if e.ID != "" {
		target = " " + e.ID
	}

	if e.Message != "" {
		return fmt.Sprintf("%s%s: %s: %v", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s%s: %v", e.Op, target, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEngineError creates an engine error with context.
func NewEngineError(op, id string, err error) *EngineError {
	return &EngineError{Op: op, ID: id, Err: err}
}

// NewInvalidWorkflowError reports a validation failure.
func NewInvalidWorkflowError(op, id, message string) *EngineError {
	return &EngineError{Op: op, ID: id, Message: message, Err: ErrInvalidWorkflow}
}

// CodeOf classifies an error by the sentinel it wraps.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidWorkflow):
		return CodeInvalidWorkflow
	case errors.Is(err, ErrCollaborator):
		return CodeCollaborator
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConditionEvaluation):
		return CodeConditionEvaluation
	case errors.Is(err, ErrUnsupportedActionKind):
		return CodeUnsupportedActionKind
	case errors.Is(err, ErrBatchTimeout):
		return CodeBatchTimeout
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	default:
		return CodeInternal
	}
}

// ErrorDetail is the structured, serialisable form of an error carried in
// steps, executions and batch results.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	ID      string    `json:"id,omitempty"`
}

func (d *ErrorDetail) Error() string {
	if d.ID != "" {
		return fmt.Sprintf("%s (%s): %s", d.Code, d.ID, d.Message)
	}

	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// NewErrorDetail converts err into an ErrorDetail for the offending id.
func NewErrorDetail(err error, id string) *ErrorDetail {
	if err == nil {
		return nil
	}

	var detail *ErrorDetail
	if errors.As(err, &detail) {
		out := *detail
		if out.ID == "" {
			out.ID = id
		}

		return &out
	}

	return &ErrorDetail{Code: CodeOf(err), Message: err.Error(), ID: id}
}

func IsInvalidWorkflow(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
