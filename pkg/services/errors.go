// Package services provides the engine operations consumed by the HTTP API
// and the binaries, and classifies their errors for the transport layer.
package services

import (
	"errors"
	"fmt"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

var (
	// ErrEmptyPatch is returned by Update when the patch changes nothing.
	ErrEmptyPatch = fmt.Errorf("%w: patch changes nothing", models.ErrInvalidRequest)

	// ErrWorkflowNil is returned when no definition is supplied.
	ErrWorkflowNil = fmt.Errorf("%w: workflow cannot be nil", models.ErrInvalidRequest)

	// ErrUnauthorized is returned when no webhook trigger accepts the secret.
	ErrUnauthorized = errors.New("webhook secret rejected")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     fmt.Errorf("%w: %w", models.ErrInvalidRequest, err),
	}
}

// IsValidationError checks if an error is a client error that should return HTTP 400.
func IsValidationError(err error) bool {
	return models.IsInvalidRequest(err) ||
		models.IsInvalidWorkflow(err) ||
		errors.Is(err, persistence.ErrInvalidSortField) ||
		errors.Is(err, persistence.ErrInvalidSortOrder)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return models.IsInvalidTransition(err) ||
		persistence.IsVersionConflict(err) ||
		errors.Is(err, persistence.ErrExecutionExists)
}

// Code returns the API error code of err. ServiceError codes win over the
// engine classification.
func Code(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Code != "" {
		return serviceErr.Code
	}

	return string(models.CodeOf(err))
}
