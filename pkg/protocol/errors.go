package protocol

import (
	"errors"
	"fmt"

	"github.com/docflow/docflow/pkg/models"
)

// CollaboratorError wraps a failure returned by one of the collaborator
// services. It matches both models.ErrCollaborator and the underlying error.
type CollaboratorError struct {
	Service string // "content", "analysis", "notification", "webhook", "approval"
	Op      string // Operation being performed (e.g., "Transfer", "Notify")
	Err     error  // Underlying error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s service %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() []error {
	return []error{models.ErrCollaborator, e.Err}
}

// NewCollaboratorError wraps err. A nil err returns nil.
func NewCollaboratorError(service, op string, err error) error {
	if err == nil {
		return nil
	}

	return &CollaboratorError{Service: service, Op: op, Err: err}
}

// Retryable reports whether a failed attempt may succeed when repeated.
// Missing documents and rejected requests never do.
func Retryable(err error) bool {
	if !errors.Is(err, models.ErrCollaborator) {
		return false
	}

	return !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrInvalidRequest)
}
