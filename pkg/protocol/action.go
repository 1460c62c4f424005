package protocol

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/docflow/docflow/pkg/models"
	"github.com/jonboulle/clockwork"
)

// ActionRequest is everything a handler may read. Context is a private copy;
// handlers report changes through ActionResult instead of mutating it.
type ActionRequest struct {
	Action      models.Action
	Workflow    *models.Workflow
	ExecutionID string
	Context     models.ExecutionContext
	Logger      *slog.Logger
}

// ActionResult is applied by the executor in action declaration order.
type ActionResult struct {
	MetadataPatch *MetadataPatch
	Variables     map[string]any
	Output        map[string]any
	Warnings      []string
}

type ActionHandler interface {
	Execute(ctx context.Context, req ActionRequest) (*ActionResult, error)
}

// Collaborators are injected into action factories. A factory whose required
// collaborator is nil refuses to create a handler and its kind stays unsupported.
type Collaborators struct {
	Content       ContentService
	Analysis      AnalysisService
	Notifications NotificationService
	Approvals     ApprovalStarter
	HTTPClient    *http.Client
	// Clock stamps timestamps written by handlers. Nil means the real clock.
	Clock clockwork.Clock
}

// ClockOrReal returns the configured clock or a real one.
func (c Collaborators) ClockOrReal() clockwork.Clock {
	if c.Clock == nil {
		return clockwork.NewRealClock()
	}

	return c.Clock
}

type ActionFactory interface {
	Kind() models.ActionKind
	Name() string
	Description() string
	Schema() map[string]any
	// Idempotent reports whether failed attempts may be retried without an
	// idempotency key.
	Idempotent() bool
	Create(collaborators Collaborators) (ActionHandler, error)
}
