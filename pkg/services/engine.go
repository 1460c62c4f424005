package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/docflow/docflow/pkg/approval"
	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/registry"
	"github.com/docflow/docflow/pkg/workflow"
)

// Dependencies are the components an Engine fronts. All are required.
type Dependencies struct {
	Persistence persistence.Persistence
	Workflows   *Workflows
	Executor    *workflow.Executor
	Batches     *batch.Coordinator
	Approvals   *approval.Engine
	Aggregator  *metrics.Aggregator
	Registry    *registry.Registry
	Retry       workflow.RetryPolicy
}

// Engine exposes the workflow engine operations to the transport layer.
type Engine struct {
	Dependencies

	logger *slog.Logger
}

func NewEngine(logger *slog.Logger, deps Dependencies) *Engine {
	return &Engine{
		Dependencies: deps,
		logger:       logger.With("module", "engine_service"),
	}
}

// HealthCheck checks the persistence layer and the action registry.
func (e *Engine) HealthCheck(ctx context.Context) (string, bool) {
	if e.Persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := e.Persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	if len(e.Registry.Actions()) == 0 {
		return "No action kinds registered", false
	}

	return "Engine is healthy", true
}

type ExecuteRequest struct {
	WorkflowID  string             `json:"workflow_id"            validate:"required"`
	Version     int                `json:"version,omitempty"      validate:"min=0"`
	DocumentID  string             `json:"document_id,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Variables   map[string]any     `json:"variables,omitempty"`
	Permissions []string           `json:"permissions,omitempty"`
	InitiatedBy string             `json:"initiated_by,omitempty"`
	Trigger     models.TriggerKind `json:"trigger,omitempty"      validate:"omitempty,oneof=document-created document-modified document-accessed metadata-changed schedule manual api-webhook"`
}

func (r ExecuteRequest) toWorkflowRequest() workflow.Request {
	trigger := r.Trigger
	if trigger == "" {
		trigger = models.TriggerManual
	}

	return workflow.Request{
		WorkflowID:  r.WorkflowID,
		Version:     r.Version,
		DocumentID:  r.DocumentID,
		Metadata:    r.Metadata,
		Variables:   r.Variables,
		Permissions: r.Permissions,
		InitiatedBy: r.InitiatedBy,
		Trigger:     trigger,
	}
}

// ExecuteWorkflow runs a workflow to a terminal state. A request without a
// document runs schedule style, with empty metadata.
func (e *Engine) ExecuteWorkflow(ctx context.Context, req ExecuteRequest) (*models.Execution, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, models.NewEngineError("ExecuteWorkflow", req.WorkflowID, err)
	}

	return e.Executor.Execute(ctx, req.toWorkflowRequest())
}

// StartWorkflow dispatches a workflow in the background and returns the
// execution id. The version is resolved up front so a missing or disabled
// workflow is reported to the caller; the outcome is recorded in the
// execution history.
func (e *Engine) StartWorkflow(ctx context.Context, req ExecuteRequest) (string, error) {
	if err := models.ValidateStruct(req); err != nil {
		return "", models.NewEngineError("StartWorkflow", req.WorkflowID, err)
	}

	var (
		definition *models.Workflow
		err        error
	)

	if req.Version > 0 {
		definition, err = e.Workflows.GetVersion(ctx, req.WorkflowID, req.Version)
	} else {
		definition, err = e.Workflows.Get(ctx, req.WorkflowID)
	}

	if err != nil {
		return "", models.NewEngineError("StartWorkflow", req.WorkflowID, err)
	}

	if !definition.Enabled {
		return "", &models.EngineError{Op: "StartWorkflow", ID: req.WorkflowID, Message: "workflow is disabled", Err: models.ErrInvalidRequest}
	}

	pinned := req.toWorkflowRequest()
	pinned.Version = definition.Version

	handle := e.Executor.Start(ctx, pinned)

	e.logger.InfoContext(ctx, "Execution dispatched", "workflow_id", req.WorkflowID, "version", definition.Version, "execution_id", handle.ID)

	return handle.ID, nil
}

// TriggerWebhook runs a workflow through one of its api-webhook triggers.
// A trigger without a secret accepts any caller.
func (e *Engine) TriggerWebhook(ctx context.Context, secret string, req ExecuteRequest) (*models.Execution, error) {
	definition, err := e.Workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return nil, models.NewEngineError("TriggerWebhook", req.WorkflowID, err)
	}

	if !acceptsWebhook(definition, secret) {
		return nil, models.NewEngineError("TriggerWebhook", req.WorkflowID, ErrUnauthorized)
	}

	req.Version = definition.Version
	req.Trigger = models.TriggerAPIWebhook

	return e.ExecuteWorkflow(ctx, req)
}

func acceptsWebhook(definition *models.Workflow, secret string) bool {
	for _, t := range definition.Triggers {
		if t.Kind != models.TriggerAPIWebhook {
			continue
		}

		if t.Secret == "" || subtle.ConstantTimeCompare([]byte(t.Secret), []byte(secret)) == 1 {
			return true
		}
	}

	return false
}

// ProcessRequest runs the document lifecycle, or a stored workflow when
// WorkflowID is set, over documents.
type ProcessRequest struct {
	DocumentIDs []string `json:"document_ids"                    validate:"required,min=1,max=1000,dive,required"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	// MaxConcurrent and MaxProcessingTime are clamped to the engine limits.
	MaxConcurrent     int           `json:"max_concurrent,omitempty"        validate:"min=0"`
	MaxProcessingTime time.Duration `json:"max_processing_time,omitempty"   validate:"min=0"`
	SkipIfAnalyzed    bool          `json:"skip_if_analyzed,omitempty"`
	InitiatedBy       string        `json:"initiated_by,omitempty"`
}

// ProcessDocuments runs a batch. Per-document failures are reported in the
// result, never as an error.
func (e *Engine) ProcessDocuments(ctx context.Context, req ProcessRequest) (*batch.Result, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, models.NewEngineError("ProcessDocuments", req.WorkflowID, err)
	}

	return e.Batches.Run(ctx, req.DocumentIDs, req.WorkflowID, batch.Options{
		MaxConcurrent:     req.MaxConcurrent,
		MaxProcessingTime: req.MaxProcessingTime,
		SkipIfAnalyzed:    req.SkipIfAnalyzed,
		InitiatedBy:       req.InitiatedBy,
	}), nil
}

// ProcessDocument runs the lifecycle for one document and returns its item.
func (e *Engine) ProcessDocument(ctx context.Context, documentID, workflowID string, skipIfAnalyzed bool) (*batch.Item, error) {
	result, err := e.ProcessDocuments(ctx, ProcessRequest{
		DocumentIDs:    []string{documentID},
		WorkflowID:     workflowID,
		MaxConcurrent:  1,
		SkipIfAnalyzed: skipIfAnalyzed,
	})
	if err != nil {
		return nil, err
	}

	if len(result.Successful) == 1 {
		return &result.Successful[0], nil
	}

	return &result.Failed[0], nil
}

func (e *Engine) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	return e.Persistence.ExecutionRepository().ByID(ctx, id)
}

// ListExecutions returns the most recent executions of a workflow, oldest first.
func (e *Engine) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 || limit > persistence.MaxListLimit {
		limit = persistence.DefaultListLimit
	}

	return e.Persistence.ExecutionRepository().List(ctx, persistence.ListExecutionsOptions{
		WorkflowID: workflowID,
		Limit:      limit,
	})
}

// CancelExecution asks a running execution to stop at its next step boundary.
func (e *Engine) CancelExecution(ctx context.Context, id string) error {
	return e.Executor.Cancel(ctx, id)
}

// RunningExecutions returns the ids of executions in flight in this process.
func (e *Engine) RunningExecutions() []string {
	return e.Executor.Running()
}

func (e *Engine) CreateApproval(ctx context.Context, req models.ApprovalRequest) (*models.ApprovalWorkflow, error) {
	return e.Approvals.Create(ctx, req)
}

type DecideRequest struct {
	ApprovalID string          `json:"-"        validate:"required"`
	StageID    string          `json:"stage_id" validate:"required"`
	Approver   string          `json:"approver" validate:"required"`
	Decision   models.Decision `json:"decision" validate:"required"`
	Comment    string          `json:"comment,omitempty"`
}

func (e *Engine) DecideApproval(ctx context.Context, req DecideRequest) (*models.ApprovalWorkflow, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, models.NewEngineError("Decide", req.ApprovalID, err)
	}

	return e.Approvals.Decide(ctx, req.ApprovalID, req.StageID, req.Approver, req.Decision, req.Comment)
}

func (e *Engine) GetApproval(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	return e.Approvals.Get(ctx, id)
}

func (e *Engine) CancelApproval(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	return e.Approvals.Cancel(ctx, id)
}

// Metrics recomputes workflow metrics from the stored history. An empty
// workflowID covers every workflow with history; a workflow without history,
// deleted ones included, yields a zero metric.
func (e *Engine) Metrics(ctx context.Context, workflowID string) ([]models.WorkflowMetric, error) {
	return e.Aggregator.Recompute(ctx, workflowID)
}

// Limits are the engine ceilings a client may plan around.
type Limits struct {
	MaxConcurrent            int     `json:"max_concurrent"`
	MaxProcessingTime        float64 `json:"max_processing_time_seconds"`
	DefaultMaxProcessingTime float64 `json:"default_max_processing_time_seconds"`
	MaxBatchSize             int     `json:"max_batch_size"`
	MaxRetries               uint64  `json:"max_retries"`
}

type Capabilities struct {
	Actions    []registry.ActionDescriptor `json:"actions"`
	Triggers   []models.TriggerKind        `json:"triggers"`
	Operators  []models.Operator           `json:"operators"`
	Categories []models.Category           `json:"categories"`
	Limits     Limits                      `json:"limits"`
}

// Capabilities describes the supported action kinds with their params
// schemas, trigger kinds, condition operators and limits.
func (e *Engine) Capabilities() Capabilities {
	limits := e.Batches.Limits()

	return Capabilities{
		Actions:    e.Registry.Actions(),
		Triggers:   models.TriggerKinds(),
		Operators:  models.Operators(),
		Categories: models.Categories(),
		Limits: Limits{
			MaxConcurrent:            limits.MaxConcurrent,
			MaxProcessingTime:        limits.MaxProcessingTime.Seconds(),
			DefaultMaxProcessingTime: min(batch.DefaultMaxProcessingTime, limits.MaxProcessingTime).Seconds(),
			MaxBatchSize:             MaxBatchSize,
			MaxRetries:               e.Retry.MaxRetries,
		},
	}
}

// MaxBatchSize bounds the documents accepted by one ProcessDocuments call.
const MaxBatchSize = 1000

// Close stops approval timers. Stored approvals resume on the next start.
func (e *Engine) Close(ctx context.Context) error {
	e.Approvals.Close()

	if err := e.Persistence.Close(ctx); err != nil {
		return fmt.Errorf("failed to close persistence: %w", err)
	}

	return nil
}
