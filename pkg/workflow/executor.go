// Package workflow runs workflow executions: it pins a workflow version,
// gates it on its conditions and drives its actions through the execution
// state machine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docflow/docflow/pkg/conditions"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/otelhelper"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/registry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Request asks the executor to run one workflow.
type Request struct {
	WorkflowID string
	// Version pins a stored version. Zero runs the latest.
	Version int
	// Workflow runs a definition that is not stored, such as the built-in
	// lifecycle workflow. It takes precedence over WorkflowID.
	Workflow *models.Workflow

	DocumentID string
	// Metadata, when nil and DocumentID is set, is loaded from the content service.
	Metadata    map[string]any
	Variables   map[string]any
	Permissions []string
	InitiatedBy string
	Trigger     models.TriggerKind

	// ExecutionID is generated when empty.
	ExecutionID string
}

// Listener observes execution lifecycle. Hooks are called synchronously and
// must not modify the execution.
type Listener interface {
	ExecutionStarted(ctx context.Context, execution *models.Execution)
	ExecutionFinished(ctx context.Context, execution *models.Execution)
}

// RetryPolicy bounds the retries of failed collaborator calls.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

type Option func(*Executor)

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Executor) { e.retry = policy }
}

func WithListener(listener Listener) Option {
	return func(e *Executor) { e.listeners = append(e.listeners, listener) }
}

func WithClock(clock clockwork.Clock) Option {
	return func(e *Executor) { e.clock = clock }
}

// WithContentService enables loading document metadata at dispatch.
func WithContentService(content protocol.ContentService) Option {
	return func(e *Executor) { e.content = content }
}

type Executor struct {
	logger    *slog.Logger
	workflows persistence.WorkflowRepository
	history   persistence.ExecutionRepository
	registry  *registry.Registry
	evaluator *conditions.Evaluator
	content   protocol.ContentService
	tracer    trace.Tracer
	clock     clockwork.Clock
	retry     RetryPolicy
	listeners []Listener

	mu      sync.Mutex
	running map[string]*run
}

// run tracks an execution between dispatch and its terminal state.
type run struct {
	cancelled atomic.Bool
	// sealed is set under Executor.mu once the terminal status is decided.
	sealed bool
}

func NewExecutor(
	logger *slog.Logger,
	workflows persistence.WorkflowRepository,
	history persistence.ExecutionRepository,
	registry *registry.Registry,
	evaluator *conditions.Evaluator,
	opts ...Option,
) *Executor {
	e := &Executor{
		logger:    logger.With("module", "workflow_executor"),
		workflows: workflows,
		history:   history,
		registry:  registry,
		evaluator: evaluator,
		tracer:    otelhelper.Noop(),
		clock:     clockwork.NewRealClock(),
		retry:     DefaultRetryPolicy(),
		running:   make(map[string]*run),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs the workflow to a terminal state and returns the execution.
// Action failures are reported in the execution, never as an error. An error
// is returned only when the workflow cannot be resolved or is disabled.
func (e *Executor) Execute(ctx context.Context, req Request) (*models.Execution, error) {
	id, r, err := e.register(req.ExecutionID)
	if err != nil {
		return nil, err
	}
	defer e.unregister(id)

	return e.execute(ctx, req, id, r)
}

// Handle follows an execution started with Start.
type Handle struct {
	ID string

	done      chan struct{}
	execution *models.Execution
	err       error
}

// Done is closed once the execution reached a terminal state or failed to dispatch.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the execution finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*models.Execution, error) {
	select {
	case <-h.done:
		return h.execution, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start runs the workflow in the background. The execution is detached from
// ctx cancellation and stops early only through Cancel.
func (e *Executor) Start(ctx context.Context, req Request) *Handle {
	h := &Handle{done: make(chan struct{})}

	id, r, err := e.register(req.ExecutionID)
	if err != nil {
		h.err = err
		close(h.done)

		return h
	}

	h.ID = id
	detached := context.WithoutCancel(ctx)

	go func() {
		defer close(h.done)
		defer e.unregister(id)

		h.execution, h.err = e.execute(detached, req, id, r)
	}()

	return h
}

// Cancel asks a running execution to stop at its next step boundary. A nil
// error means the execution ends cancelled unless an action fails first.
// Once the terminal status is decided Cancel returns ErrInvalidTransition.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	r, ok := e.running[id]
	accepted := ok && !r.sealed

	if accepted {
		r.cancelled.Store(true)
	}
	e.mu.Unlock()

	if accepted {
		e.logger.InfoContext(ctx, "Cancellation requested", "execution_id", id)

		return nil
	}

	finished := models.NewEngineError("Cancel", id, fmt.Errorf("%w: execution already finished", models.ErrInvalidTransition))
	if ok {
		return finished
	}

	if _, err := e.history.ByID(ctx, id); err == nil {
		return finished
	}

	return models.NewEngineError("Cancel", id, persistence.ErrExecutionNotFound)
}

// Running returns the ids of executions that have not reached a terminal state.
func (e *Executor) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Sorted(maps.Keys(e.running))
}

func (e *Executor) register(id string) (string, *run, error) {
	if id == "" {
		id = uuid.New().String()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.running[id]; ok {
		return "", nil, models.NewEngineError("Execute", id, fmt.Errorf("%w: execution is already running", models.ErrInvalidRequest))
	}

	r := &run{}
	e.running[id] = r

	return id, r, nil
}

// seal fixes the terminal status under e.mu so that Cancel either lands
// before it or is rejected. A requested cancellation overrides completion.
func (e *Executor) seal(r *run, status models.ExecutionStatus) models.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	r.sealed = true

	if status == models.ExecutionCompleted && r.cancelled.Load() {
		return models.ExecutionCancelled
	}

	return status
}

func (e *Executor) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.running, id)
}

func (e *Executor) resolve(ctx context.Context, req Request) (*models.Workflow, error) {
	if req.Workflow != nil {
		return req.Workflow.Clone(), nil
	}

	if req.WorkflowID == "" {
		return nil, &models.EngineError{Op: "Execute", Message: "workflow id is required", Err: models.ErrInvalidRequest}
	}

	var (
		workflow *models.Workflow
		err      error
	)

	if req.Version > 0 {
		workflow, err = e.workflows.Version(ctx, req.WorkflowID, req.Version)
	} else {
		workflow, err = e.workflows.Latest(ctx, req.WorkflowID)
	}

	if err != nil {
		return nil, models.NewEngineError("Execute", req.WorkflowID, err)
	}

	if !workflow.Enabled {
		return nil, &models.EngineError{Op: "Execute", ID: req.WorkflowID, Message: "workflow is disabled", Err: models.ErrInvalidRequest}
	}

	return workflow, nil
}

func (e *Executor) execute(ctx context.Context, req Request, id string, r *run) (*models.Execution, error) {
	workflow, err := e.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	execution := &models.Execution{
		ID:               id,
		WorkflowID:       workflow.ID,
		WorkflowVersion:  workflow.Version,
		WorkflowCategory: workflow.Category,
		DocumentID:       req.DocumentID,
		Status:           models.ExecutionPending,
		Steps:            make([]models.Step, len(workflow.Actions)),
		InitiatedBy:      req.InitiatedBy,
		StartTime:        e.clock.Now().UTC(),
	}

	for i, action := range workflow.Actions {
		execution.Steps[i] = models.Step{
			ActionIndex: i,
			ActionID:    action.ID,
			Kind:        action.Kind,
			Status:      models.StepPending,
		}
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.Int(otelhelper.WorkflowVersionKey, workflow.Version),
		attribute.String(otelhelper.ExecutionIDKey, id),
		attribute.String(otelhelper.DocumentIDKey, req.DocumentID),
		attribute.String(otelhelper.TriggerKindKey, string(req.Trigger)),
	)
	defer span.End()

	logger := e.logger.With(
		"workflow_id", workflow.ID,
		"workflow_version", workflow.Version,
		"execution_id", id,
		"document_id", req.DocumentID,
	)

	logger.InfoContext(ctx, "Starting execution", "trigger", req.Trigger)

	for _, l := range e.listeners {
		l.ExecutionStarted(ctx, execution)
	}

	executionCtx := models.ExecutionContext{
		DocumentID:  req.DocumentID,
		Metadata:    req.Metadata,
		Variables:   req.Variables,
		Permissions: req.Permissions,
		InitiatedBy: req.InitiatedBy,
	}.Copy()

	if err := e.loadDocument(ctx, &executionCtx, req.Metadata != nil); err != nil {
		logger.WarnContext(ctx, "Failed to load document", "error", err)
		execution.Error = models.NewErrorDetail(err, req.DocumentID)
		e.finish(ctx, r, logger, span, execution, executionCtx, models.ExecutionFailed)

		return execution, nil
	}

	check := e.evaluator.Check(workflow.Conditions, executionCtx)
	if !check.Passed {
		logger.InfoContext(ctx, "Conditions not met, skipping execution", "failed_condition", check.FailedIndex, "error", check.Err)
		execution.Skipped = true
		e.finish(ctx, r, logger, span, execution, executionCtx, models.ExecutionCompleted)

		return execution, nil
	}

	if e.stopRequested(ctx, r) {
		e.cancel(ctx, r, logger, span, execution, executionCtx)

		return execution, nil
	}

	_ = transition(execution, models.ExecutionRunning, e.now())

	for i := 0; i < len(workflow.Actions); {
		if e.stopRequested(ctx, r) {
			e.cancel(ctx, r, logger, span, execution, executionCtx)

			return execution, nil
		}

		end := groupEnd(workflow.Actions, i)
		outcomes := e.runGroup(ctx, logger, workflow, execution, executionCtx, i, end)

		var abort *int

		for k := i; k < end; k++ {
			out := outcomes[k-i]
			step := &execution.Steps[k]
			step.Attempts = out.attempts

			if out.err != nil {
				_ = transitionStep(step, models.StepFailed, out.finished)
				step.Error = models.NewErrorDetail(out.err, workflow.Actions[k].ID)

				if workflow.ContinueOnErrorFor(workflow.Actions[k]) {
					logger.WarnContext(ctx, "Action failed, continuing", "action_id", step.ActionID, "error", out.err)

					continue
				}

				logger.ErrorContext(ctx, "Action failed", "action_id", step.ActionID, "error", out.err)

				if abort == nil {
					index := k
					abort = &index
				}

				continue
			}

			_ = transitionStep(step, models.StepCompleted, out.finished)
			applyResult(&executionCtx, step, out.result)
		}

		if abort != nil {
			execution.FailedStep = abort
			execution.Error = execution.Steps[*abort].Error
			skipRemaining(execution, end, e.now())
			e.finish(ctx, r, logger, span, execution, executionCtx, models.ExecutionFailed)

			return execution, nil
		}

		i = end
	}

	e.finish(ctx, r, logger, span, execution, executionCtx, models.ExecutionCompleted)

	return execution, nil
}

// groupEnd returns the exclusive end of the action group starting at i.
// Consecutive parallel-safe actions form one group.
func groupEnd(actions []models.Action, i int) int {
	if !actions[i].ParallelSafe {
		return i + 1
	}

	end := i + 1
	for end < len(actions) && actions[end].ParallelSafe {
		end++
	}

	return end
}

type outcome struct {
	result   *protocol.ActionResult
	err      error
	attempts int
	finished time.Time
}

func (e *Executor) runGroup(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.Workflow,
	execution *models.Execution,
	executionCtx models.ExecutionContext,
	start, end int,
) []outcome {
	outcomes := make([]outcome, end-start)

	for k := start; k < end; k++ {
		_ = transitionStep(&execution.Steps[k], models.StepRunning, e.now())
	}

	if end-start == 1 {
		outcomes[0] = e.invoke(ctx, logger, workflow, execution.ID, workflow.Actions[start], executionCtx)

		return outcomes
	}

	var g errgroup.Group

	for k := start; k < end; k++ {
		action := workflow.Actions[k]
		actionCtx := executionCtx.Copy()

		g.Go(func() error {
			outcomes[k-start] = e.invoke(ctx, logger, workflow, execution.ID, action, actionCtx)

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// invoke runs one action. Collaborator failures are retried only when the
// kind is idempotent or the action carries an idempotency key.
func (e *Executor) invoke(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.Workflow,
	executionID string,
	action models.Action,
	executionCtx models.ExecutionContext,
) outcome {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.action",
		attribute.String(otelhelper.ActionIDKey, action.ID),
		attribute.String(otelhelper.ActionKindKey, string(action.Kind)),
	)
	defer span.End()

	handler, err := e.registry.Handler(action.Kind)
	if err != nil {
		otelhelper.SetError(span, err)

		return outcome{err: err, finished: e.now()}
	}

	logger = logger.With("action_id", action.ID, "kind", action.Kind)
	retryable := e.registry.Idempotent(action.Kind) || action.IdempotencyKey != ""

	req := protocol.ActionRequest{
		Action:      action,
		Workflow:    workflow,
		ExecutionID: executionID,
		Context:     executionCtx,
		Logger:      logger,
	}

	attempts := 0

	operation := func() (*protocol.ActionResult, error) {
		attempts++

		result, err := handler.Execute(ctx, req)
		if err == nil {
			return result, nil
		}

		if !retryable || !protocol.Retryable(err) {
			return nil, backoff.Permanent(err)
		}

		logger.WarnContext(ctx, "Action attempt failed", "attempt", attempts, "error", err)

		return nil, err
	}

	result, err := backoff.RetryWithData(operation, e.backOff(ctx))
	if err != nil {
		otelhelper.SetError(span, err)

		return outcome{err: err, attempts: attempts, finished: e.now()}
	}

	if result == nil {
		result = &protocol.ActionResult{}
	}

	return outcome{result: result, attempts: attempts, finished: e.now()}
}

func (e *Executor) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.InitialInterval
	b.MaxInterval = e.retry.MaxInterval
	b.MaxElapsedTime = 0

	return backoff.WithMaxRetries(backoff.WithContext(b, ctx), e.retry.MaxRetries)
}

func (e *Executor) loadDocument(ctx context.Context, executionCtx *models.ExecutionContext, supplied bool) error {
	if executionCtx.DocumentID == "" || supplied || e.content == nil {
		return nil
	}

	doc, err := e.content.GetDocument(ctx, executionCtx.DocumentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewEngineError("GetDocument", executionCtx.DocumentID, err)
		}

		return protocol.NewCollaboratorError("content", "GetDocument", err)
	}

	maps.Copy(executionCtx.Metadata, doc.Metadata)

	if _, ok := executionCtx.Variables["document"]; !ok {
		executionCtx.Variables["document"] = map[string]any{
			"name":    doc.Name,
			"library": doc.Library,
			"path":    doc.Path,
			"size":    doc.Size,
		}
	}

	return nil
}

func (e *Executor) stopRequested(ctx context.Context, r *run) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

func (e *Executor) cancel(
	ctx context.Context,
	r *run,
	logger *slog.Logger,
	span trace.Span,
	execution *models.Execution,
	executionCtx models.ExecutionContext,
) {
	execution.Error = models.NewErrorDetail(models.ErrCancelled, execution.ID)
	skipRemaining(execution, 0, e.now())
	e.finish(ctx, r, logger, span, execution, executionCtx, models.ExecutionCancelled)
}

// finish moves the execution to its terminal status, appends it to the
// history and notifies listeners. It runs even when ctx is done.
func (e *Executor) finish(
	ctx context.Context,
	r *run,
	logger *slog.Logger,
	span trace.Span,
	execution *models.Execution,
	executionCtx models.ExecutionContext,
	status models.ExecutionStatus,
) {
	ctx = context.WithoutCancel(ctx)

	if status = e.seal(r, status); status == models.ExecutionCancelled && execution.Error == nil {
		execution.Error = models.NewErrorDetail(models.ErrCancelled, execution.ID)
	}

	if execution.Skipped || status == models.ExecutionFailed {
		skipRemaining(execution, 0, e.now())
	}

	if err := transition(execution, status, e.now()); err != nil {
		logger.ErrorContext(ctx, "Invalid terminal transition", "error", err)
	}

	execution.Context = executionCtx

	if err := e.history.Append(ctx, execution); err != nil {
		logger.ErrorContext(ctx, "Failed to record execution", "error", err)
	}

	for _, l := range e.listeners {
		l.ExecutionFinished(ctx, execution)
	}

	if execution.Error != nil && status == models.ExecutionFailed {
		otelhelper.SetError(span, execution.Error)
	} else {
		otelhelper.SetOK(span)
	}

	logger.InfoContext(ctx, "Execution finished",
		"status", execution.Status,
		"skipped", execution.Skipped,
		"duration", execution.Duration,
		"completed_steps", execution.CompletedSteps(),
	)
}

func (e *Executor) now() time.Time {
	return e.clock.Now().UTC()
}

func applyResult(executionCtx *models.ExecutionContext, step *models.Step, result *protocol.ActionResult) {
	if result.MetadataPatch != nil {
		result.MetadataPatch.ApplyTo(executionCtx.Metadata)
	}

	maps.Copy(executionCtx.Variables, result.Variables)

	step.Warnings = append(step.Warnings, result.Warnings...)
	step.Output = result.Output
}
