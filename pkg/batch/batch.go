// Package batch runs one workflow across many documents under a concurrency
// cap and a wall-clock budget.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/docflow/docflow/pkg/actions/analysis"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/otelhelper"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrent         = 5
	DefaultMaxProcessingTime     = 10 * time.Minute
	DefaultProcessingTimeCeiling = time.Hour

	// LifecycleWorkflowID identifies the built-in document lifecycle workflow.
	LifecycleWorkflowID = "builtin-document-lifecycle"
)

// Runner executes one workflow request. *workflow.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, req workflow.Request) (*models.Execution, error)
}

// Listener is told about every finished batch.
type Listener interface {
	BatchFinished(ctx context.Context, result *Result)
}

// Limits are the configured ceilings that requested options are clamped to.
type Limits struct {
	MaxConcurrent     int
	MaxProcessingTime time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxConcurrent:     DefaultMaxConcurrent,
		MaxProcessingTime: DefaultProcessingTimeCeiling,
	}
}

type Options struct {
	// MaxConcurrent is clamped to [1, Limits.MaxConcurrent]. Zero uses the ceiling.
	MaxConcurrent int
	// MaxProcessingTime is clamped to Limits.MaxProcessingTime. Zero uses
	// DefaultMaxProcessingTime.
	MaxProcessingTime time.Duration
	// SkipIfAnalyzed skips documents whose metadata already carries ai_analyzed.
	SkipIfAnalyzed bool
	InitiatedBy    string
}

// Item is the outcome for one input document.
type Item struct {
	Index       int                    `json:"index"`
	DocumentID  string                 `json:"document_id"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Status      models.ExecutionStatus `json:"status,omitempty"`
	Skipped     bool                   `json:"skipped,omitempty"`
	Error       *models.ErrorDetail    `json:"error,omitempty"`
}

// Result holds every input document exactly once, in Successful or Failed,
// each in input order.
type Result struct {
	ID              string    `json:"id"`
	WorkflowID      string    `json:"workflow_id"`
	WorkflowVersion int       `json:"workflow_version,omitempty"`
	Successful      []Item    `json:"successful"`
	Failed          []Item    `json:"failed"`
	TimedOut        bool      `json:"timed_out,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

func (r *Result) Total() int {
	return len(r.Successful) + len(r.Failed)
}

type Option func(*Coordinator)

func WithLimits(limits Limits) Option {
	return func(c *Coordinator) { c.limits = limits }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = tracer }
}

func WithListener(listener Listener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, listener) }
}

type Coordinator struct {
	logger    *slog.Logger
	runner    Runner
	workflows persistence.WorkflowRepository
	limits    Limits
	clock     clockwork.Clock
	tracer    trace.Tracer
	listeners []Listener
}

func NewCoordinator(logger *slog.Logger, runner Runner, workflows persistence.WorkflowRepository, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:    logger.With("module", "batch_coordinator"),
		runner:    runner,
		workflows: workflows,
		limits:    DefaultLimits(),
		clock:     clockwork.NewRealClock(),
		tracer:    otelhelper.Noop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.limits.MaxConcurrent < 1 {
		c.limits.MaxConcurrent = DefaultMaxConcurrent
	}

	if c.limits.MaxProcessingTime <= 0 {
		c.limits.MaxProcessingTime = DefaultProcessingTimeCeiling
	}

	return c
}

// Limits returns the configured ceilings.
func (c *Coordinator) Limits() Limits {
	return c.limits
}

// Normalize clamps the options to the coordinator's limits.
func (c *Coordinator) Normalize(opts Options) Options {
	switch {
	case opts.MaxConcurrent <= 0:
		opts.MaxConcurrent = c.limits.MaxConcurrent
	case opts.MaxConcurrent > c.limits.MaxConcurrent:
		opts.MaxConcurrent = c.limits.MaxConcurrent
	}

	if opts.MaxProcessingTime <= 0 {
		opts.MaxProcessingTime = min(DefaultMaxProcessingTime, c.limits.MaxProcessingTime)
	}

	opts.MaxProcessingTime = min(opts.MaxProcessingTime, c.limits.MaxProcessingTime)

	return opts
}

// Run processes every document through its own execution. An empty
// workflowID runs the built-in lifecycle workflow. The workflow version is
// resolved once, so every document runs the same snapshot.
//
// Documents still queued when the time budget runs out fail with
// BATCH_TIMEOUT. Executions already running are left to finish.
func (c *Coordinator) Run(ctx context.Context, documentIDs []string, workflowID string, opts Options) *Result {
	opts = c.Normalize(opts)
	start := c.clock.Now().UTC()

	result := &Result{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Successful: []Item{},
		Failed:     []Item{},
		StartedAt:  start,
	}

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "batch.run",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.Int(otelhelper.BatchSizeKey, len(documentIDs)),
	)
	defer span.End()

	logger := c.logger.With("batch_id", result.ID, "workflow_id", workflowID)
	logger.InfoContext(ctx, "Starting batch",
		"documents", len(documentIDs),
		"max_concurrent", opts.MaxConcurrent,
		"max_processing_time", opts.MaxProcessingTime)

	items := make([]Item, len(documentIDs))
	for i, id := range documentIDs {
		items[i] = Item{Index: i, DocumentID: id}
	}

	definition, err := c.resolve(ctx, workflowID, opts.SkipIfAnalyzed)
	if err != nil {
		logger.WarnContext(ctx, "Failed to resolve batch workflow", "error", err)

		for i := range items {
			items[i].Error = models.NewErrorDetail(err, workflowID)
		}

		return c.finish(ctx, logger, span, result, items)
	}

	result.WorkflowID = definition.ID
	result.WorkflowVersion = definition.Version

	admission, cancel := clockwork.WithTimeout(ctx, c.clock, opts.MaxProcessingTime)
	defer cancel()

	sem := semaphore.NewWeighted(int64(opts.MaxConcurrent))

	var wg sync.WaitGroup

	for i := range items {
		if err := sem.Acquire(admission, 1); err != nil {
			reason := models.ErrBatchTimeout
			if ctx.Err() != nil {
				reason = models.ErrCancelled
			} else {
				result.TimedOut = true
			}

			logger.WarnContext(ctx, "Batch budget exhausted, failing queued documents", "queued", len(items)-i, "reason", reason)

			for j := i; j < len(items); j++ {
				items[j].Error = models.NewErrorDetail(reason, items[j].DocumentID)
			}

			break
		}

		wg.Add(1)

		go func(item *Item) {
			defer wg.Done()
			defer sem.Release(1)

			c.runOne(ctx, definition, item, opts)
		}(&items[i])
	}

	wg.Wait()

	return c.finish(ctx, logger, span, result, items)
}

func (c *Coordinator) runOne(ctx context.Context, definition *models.Workflow, item *Item, opts Options) {
	execution, err := c.runner.Execute(ctx, workflow.Request{
		Workflow:    definition,
		DocumentID:  item.DocumentID,
		InitiatedBy: opts.InitiatedBy,
		Trigger:     models.TriggerManual,
	})
	if err != nil {
		item.Error = models.NewErrorDetail(err, item.DocumentID)

		return
	}

	item.ExecutionID = execution.ID
	item.Status = execution.Status
	item.Skipped = execution.Skipped

	if execution.Status != models.ExecutionCompleted {
		item.Error = execution.Error
		if item.Error == nil {
			item.Error = &models.ErrorDetail{Code: models.CodeInternal, Message: "execution " + string(execution.Status), ID: item.DocumentID}
		}
	}
}

func (c *Coordinator) resolve(ctx context.Context, workflowID string, skipIfAnalyzed bool) (*models.Workflow, error) {
	if workflowID == "" || workflowID == LifecycleWorkflowID {
		return LifecycleWorkflow(skipIfAnalyzed), nil
	}

	if c.workflows == nil {
		return nil, models.NewEngineError("RunBatch", workflowID, persistence.ErrWorkflowNotFound)
	}

	definition, err := c.workflows.Latest(ctx, workflowID)
	if err != nil {
		return nil, models.NewEngineError("RunBatch", workflowID, err)
	}

	if !definition.Enabled {
		return nil, &models.EngineError{Op: "RunBatch", ID: workflowID, Message: "workflow is disabled", Err: models.ErrInvalidRequest}
	}

	if skipIfAnalyzed {
		definition.Conditions = append(definition.Conditions, notAnalyzed())
	}

	return definition, nil
}

func (c *Coordinator) finish(ctx context.Context, logger *slog.Logger, span trace.Span, result *Result, items []Item) *Result {
	for _, item := range items {
		if item.Error == nil {
			result.Successful = append(result.Successful, item)
		} else {
			result.Failed = append(result.Failed, item)
		}
	}

	result.FinishedAt = c.clock.Now().UTC()

	if len(result.Failed) > 0 {
		otelhelper.SetError(span, errors.New("batch had failures"),
			attribute.Int("docflow.batch.failed", len(result.Failed)))
	}

	for _, l := range c.listeners {
		l.BatchFinished(ctx, result)
	}

	logger.InfoContext(ctx, "Batch finished",
		"successful", len(result.Successful),
		"failed", len(result.Failed),
		"timed_out", result.TimedOut,
		"duration", result.FinishedAt.Sub(result.StartedAt))

	return result
}

// LifecycleWorkflow is the workflow run for batches without a workflow id:
// analyse the document and write the results back to its metadata.
func LifecycleWorkflow(skipIfAnalyzed bool) *models.Workflow {
	w := &models.Workflow{
		ID:       LifecycleWorkflowID,
		Name:     "Document lifecycle",
		Version:  1,
		Enabled:  true,
		Category: models.CategoryLifecycle,
		Priority: models.PriorityNormal,
		Triggers: []models.Trigger{{Kind: models.TriggerManual}},
		Actions: []models.Action{{
			ID:   "analyze",
			Kind: models.ActionRunAnalysis,
			Params: models.RunAnalysisParams{
				Formats:   []string{analysis.DefaultFormat},
				Tags:      true,
				WriteBack: true,
			},
		}},
	}

	if skipIfAnalyzed {
		w.Conditions = []models.Condition{notAnalyzed()}
	}

	return w
}

func notAnalyzed() models.Condition {
	return models.Condition{Field: "metadata." + analysis.FieldAnalyzed, Operator: models.OpNotExists}
}
